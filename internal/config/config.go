package config

type Config interface {
	EnvConfig
	CorsConfig
	ProviderConfig
	SessionConfig
	AdminConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetBaseURL() string
	GetAPIBaseURL() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Provider
	Session
	Admin
}

// New returns a configuration read from environment variables only.
func New() Config {
	return newConfig(&File{})
}

func newConfig(f *File) Config {
	return mainConfig{
		EnvVars:  EnvVars{file: f},
		Cors:     Cors{file: f},
		Provider: Provider{file: f},
		Session:  Session{file: f},
		Admin:    Admin{file: f},
	}
}
