package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar    = "PORT"
	appNameVar    = "APP_NAME"
	folderEnvVar  = "FOLDER"
	baseURLVar    = "BASE_URL"
	apiBaseURLVar = "API_BASE_URL"
)

type EnvVars struct {
	file *File
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, pick(e.file.Server.Port, "3000"))
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "KLB Session Gateway")
}

func (e EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, pick(e.file.Storage.Dir, "./data"))
}

// GetBaseURL returns the public URL of the gateway (e.g., "https://bank.example.com")
// Used to build the redirect URI handed to the identity provider
func (e EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, pick(e.file.Server.BaseURL, "http://localhost:3000"))
}

// GetAPIBaseURL returns the banking backend base URL that /api/... calls are sent to
func (e EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, pick(e.file.API.BaseURL, "http://localhost:8080"))
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a duration env var, falling back to defaultValue when unset or invalid
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvBool parses a boolean env var, falling back to defaultValue when unset or invalid
func GetEnvBool(envVar string, defaultValue bool) bool {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func pick(fileValue, defaultValue string) string {
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

func pickDuration(fileValue string, defaultValue time.Duration) time.Duration {
	if fileValue == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(fileValue)
	if err != nil {
		return defaultValue
	}
	return d
}
