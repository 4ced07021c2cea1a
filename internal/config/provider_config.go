package config

import (
	"net/url"
	"strings"
	"time"
)

// LoginStrategy selects how the session manager acquires tokens
type LoginStrategy string

const (
	// DirectGrantStrategy posts the user's credentials to the token endpoint (resource owner password grant)
	DirectGrantStrategy LoginStrategy = "direct"
	// RedirectStrategy sends the user to the provider and exchanges the returned authorization code
	RedirectStrategy LoginStrategy = "redirect"
)

type ProviderConfig interface {
	GetProviderURL() string
	GetRealm() string
	GetClientID() string
	GetClientSecret() string
	GetLoginStrategy() LoginStrategy
	GetScopes() []string
	GetIssuerURL() string
	GetTokenURL() string
	GetAuthURL() string
	GetLogoutURL() string
	GetProviderHosts() []string
	GetProviderTimeout() time.Duration
}

type Provider struct {
	file *File
}

var _ ProviderConfig = Provider{}

func (p Provider) GetProviderURL() string {
	return strings.TrimSuffix(GetEnv("KEYCLOAK_URL", pick(p.file.Provider.URL, "http://localhost:8090")), "/")
}

func (p Provider) GetRealm() string {
	return GetEnv("KEYCLOAK_REALM", pick(p.file.Provider.Realm, "Kienlongbank"))
}

func (p Provider) GetClientID() string {
	return GetEnv("KEYCLOAK_CLIENT_ID", pick(p.file.Provider.ClientID, "klb-frontend"))
}

// GetClientSecret is empty for public clients
func (p Provider) GetClientSecret() string {
	return GetEnv("KEYCLOAK_CLIENT_SECRET", p.file.Provider.ClientSecret)
}

func (p Provider) GetLoginStrategy() LoginStrategy {
	s := LoginStrategy(strings.ToLower(GetEnv("LOGIN_STRATEGY", pick(p.file.Provider.Strategy, string(DirectGrantStrategy)))))
	if s != RedirectStrategy {
		return DirectGrantStrategy
	}
	return s
}

func (p Provider) GetScopes() []string {
	if len(p.file.Provider.Scopes) > 0 && GetEnv("KEYCLOAK_SCOPES", "") == "" {
		return p.file.Provider.Scopes
	}
	return strings.Fields(GetEnv("KEYCLOAK_SCOPES", "openid profile email"))
}

// GetIssuerURL returns the realm issuer, e.g. http://localhost:8090/realms/Kienlongbank
func (p Provider) GetIssuerURL() string {
	return p.GetProviderURL() + "/realms/" + p.GetRealm()
}

func (p Provider) GetTokenURL() string {
	return p.GetIssuerURL() + "/protocol/openid-connect/token"
}

func (p Provider) GetAuthURL() string {
	return p.GetIssuerURL() + "/protocol/openid-connect/auth"
}

func (p Provider) GetLogoutURL() string {
	return p.GetIssuerURL() + "/protocol/openid-connect/logout"
}

// GetProviderHosts lists hosts that must never receive the application's bearer token
func (p Provider) GetProviderHosts() []string {
	u, err := url.Parse(p.GetProviderURL())
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func (p Provider) GetProviderTimeout() time.Duration {
	return GetEnvDuration("KEYCLOAK_TIMEOUT", pickDuration(p.file.Provider.Timeout, 10*time.Second))
}
