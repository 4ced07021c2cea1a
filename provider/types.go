package provider

import "time"

// Tokens is what a successful token endpoint call yields
type Tokens struct {
	AccessToken  string
	RefreshToken string    // Empty when the provider issued none
	IDToken      string    // Present for openid scope logins
	Expiry       time.Time // Derived from expires_in, zero when absent
}

// ErrorResponse is the OAuth2 error body (RFC 6749 section 5.2). Keycloak also
// answers a rejected logout or admin call with it.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
