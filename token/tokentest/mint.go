// Package tokentest mints unsigned-for-trust test tokens in the shapes the
// supported identity providers issue.
package tokentest

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const signingKey = "tokentest-signing-key"

// Mint signs claims with a throwaway HMAC key. The codec never verifies signatures.
func Mint(t testing.TB, claims jwtlib.MapClaims) string {
	t.Helper()
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return signed
}

// Keycloak returns claims shaped like a Keycloak access token with nested realm roles.
func Keycloak(username string, exp time.Time, realmRoles ...string) jwtlib.MapClaims {
	roles := make([]any, 0, len(realmRoles))
	for _, r := range realmRoles {
		roles = append(roles, r)
	}
	return jwtlib.MapClaims{
		"sub":                "kc-" + username,
		"preferred_username": username,
		"name":               "Nguyen Van A",
		"email":              username + "@klb-demo.com",
		"iat":                exp.Add(-time.Hour).Unix(),
		"exp":                exp.Unix(),
		"realm_access":       map[string]any{"roles": roles},
	}
}

// Legacy returns claims shaped like the banking API's own tokens with a flat role claim.
func Legacy(subject, role string, exp time.Time) jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  exp.Add(-time.Hour).Unix(),
		"exp":  exp.Unix(),
	}
}
