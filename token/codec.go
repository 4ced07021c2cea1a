// Package token decodes bearer tokens issued by the identity provider.
//
// Decoding never verifies signatures: the session core holds no issuer keys
// and only needs the claims to drive session state and role checks. The
// resource server remains responsible for verifying every token it receives.
package token

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// Claims is the decoded view of an access token
type Claims struct {
	Subject     string           // preferred_username, falling back to sub
	Roles       []string         // merged role set from every supported claim shape, sorted
	IssuedAt    time.Time        // zero when the token carries no iat
	ExpiresAt   *time.Time       // nil when the token carries no exp
	DisplayName string           // name claim, greeting only
	Email       string           // email claim, greeting only
	Raw         jwtlib.MapClaims // every claim as decoded
}

// MalformedTokenError reports a token that is not a three segment JWT with a JSON payload
type MalformedTokenError struct {
	Reason string
	Err    error
}

func (e *MalformedTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed token: %s: %v", e.Reason, e.Err)
	}
	return "malformed token: " + e.Reason
}

func (e *MalformedTokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{errors.ErrMalformedToken}
	}
	return []error{errors.ErrMalformedToken, e.Err}
}

// Decode extracts the session relevant claims from a raw JWT without any I/O
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &MalformedTokenError{Reason: "empty token"}
	}
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, &MalformedTokenError{Reason: fmt.Sprintf("expected 3 segments, got %d", len(segments))}
	}
	if segments[1] == "" {
		return nil, &MalformedTokenError{Reason: "empty payload segment"}
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return nil, &MalformedTokenError{Reason: "payload is not encoded JSON", Err: err}
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, &MalformedTokenError{Reason: "error extracting claims"}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, &MalformedTokenError{Reason: "invalid exp claim", Err: err}
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, &MalformedTokenError{Reason: "invalid iat claim", Err: err}
	}

	sub, _ := claims["preferred_username"].(string)
	if sub == "" {
		sub, _ = claims.GetSubject()
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	c := &Claims{
		Subject:     sub,
		Roles:       ExtractRoles(claims),
		DisplayName: name,
		Email:       email,
		Raw:         claims,
	}
	if iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp != nil {
		c.ExpiresAt = utils.Ptr(exp.Time)
	}
	return c, nil
}

// ExtractRoles merges every role claim shape the supported issuers use:
//   - "role":  a single flat role string (legacy banking API tokens)
//   - "roles": a flat array
//   - "realm_access": {"roles": [...]}
//   - "resource_access": {"<client>": {"roles": [...]}, ...}
func ExtractRoles(claims jwtlib.MapClaims) []string {
	var found [][]string

	switch role := claims["role"].(type) {
	case string:
		found = append(found, []string{role})
	case []any:
		found = append(found, utils.ToStringSlice(role))
	}

	if roles, ok := claims["roles"].([]any); ok {
		found = append(found, utils.ToStringSlice(roles))
	}

	if realm, ok := claims["realm_access"].(map[string]any); ok {
		found = append(found, groupRoles(realm))
	}

	if resources, ok := claims["resource_access"].(map[string]any); ok {
		for _, group := range resources {
			if g, ok := group.(map[string]any); ok {
				found = append(found, groupRoles(g))
			}
		}
	}

	return utils.SortedSet(found...)
}

func groupRoles(group map[string]any) []string {
	roles, ok := group["roles"].([]any)
	if !ok {
		return nil
	}
	return utils.ToStringSlice(roles)
}

// IsExpired is true when the token has an expiry and now is at or after it.
// Tokens without exp never expire.
func IsExpired(c *Claims, now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}
