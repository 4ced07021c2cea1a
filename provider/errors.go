package provider

import (
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// Error describes a failed call to the identity provider. It unwraps to
// errors.ErrInvalidCredentials when the provider rejected the request (HTTP
// 400/401) and to errors.ErrProviderUnreachable for transport failures and
// server errors.
type Error struct {
	Op          string // password_grant, refresh, code_exchange, logout
	Status      int    // HTTP status, 0 when no response was received
	Code        string // OAuth2 error code, e.g. invalid_grant
	Description string
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("identity provider %s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("identity provider %s: status %d: %s: %s", e.Op, e.Status, e.Code, e.Description)
	default:
		return fmt.Sprintf("identity provider %s: status %d", e.Op, e.Status)
	}
}

func (e *Error) Unwrap() []error {
	kind := errors.ErrProviderUnreachable
	if e.Rejected() {
		kind = errors.ErrInvalidCredentials
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// Rejected is true when the provider answered and refused the credentials
func (e *Error) Rejected() bool {
	return e.Status == 400 || e.Status == 401
}
