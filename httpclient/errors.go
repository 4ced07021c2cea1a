package httpclient

import (
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// APIError is a non-2xx answer from the banking API other than 401 and 403
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// InsufficientRoleError is a 403: the session is valid but lacks a role. It unwraps to errors.ErrInsufficientRole.
type InsufficientRoleError struct {
	Method  string
	Path    string
	Message string
}

func (e *InsufficientRoleError) Error() string {
	return fmt.Sprintf("%s %s: access denied", e.Method, e.Path)
}

func (e *InsufficientRoleError) Unwrap() error {
	return errors.ErrInsufficientRole
}
