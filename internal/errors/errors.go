package errors

import "errors"

// Common error types for the session core
var (
	// Token errors
	ErrMalformedToken = errors.New("malformed token")

	// Authentication errors
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnreachable = errors.New("identity provider unreachable")
	ErrInvalidState        = errors.New("invalid login state")

	// Session errors
	ErrSessionExpired = errors.New("session expired")
	ErrCorruptSession = errors.New("corrupt persisted session")
	ErrPartialSession = errors.New("partial session")
	ErrNoRefreshToken = errors.New("no refresh token")

	// Authorization errors
	ErrInsufficientRole = errors.New("insufficient role")

	// Registration errors
	ErrUserExists   = errors.New("user already exists")
	ErrWeakPassword = errors.New("password does not meet requirements")

	// General errors
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
