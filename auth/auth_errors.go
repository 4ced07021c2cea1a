package auth

import (
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// ExpiredError reports a session that was ended locally because it expired or
// could not be refreshed. It unwraps to errors.ErrSessionExpired only, so a
// rejected refresh is never mistaken for a failed login.
type ExpiredError struct {
	Reason string // expired, refresh_failed, no_refresh_token
	Err    error  // Underlying refresh failure, if any
}

func (e *ExpiredError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session expired: %s", e.Reason)
	}
	return fmt.Sprintf("session expired: %s: %v", e.Reason, e.Err)
}

func (e *ExpiredError) Unwrap() error {
	return errors.ErrSessionExpired
}
