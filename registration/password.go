package registration

import (
	"fmt"
	"unicode"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long: %w", errors.ErrWeakPassword)
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter: %w", errors.ErrWeakPassword)
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter: %w", errors.ErrWeakPassword)
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number: %w", errors.ErrWeakPassword)
	}

	return nil
}
