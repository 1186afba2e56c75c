package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth indicates a credential mismatch.
	ErrAuth = errors.New("auth error")
	// ErrNotFound indicates a referenced device or threshold does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any write.
	ErrValidation = errors.New("validation error")
	// ErrConflict indicates a lost uniqueness race.
	ErrConflict = errors.New("conflict")
)

// Validation wraps a formatted message with ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps a formatted message with ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Auth wraps a formatted message with ErrAuth.
func Auth(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

// Conflict wraps a formatted message with ErrConflict.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
