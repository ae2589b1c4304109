package experiment

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no experiment exists for the given id.
var ErrNotFound = errors.New("experiment not found")

// errStateChanged aborts a read-modify-write when the experiment moved to a
// different state while an external call was in flight (e.g. cancelled during
// a publish). The in-flight result is discarded rather than recorded.
var errStateChanged = errors.New("experiment state changed")

// ValidationError rejects bad input before any experiment state is created.
// It is the caller's fault and is never retried.
type ValidationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NewValidationError creates a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
