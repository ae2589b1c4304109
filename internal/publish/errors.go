package publish

import (
	"errors"
	"fmt"
)

// ErrorCode classifies publishing failures so callers can pick an
// appropriate retry strategy.
type ErrorCode string

const (
	// ErrCodeConnection indicates a network-level failure.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeRateLimit indicates the platform throttled the request.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"

	// ErrCodeUnavailable indicates the platform is temporarily down.
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// ErrCodeAuthentication indicates rejected credentials.
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"

	// ErrCodeInvalidContent indicates the platform rejected the content itself.
	ErrCodeInvalidContent ErrorCode = "INVALID_CONTENT"

	// ErrCodeNotFound indicates a referenced resource does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured publishing error. Its code determines whether the
// engine retries the call or marks the variant publish-failed.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error represents a transient failure.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeConnection, ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// NewError creates a structured error with the given code.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrTransient creates a generic retryable error.
func ErrTransient(message string, err error) *Error {
	return NewError(ErrCodeUnavailable, message, err)
}

// ErrPermanent creates a generic non-retryable error.
func ErrPermanent(message string, err error) *Error {
	return NewError(ErrCodeInvalidContent, message, err)
}

// IsRetryable reports whether err is a transient publishing failure.
// Unclassified errors are treated as non-retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pubErr *Error
	if errors.As(err, &pubErr) {
		return pubErr.IsRetryable()
	}
	return false
}
