package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Configuration error codes
const (
	ErrMalformedWorkflow ErrorCode = "MALFORMED_WORKFLOW"
	ErrMissingAgent      ErrorCode = "MISSING_AGENT"
	ErrInvalidConfig     ErrorCode = "INVALID_CONFIG"
)

// Run and state error codes
const (
	ErrDuplicateRun            ErrorCode = "DUPLICATE_RUN"
	ErrRunNotFound             ErrorCode = "RUN_NOT_FOUND"
	ErrInvalidTransition       ErrorCode = "INVALID_TRANSITION"
	ErrStatePersistenceFailure ErrorCode = "STATE_PERSISTENCE_FAILURE"
	ErrCancelled               ErrorCode = "CANCELLED"
)

// Agent error codes. TIMEOUT, RATE_LIMITED and UPSTREAM_UNAVAILABLE are
// transient; every other code is permanent.
const (
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrBlocked             ErrorCode = "BLOCKED"
	ErrQualityGate         ErrorCode = "QUALITY_GATE_FAILED"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Transient reports whether failures with this code may succeed on retry.
func (c ErrorCode) Transient() bool {
	switch c {
	case ErrTimeout, ErrRateLimited, ErrUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error carrying the same code, so callers can write
// errors.Is(err, types.NewError(types.ErrTimeout, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error. Retryable defaults to the code's transience.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Transient()}
}

// Errorf is NewError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retry classification.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
