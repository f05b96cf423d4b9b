// Package domain defines the job, schedule and history types, the error
// taxonomy and the workflow API port shared by the syncloop client.
package domain

import (
	"errors"
	"fmt"
)

// ErrConfirmationRequired is returned by destructive operations invoked
// without explicit user confirmation.
var ErrConfirmationRequired = errors.New("explicit confirmation required")

// TransportError indicates a network failure, transport timeout or 5xx
// response. It is transient: the next scheduled poll is the retry.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string { return e.Message }
func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError indicates the engine has no record of a job or schedule.
type NotFoundError struct {
	Message string
	Err     error
}

func (e *NotFoundError) Error() string { return e.Message }
func (e *NotFoundError) Unwrap() error { return e.Err }

// ConflictError indicates a mutation rejected because of current server
// state, e.g. a duplicate run.
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Unwrap() error { return e.Err }

// AuthError indicates a missing, expired or rejected session.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }
func (e *AuthError) Unwrap() error { return e.Err }

// TimeoutError indicates a bounded client-side wait ran out, e.g. cancel
// confirmation. The outcome is unknown, not failed.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }

// ValidationError indicates invalid input or an action the job's current
// state does not offer.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrTransport creates a TransportError wrapping err.
func ErrTransport(err error, format string, args ...interface{}) *TransportError {
	return &TransportError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrAuth creates an AuthError with a formatted message.
func ErrAuth(format string, args ...interface{}) *AuthError {
	return &AuthError{Message: fmt.Sprintf(format, args...)}
}

// ErrTimeout creates a TimeoutError with a formatted message.
func ErrTimeout(format string, args ...interface{}) *TimeoutError {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsAuth reports whether err is or wraps an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// Kind returns a short machine-readable label for err's taxonomy class.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuth(err):
		return "auth"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	case IsTimeout(err):
		return "timeout"
	case IsTransport(err):
		return "transport"
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return "validation"
	}
	return "unknown"
}
