package stream

import (
	"errors"
	"fmt"
)

// Error represents a pipeline error with a stable code.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	CodeSourceUnavailable  = "SOURCE_UNAVAILABLE"
	CodeNoSource           = "NO_SOURCE"
	CodeElementNotFound    = "ELEMENT_NOT_FOUND"
	CodeDecodeError        = "DECODE_ERROR"
	CodeLaunchFailed       = "LAUNCH_FAILED"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodePipeBroken         = "PIPE_BROKEN"
	CodeGeometryMismatch   = "GEOMETRY_MISMATCH"
	CodeNotRunning         = "NOT_RUNNING"
	CodeAlreadyActive      = "ALREADY_ACTIVE"
	CodeAlreadyRunning     = "ALREADY_RUNNING"
	CodeNoActiveSession    = "NO_ACTIVE_SESSION"
	CodeDeliveryInactive   = "DELIVERY_INACTIVE"
)

// Sentinels for errors.Is.
var (
	ErrSourceUnavailable  = &Error{Code: CodeSourceUnavailable}
	ErrNoSource           = &Error{Code: CodeNoSource}
	ErrElementNotFound    = &Error{Code: CodeElementNotFound}
	ErrDecode             = &Error{Code: CodeDecodeError}
	ErrLaunchFailed       = &Error{Code: CodeLaunchFailed}
	ErrMissingCredentials = &Error{Code: CodeMissingCredentials}
	ErrInvalidConfig      = &Error{Code: CodeInvalidConfig}
	ErrPipeBroken         = &Error{Code: CodePipeBroken}
	ErrGeometryMismatch   = &Error{Code: CodeGeometryMismatch}
	ErrNotRunning         = &Error{Code: CodeNotRunning}
	ErrAlreadyActive      = &Error{Code: CodeAlreadyActive}
	ErrAlreadyRunning     = &Error{Code: CodeAlreadyRunning}
	ErrNoActiveSession    = &Error{Code: CodeNoActiveSession}
	ErrDeliveryInactive   = &Error{Code: CodeDeliveryInactive}
)

// NewError creates a new pipeline error
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
