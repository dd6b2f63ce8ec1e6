// Package jerr defines the stable, append-only error-code enumeration
// shared by every component (spec.md §7). Codes are never renamed or
// repurposed once shipped.
package jerr

// Code is a stable, machine-checkable error identifier.
type Code string

const (
	// Configuration / programmer errors (stratum 1) — should not occur in
	// production; tests exist to catch them.
	CodeInvalidArgument  Code = "invalid_argument"
	CodeInvalidTransition Code = "invalid_transition"

	// Policy denials (stratum 2) — fail-closed, audited, never crash.
	CodePermissionDenied   Code = "permission_denied"
	CodeConfigurationError Code = "configuration_error"
	CodePathNotAllowed     Code = "path_not_allowed"
	CodeWriteNotAllowed    Code = "write_not_allowed"
	CodeDeleteNotAllowed   Code = "delete_not_allowed"

	// Structural / dispatch errors.
	CodeToolNotFound       Code = "tool_not_found"
	CodeValidationError    Code = "validation_error"
	CodeToolNotImplemented Code = "tool_not_implemented"
	CodeExecutionError     Code = "execution_error"
	CodeCycleDetected      Code = "cycle_detected"
	CodeSearchLimitExceeded Code = "search_limit_exceeded"
	CodeNotFound           Code = "not_found"
	CodeNotAFile           Code = "not_a_file"
	CodeNotADirectory      Code = "not_a_directory"
	CodeReadTooLarge       Code = "read_too_large"
	CodeWriteTooLarge      Code = "write_too_large"
	CodeListLimitExceeded  Code = "list_limit_exceeded"
	CodeIOError            Code = "io_error"

	// Controller / scheduling.
	CodeDeadlineExceeded Code = "deadline_exceeded"
)

// Error is the discriminated-result error shape used across every fallible
// API in the module: a value or {code, message, details}.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// New constructs an Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy of e with details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// Is reports whether err is a *Error carrying the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
