package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for exit-code mapping and reporting.
type ErrorClass string

const (
	// ErrorClassValidation indicates bad input or configuration, including an
	// unresolvable helper dependency graph.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassDeveloper indicates a programming or contract violation.
	// Examples: a manifest missing required fields, a transaction label reused while open.
	ErrorClassDeveloper ErrorClass = "developer"

	// ErrorClassEnvironmental indicates a missing or unusable external resource.
	// Examples: an explicitly requested layout.manifest.json that does not exist.
	ErrorClassEnvironmental ErrorClass = "environmental"

	// ErrorClassUnexpected wraps anything uncaught at the command boundary.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// KernelError represents a classified error with context.
type KernelError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Helper is the helper key that raised the error, if applicable.
	Helper string `json:"helper,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	msg := e.Message
	if e.Helper != "" {
		msg = fmt.Sprintf("%s (helper=%s)", msg, e.Helper)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *KernelError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *KernelError {
	return &KernelError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewDeveloperError creates a new developer error.
func NewDeveloperError(message string, err error) *KernelError {
	return &KernelError{
		Class:   ErrorClassDeveloper,
		Message: message,
		Code:    ErrCodeDeveloper,
		Err:     err,
	}
}

// NewEnvironmentalError creates a new environmental error.
func NewEnvironmentalError(message string, err error) *KernelError {
	return &KernelError{
		Class:   ErrorClassEnvironmental,
		Message: message,
		Code:    ErrCodeEnvironment,
		Err:     err,
	}
}

// NewUnexpectedError creates a new unexpected error.
func NewUnexpectedError(message string, err error) *KernelError {
	return &KernelError{
		Class:   ErrorClassUnexpected,
		Message: message,
		Code:    ErrCodeUnexpected,
		Err:     err,
	}
}

// WithHelper adds helper context to an error.
func (e *KernelError) WithHelper(key string) *KernelError {
	e.Helper = key
	return e
}

// WithCode adds an error code to an error.
func (e *KernelError) WithCode(code string) *KernelError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *KernelError) WithDetail(key string, value interface{}) *KernelError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *KernelError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassValidation
}

// IsDeveloper returns true if the error is classified as a developer error.
func IsDeveloper(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassDeveloper
}

// IsEnvironmental returns true if the error is classified as environmental.
func IsEnvironmental(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassEnvironmental
}

// IsUnexpected returns true for unexpected errors and for errors that carry no classification.
func IsUnexpected(err error) bool {
	class, ok := classOf(err)
	return !ok || class == ErrorClassUnexpected
}

// ClassOf returns the classification of err, ErrorClassUnexpected when it has none.
func ClassOf(err error) ErrorClass {
	if class, ok := classOf(err); ok {
		return class
	}
	return ErrorClassUnexpected
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDeveloper         = "DEVELOPER_ERROR"
	ErrCodeEnvironment       = "ENVIRONMENTAL_ERROR"
	ErrCodeUnexpected        = "UNEXPECTED_ERROR"
	ErrCodeMissingDependency = "MISSING_DEPENDENCY"
	ErrCodeDependencyCycle   = "DEPENDENCY_CYCLE"
	ErrCodeTransaction       = "TRANSACTION_ERROR"
)

// ExitCode is the process exit status reported by the command layer.
type ExitCode int

// Exit codes shared by generate and apply.
const (
	ExitSuccess         ExitCode = 0
	ExitValidationError ExitCode = 1
	ExitUnexpectedError ExitCode = 2
)

// String returns the symbolic name of the exit code.
func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "SUCCESS"
	case ExitValidationError:
		return "VALIDATION_ERROR"
	default:
		return "UNEXPECTED_ERROR"
	}
}

// ExitCodeFor maps an error to the exit code the command layer should return.
// A nil error maps to ExitSuccess.
func ExitCodeFor(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	if IsValidation(err) || IsEnvironmental(err) {
		return ExitValidationError
	}
	return ExitUnexpectedError
}
