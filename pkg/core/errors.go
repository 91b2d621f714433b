package core

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure for programmatic handling.
type ErrorCode string

// Error codes. NO_LINKABLE_TARGET is also used for warnings.
const (
	ErrCodeNoMatchingPackage ErrorCode = "NO_MATCHING_PACKAGE"
	ErrCodeVersionConflict   ErrorCode = "VERSION_CONFLICT"
	ErrCodeLinksConflict     ErrorCode = "LINKS_CONFLICT"
	ErrCodePackageCycle      ErrorCode = "PACKAGE_CYCLE"
	ErrCodeUnitCycle         ErrorCode = "UNIT_CYCLE"
	ErrCodeMissingFeature    ErrorCode = "MISSING_FEATURE"
	ErrCodeNoLinkableTarget  ErrorCode = "NO_LINKABLE_TARGET"
	ErrCodeFilenameCollision ErrorCode = "FILENAME_COLLISION"

	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeSource           ErrorCode = "SOURCE_ERROR"
	ErrCodeResolutionLimit  ErrorCode = "RESOLUTION_LIMIT"
	ErrCodeLockfileOutdated ErrorCode = "LOCKFILE_OUTDATED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Coded is implemented by every error produced by the resolver and the unit
// graph builder.
type Coded interface {
	error
	Code() ErrorCode
}

// Error is a classified error with optional package context. Domain errors
// with richer structure (conflict traces, cycles) are separate types that
// also implement Coded.
type Error struct {
	// ErrCode classifies the error.
	ErrCode ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Package is the package involved, if any.
	Package string `json:"package,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewError creates a classified error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{ErrCode: code, Message: message, Err: err}
}

// NewValidationError creates a VALIDATION_ERROR.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{ErrCode: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Package != "" {
		msg = fmt.Sprintf("%s (package `%s`)", msg, e.Package)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Code implements Coded.
func (e *Error) Code() ErrorCode { return e.ErrCode }

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.ErrCode == t.ErrCode
}

// WithPackage adds package context to an error.
func (e *Error) WithPackage(pkg string) *Error {
	e.Package = pkg
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first Coded error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Warning is a non-fatal diagnostic returned alongside a result.
type Warning struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Package string    `json:"package,omitempty"`
}

func (w Warning) String() string {
	return w.Message
}
