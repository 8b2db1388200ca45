// Package kerr defines the error taxonomy shared by keg's packages and the
// mapping from error codes to process exit codes.
package kerr

import (
	"errors"
	"fmt"
)

// Code identifies an error category. Codes are stable and safe to match on.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeAmbiguousConstraint Code = "AMBIGUOUS_CONSTRAINT"
	CodeFetch               Code = "FETCH"
	CodeChecksumMismatch    Code = "CHECKSUM_MISMATCH"
	CodeInstallStep         Code = "INSTALL_STEP"
	CodeInvalidFormula      Code = "INVALID_FORMULA"
	CodeLocked              Code = "LOCKED"
	CodeInternal            Code = "INTERNAL"
)

// Exit codes returned by the keg binary.
const (
	ExitOK                  = 0
	ExitGeneric             = 1
	ExitNotFound            = 2
	ExitChecksumMismatch    = 3
	ExitFetch               = 4
	ExitAmbiguousConstraint = 5
	ExitInstallStep         = 6
)

// Sentinels for errors.Is matching. Any *Error with the same code matches.
var (
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrAmbiguousConstraint = &Error{Code: CodeAmbiguousConstraint}
	ErrFetch               = &Error{Code: CodeFetch}
	ErrChecksumMismatch    = &Error{Code: CodeChecksumMismatch}
	ErrInstallStep         = &Error{Code: CodeInstallStep}
	ErrInvalidFormula      = &Error{Code: CodeInvalidFormula}
	ErrLocked              = &Error{Code: CodeLocked}
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// With attaches a detail key/value and returns the error for chaining.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Wrapped: err}
}

// Wrapf wraps err with a code and a formatted message. It returns nil if err is nil.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case CodeNotFound:
		return ExitNotFound
	case CodeChecksumMismatch:
		return ExitChecksumMismatch
	case CodeFetch:
		return ExitFetch
	case CodeAmbiguousConstraint:
		return ExitAmbiguousConstraint
	case CodeInstallStep:
		return ExitInstallStep
	default:
		return ExitGeneric
	}
}
