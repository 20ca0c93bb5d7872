// Package apperrors provides the error taxonomy shared by every StepFlow
// Monitor component.
//
// It re-exports github.com/cockroachdb/errors, giving every error a stack
// trace and PII-safe wrapping, and layers a small set of sentinel "kinds" on
// top that the HTTP layer maps directly onto status codes. Most component
// errors are created as, or wrapped into, one of the kinds below so a caller
// two layers up can still ask "was this a conflict?" with errors.Is instead
// of parsing a message; an error outside these kinds (config loading, a
// failed batch transaction) classifies as an internal error.
package apperrors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

var (
	Is          = crdb.Is
	As          = crdb.As
	Unwrap      = crdb.Unwrap
	UnwrapAll   = crdb.UnwrapAll
	GetAllHints = crdb.GetAllHints
)

// Sentinel kinds. Every component-level error is created with, or wrapped
// against, one of these via the constructors below so that errors.Is(err,
// ErrNotFound) works regardless of how many layers wrapped it.
var (
	// ErrValidation: malformed input (empty command, unknown status filter).
	ErrValidation = New("validation error")

	// ErrNotFound: unknown execution/step/artifact id.
	ErrNotFound = New("not found")

	// ErrConflict: illegal state transition (cancel a terminal execution).
	ErrConflict = New("conflict")

	// ErrStoreUnavailable: database not ready, disk full, permission denied.
	ErrStoreUnavailable = New("store unavailable")

	// ErrIOError: transient disk error during log/artifact write.
	ErrIOError = New("io error")

	// ErrChildProcess: spawn failed or child killed by signal.
	ErrChildProcess = New("child process error")

	// ErrOverloaded: subscriber queue exceeded its high-water mark.
	ErrOverloaded = New("overloaded")

	// ErrTimeout: wall-clock exceeded.
	ErrTimeout = New("timeout")
)

// NewValidation wraps ErrValidation with a formatted message.
func NewValidation(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewNotFound wraps ErrNotFound with a formatted message.
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewConflict wraps ErrConflict with a formatted message.
func NewConflict(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}

// NewStoreUnavailable wraps ErrStoreUnavailable with a formatted message.
func NewStoreUnavailable(format string, args ...interface{}) error {
	return Wrap(ErrStoreUnavailable, Newf(format, args...).Error())
}

// NewIOError wraps ErrIOError with a formatted message.
func NewIOError(format string, args ...interface{}) error {
	return Wrap(ErrIOError, Newf(format, args...).Error())
}

// NewChildProcess wraps ErrChildProcess with a formatted message.
func NewChildProcess(format string, args ...interface{}) error {
	return Wrap(ErrChildProcess, Newf(format, args...).Error())
}

// NewOverloaded wraps ErrOverloaded with a formatted message.
func NewOverloaded(format string, args ...interface{}) error {
	return Wrap(ErrOverloaded, Newf(format, args...).Error())
}

// NewTimeout wraps ErrTimeout with a formatted message.
func NewTimeout(format string, args ...interface{}) error {
	return Wrap(ErrTimeout, Newf(format, args...).Error())
}

func IsValidation(err error) bool     { return err != nil && Is(err, ErrValidation) }
func IsNotFound(err error) bool       { return err != nil && Is(err, ErrNotFound) }
func IsConflict(err error) bool       { return err != nil && Is(err, ErrConflict) }
func IsStoreUnavailable(err error) bool { return err != nil && Is(err, ErrStoreUnavailable) }
func IsIOError(err error) bool        { return err != nil && Is(err, ErrIOError) }
func IsChildProcess(err error) bool   { return err != nil && Is(err, ErrChildProcess) }
func IsOverloaded(err error) bool     { return err != nil && Is(err, ErrOverloaded) }
func IsTimeout(err error) bool        { return err != nil && Is(err, ErrTimeout) }

// Code is a machine-readable error identifier returned alongside the human
// message in every HTTP error envelope (§6).
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeIOError         Code = "IO_ERROR"
	CodeChildProcess    Code = "CHILD_PROCESS_ERROR"
	CodeOverloaded      Code = "OVERLOAD_ERROR"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Classify maps an error to the (HTTP status, machine code) pair the HTTP
// layer uses to build its error envelope. Unrecognized errors classify as
// an opaque 500 internal error.
func Classify(err error) (status int, code Code) {
	switch {
	case IsValidation(err):
		return 400, CodeValidation
	case IsNotFound(err):
		return 404, CodeNotFound
	case IsConflict(err):
		return 409, CodeConflict
	case IsStoreUnavailable(err):
		return 503, CodeStoreUnavailable
	case IsIOError(err):
		return 500, CodeIOError
	case IsChildProcess(err):
		return 500, CodeChildProcess
	case IsOverloaded(err):
		return 503, CodeOverloaded
	case IsTimeout(err):
		return 504, CodeTimeout
	default:
		return 500, CodeInternal
	}
}
