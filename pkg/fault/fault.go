// Package fault provides coded domain errors. Services attach a Code when
// creating or wrapping an error; transports map codes to their own status
// space without inspecting error strings.
package fault

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and transports.
type Code string

const (
	// CodeNotFound marks a lookup for an entity that does not exist.
	CodeNotFound Code = "not_found"

	// CodeForbidden marks an action attempted by the wrong role or a
	// non-owning identity. The operation must not have mutated state.
	CodeForbidden Code = "forbidden"

	// CodeValidation marks malformed or out-of-range input.
	CodeValidation Code = "validation"

	// CodeConflict marks a concurrent-mutation clash detected by an
	// optimistic check. The caller should retry the whole operation.
	CodeConflict Code = "conflict"

	// CodeInternal marks infrastructure failures (store, broker, ...).
	CodeInternal Code = "internal"

	// CodeInvariantViolation marks a state that should be unreachable.
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// New creates a coded error with a static message.
func New(code Code, msg string) error {
	return &Error{code: code, msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and context message to an existing error.
// A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, msg: msg, err: err}
}

// GetCode returns the code of the outermost coded error in err's chain.
// Uncoded errors report CodeInternal; nil reports the empty code.
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}
