package irrecoverable

import (
	"fmt"
)

// exception represents an unexpected error. An unexpected error is any
// error returned by a function that is not documented as an expected
// sentinel by that function's interface.
//
// Wrapping an error as an exception removes its type information, so
// callers upstream cannot errors.Is/As it back into a benign sentinel
// by accident.
type exception struct {
	err error
}

func (e exception) Error() string {
	return "exception! " + e.err.Error()
}

// NewException wraps the input error as an exception, stripping any
// sentinel error information.
func NewException(err error) error {
	return exception{err: err}
}

// NewExceptionf is NewException with formatting.
func NewExceptionf(msg string, args ...interface{}) error {
	return NewException(fmt.Errorf(msg, args...))
}
