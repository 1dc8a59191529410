package engine

import (
	"errors"
	"fmt"
)

// InvalidInputError are errors for caused by invalid inputs.
// It's useful to distinguish these known errors from exceptions.
// By distinguishing errors from exceptions, we can log them
// differently.
// For instance, log InvalidInputError error as a warn log, and log
// other error as an error log.
type InvalidInputError struct {
	err error
}

func NewInvalidInputError(msg string) error {
	return NewInvalidInputErrorf(msg)
}

func NewInvalidInputErrorf(msg string, args ...interface{}) error {
	return InvalidInputError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e InvalidInputError) Unwrap() error {
	return e.err
}

func (e InvalidInputError) Error() string {
	return e.err.Error()
}

// IsInvalidInputError returns whether the given error is an InvalidInputError error
func IsInvalidInputError(err error) bool {
	var errInvalidInputError InvalidInputError
	return errors.As(err, &errInvalidInputError)
}

// OutdatedInputError are for inputs that are outdated. An outdated input doesn't mean
// whether the input was invalid or not, knowing that would take more computation that
// isn't necessary.
// An outdated input could also be an invalid input, but checking its validity takes
// extra work, and since the input is outdated, it can be safely discarded either way.
type OutdatedInputError struct {
	err error
}

func NewOutdatedInputErrorf(msg string, args ...interface{}) error {
	return OutdatedInputError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e OutdatedInputError) Unwrap() error {
	return e.err
}

func (e OutdatedInputError) Error() string {
	return e.err.Error()
}

func IsOutdatedInputError(err error) bool {
	var errOutdatedInputError OutdatedInputError
	return errors.As(err, &errOutdatedInputError)
}

// DuplicatedEntryError are for errors caused by duplicated inputs that were
// already processed. Engines log them and move on; the first entry wins.
type DuplicatedEntryError struct {
	err error
}

func NewDuplicatedEntryErrorf(msg string, args ...interface{}) error {
	return DuplicatedEntryError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e DuplicatedEntryError) Unwrap() error {
	return e.err
}

func (e DuplicatedEntryError) Error() string {
	return e.err.Error()
}

func IsDuplicatedEntryError(err error) bool {
	var errDuplicatedEntryError DuplicatedEntryError
	return errors.As(err, &errDuplicatedEntryError)
}
