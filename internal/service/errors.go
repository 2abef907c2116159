package service

import (
	"github.com/cockroachdb/errors"
)

// Error taxonomy. Concrete errors are marked with one of these and checked with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrResourceMissing    = errors.New("resource missing")
	ErrExternalFailure    = errors.New("external failure")
	ErrPersistence        = errors.New("persistence failure")
)

func validationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func notFoundErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func invalidStateErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidState)
}

func persistenceError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrPersistence)
}
