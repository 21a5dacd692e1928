package engine

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ErrAlreadyRunning is returned when a second extraction run is requested
// for an entity that already has one active.
var ErrAlreadyRunning = eris.New("extraction already running for this entity")

// InputError marks a permanent missing-input condition: the step cannot
// succeed until the entity gains new data (e.g. no website URL to scrape).
// It is never retried.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}

// NewInputError creates an InputError with the given message.
func NewInputError(msg string) *InputError {
	return &InputError{Msg: msg}
}

// IsInputError reports whether err (or anything in its chain) is an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
