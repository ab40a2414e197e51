package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks requests rejected before any layer runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelUnavailable marks a failed or timed-out embedding, classifier
	// or generative call. The affected layer degrades instead of failing.
	ErrModelUnavailable = errors.New("model unavailable")
)

// InputError describes a rejected request field.
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func unavailable(component string, err error) error {
	return fmt.Errorf("%s: %w: %w", component, ErrModelUnavailable, err)
}
