package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across repositories and handlers.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrNotParticipant = errors.New("actor is not a participant of the conversation")
)

// ValidationError marks input the caller can fix; it is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
