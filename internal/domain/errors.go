package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrUnknownRule     = errors.New("unknown rule")
	ErrUnknownTypology = errors.New("unknown typology")
	ErrBelowMinimum    = errors.New("count below trigger minimum")
	ErrTransport       = errors.New("transport failure")
	ErrOutOfOrder      = errors.New("timestamp precedes window")
	ErrNotFound        = errors.New("record not found")
)

// ValidationError reports a rejected input before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match both ErrValidation and the specific cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// NewValidationError builds a ValidationError with an optional cause.
func NewValidationError(field, reason string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: cause}
}
