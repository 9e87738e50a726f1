package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound: the entity or fetch record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists: a unique key clashed in the fetch log.
	ErrAlreadyExists = errors.New("already exists")
	// ErrValidation: bad input. Never retried.
	ErrValidation = errors.New("validation error")
)

// FieldError names the offending input and what is wrong with it.
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) String() string { return f.Field + ": " + f.Message }

// ValidationError collects field errors. It matches ErrValidation.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, f := range e.Errors {
		parts[i] = f.String()
	}
	return "validation: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Field returns the message recorded for field, if any.
func (e *ValidationError) Field(field string) (string, bool) {
	for _, f := range e.Errors {
		if f.Field == field {
			return f.Message, true
		}
	}
	return "", false
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}
