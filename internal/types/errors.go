package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced order does not exist
	ErrNotFound = errors.New("order not found")

	// ErrInvalidTransition is returned when the state machine is asked to
	// move an order along an edge it does not have
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnavailable is returned when orders cannot be accepted right now,
	// typically during shutdown
	ErrUnavailable = errors.New("order execution unavailable")

	// ErrDuplicateOrder is returned when an order id is already stored
	ErrDuplicateOrder = errors.New("order already exists")
)

// FieldError describes one rejected request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a request before it reaches the pipeline
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}
