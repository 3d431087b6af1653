// Package services composes the pipeline components into the operations the
// HTTP layer exposes: chat, memory corrections, policy, tasks, notifications.
package services

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError builds a field-scoped validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is caller input trouble.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
