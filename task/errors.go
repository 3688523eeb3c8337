package task

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a task ID does not exist.
var ErrNotFound = errors.New("task not found")

// ValidationError reports caller input that violates a required-field or
// enum-membership contract. The operation was not attempted against the
// store.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func missingField(field string) error {
	return &ValidationError{Field: field, Msg: "is required"}
}

func invalidEnum(field, got string, allowed []string) error {
	return &ValidationError{
		Field: field,
		Msg:   fmt.Sprintf("invalid value %q, allowed: %v", got, allowed),
	}
}
