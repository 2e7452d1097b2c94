package model

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors surfaced by the task service.
var (
	ErrTaskNotFound  = errors.New("Task not found")
	ErrInvalidStatus = errors.New("Invalid status")
	ErrInvalidData   = errors.New("Invalid data")
)

// ValidationError carries every violation found in an input, not just the
// first one.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

// UnknownFieldError reports patch payload keys outside the updatable set.
type UnknownFieldError struct {
	Fields []string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("Unknown fields: %s", strings.Join(e.Fields, ", "))
}
