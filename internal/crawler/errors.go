package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned for task IDs the registry never created.
	ErrTaskNotFound = errors.New("task ID not found")
	// ErrTaskExists is returned when a task ID is registered twice.
	ErrTaskExists = errors.New("task already exists")
	// ErrNoLinks is returned when the link-list artifact was never produced.
	ErrNoLinks = errors.New("no extracted links found")
	// ErrQueueClosed is returned by queues that no longer deliver work.
	ErrQueueClosed = errors.New("queue closed")
)

// ValidationError reports bad client input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
