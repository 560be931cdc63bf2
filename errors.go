package alcptprep

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing test, question or user. Callers wrap it with
// context: fmt.Errorf("question %d: %w", id, ErrNotFound).
var ErrNotFound = errors.New("not found")

// ValidationError covers malformed submissions and malformed or incomplete
// generated explanations. It surfaces to HTTP callers as a client error.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// CollaboratorError wraps a failure of an external generation service
// (text-to-speech or explanation model).
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
