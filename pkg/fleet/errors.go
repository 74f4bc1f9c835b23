// Package fleet declares errors shared by fleet backends.
package fleet

import (
	"errors"
	"fmt"
)

var (
	// task (or other fleet resource) is not found.
	ErrMissing = errors.New("missing")

	// task is already created.
	ErrConflict = errors.New("conflict")

	// task did not satisfy its requirement in time.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

type Conflict struct {
	note  string
	cause error
}

func NewConflictCausedBy(note string, cause error) *Conflict {
	return &Conflict{note: note, cause: cause}
}

func (c *Conflict) Error() string {
	if c.note == "" {
		return fmt.Sprintf("%s: %s", ErrConflict, c.cause)
	}
	return fmt.Sprintf("%s (%s): %s", ErrConflict, c.note, c.cause)
}

func (c *Conflict) Unwrap() error {
	return c.cause
}

func (c *Conflict) Is(target error) bool {
	return target == ErrConflict
}

type Missing struct {
	note  string
	cause error
}

func NewMissingCausedBy(note string, cause error) *Missing {
	return &Missing{note: note, cause: cause}
}

func (m *Missing) Error() string {
	if m.note == "" {
		return fmt.Sprintf("%s: %s", ErrMissing, m.cause)
	}
	return fmt.Sprintf("%s (%s): %s", ErrMissing, m.note, m.cause)
}

func (m *Missing) Unwrap() error {
	return m.cause
}

func (m *Missing) Is(target error) bool {
	return target == ErrMissing
}
