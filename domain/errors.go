package domain

import "errors"

var (
	// ErrNotFound indicates that no todo matched the given id.
	ErrNotFound = errors.New("todo not found")
	// ErrTaskRequired is returned when a todo is created without a task.
	ErrTaskRequired = errors.New("task is required")
	// ErrNoFields is returned when an update carries nothing to change.
	ErrNoFields = errors.New("no fields to update")
)
