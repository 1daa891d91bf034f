package task

import "errors"

var (
	// ErrNotFound means no task matched the given id or owner and label.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateLabel means the owner already has a task with that label.
	ErrDuplicateLabel = errors.New("task label already exists for owner")

	// ErrInvalid wraps every input validation failure.
	ErrInvalid = errors.New("invalid task")
)
