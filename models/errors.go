package models

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidTransition is returned when a status change is not allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTransitionConflict is returned when the record was no longer in the expected status.
	ErrTransitionConflict = errors.New("status changed concurrently")
)
