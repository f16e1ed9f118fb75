package port

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by conditional updates whose precondition no longer holds
	ErrConflict = errors.New("record changed concurrently")
)
