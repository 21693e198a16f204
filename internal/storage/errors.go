package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a conditional update loses: the trade is no longer OPEN.
	ErrConflict = errors.New("conflict: record is not in the expected state")

	// ErrLockHeld is returned by Locker when another worker holds the key.
	ErrLockHeld = errors.New("lock held by another worker")
)
