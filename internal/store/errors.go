package store

import "errors"

var (
	ErrNotFound  = errors.New("store: resource not found")
	ErrDuplicate = errors.New("store: duplicate resource")
	ErrConflict  = errors.New("store: conflicting resource state")
	// ErrContention is returned when an optimistic transaction keeps losing the race.
	ErrContention = errors.New("store: too much contention on key")
)
