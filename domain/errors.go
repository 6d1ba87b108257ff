package domain

import "errors"

var (
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrAlreadyExists is returned when inserting an id that is taken.
	ErrAlreadyExists = errors.New("entity already exists")
	// ErrNotFound is returned when a conditional write targets a missing entity.
	ErrNotFound = errors.New("entity not found")
	// ErrInvalid wraps malformed entity data.
	ErrInvalid = errors.New("invalid entity")
	// ErrCycle is returned when a task's parent chain loops back on itself.
	ErrCycle = errors.New("task hierarchy contains a cycle")
	// ErrTooDeep is returned when a task tree exceeds the configured depth.
	ErrTooDeep = errors.New("task hierarchy exceeds maximum depth")
)
