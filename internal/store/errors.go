package store

import "errors"

// Domain errors for the store package.
var (
	// ErrInvalidEntry is returned when a value to record is missing
	// required fields.
	ErrInvalidEntry = errors.New("store: invalid entry")

	// ErrInvalidRetention is returned when Prune is called with a
	// non-positive retention period.
	ErrInvalidRetention = errors.New("store: retention period must be positive")
)
