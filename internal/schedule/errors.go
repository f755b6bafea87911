package schedule

import "errors"

// Sentinel errors for scheduler operations.
var (
	// ErrDuplicateJob indicates a job with the same name is already registered.
	ErrDuplicateJob = errors.New("schedule: job already registered")

	// ErrUnknownJob indicates no job with the given name exists.
	ErrUnknownJob = errors.New("schedule: unknown job")

	// ErrInvalidPeriod indicates a zero or negative period.
	ErrInvalidPeriod = errors.New("schedule: period must be positive")

	// ErrStopped indicates the scheduler has been shut down.
	ErrStopped = errors.New("schedule: scheduler stopped")
)
