package device

import "errors"

// Domain errors for the device package.
var (
	// ErrAlive is returned when an operation is refused because the
	// device is started. Stop the device first.
	ErrAlive = errors.New("device: operation refused while started")

	// ErrNoRuntimeData is returned by Start when SetRuntimeData has
	// not succeeded yet.
	ErrNoRuntimeData = errors.New("device: runtime data not set")

	// ErrRuntimeDataSet is returned when SetRuntimeData is called a
	// second time. Runtime data is set exactly once.
	ErrRuntimeDataSet = errors.New("device: runtime data already set")

	// ErrNoCallback is returned when runtime data carries no value
	// callback. A device without one can only discard replies.
	ErrNoCallback = errors.New("device: runtime data has no callback")

	// ErrNoParams is returned when UpdateParams is called with
	// nothing to apply.
	ErrNoParams = errors.New("device: no parameters to update")
)
