package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrNotConnected is returned when an exchange is attempted on a
	// connection that is not open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrOpenFailed is returned when a connection cannot be opened.
	ErrOpenFailed = errors.New("transport: open failed")

	// ErrSendFailed is returned when a payload cannot be delivered.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrBadStatus is returned when a request/reply exchange completes
	// with a non-success status.
	ErrBadStatus = errors.New("transport: non-success status")

	// ErrUnknownType is returned when a connection type tag is not
	// recognised.
	ErrUnknownType = errors.New("transport: unknown connection type")

	// ErrInvalidConfig is returned when connection settings are
	// missing or contradictory for the selected type.
	ErrInvalidConfig = errors.New("transport: invalid connection config")
)
