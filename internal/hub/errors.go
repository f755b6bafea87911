package hub

import "errors"

var (
	// ErrUnknownDevice indicates the named device is not configured.
	ErrUnknownDevice = errors.New("hub: unknown device")
)
