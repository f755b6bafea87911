package command

import "errors"

// Domain errors for the command package.
var (
	// ErrUnknownCommand is returned by registry lookups for names that
	// were never registered.
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrInvalidDefinition is returned when a command descriptor is
	// unusable (no payload source, bad kind, bad pattern).
	ErrInvalidDefinition = errors.New("command: invalid definition")

	// ErrEmptyPayload is returned when template rendering produces an
	// empty payload. The send must be aborted, not attempted.
	ErrEmptyPayload = errors.New("command: rendered payload is empty")

	// ErrOutOfBounds is returned when a write value falls outside the
	// command's configured bounds.
	ErrOutOfBounds = errors.New("command: value out of bounds")

	// ErrExtractionFailed is returned when the reply extraction path
	// cannot be applied to a reply.
	ErrExtractionFailed = errors.New("command: reply extraction failed")

	// ErrNoCommands is returned when a command table yields no usable
	// commands.
	ErrNoCommands = errors.New("command: no usable commands")
)
