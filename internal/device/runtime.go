package device

import "time"

// Callback delivers a decoded value to the host layer. It is invoked
// synchronously from the goroutine that produced the value (a send, a
// cyclic sweep or a push transport's read loop) and must not block.
type Callback func(device, command string, value any)

// CyclicEntry pairs a command with its polling period.
type CyclicEntry struct {
	// Command is the command name to read.
	Command string

	// Period is the polling interval. Entries with a non-positive
	// period are dropped with a warning when runtime data is set.
	Period time.Duration
}

// RuntimeData carries the host-side wiring a device needs before it
// can start: which commands to read, when, and where decoded values
// go. It is handed over exactly once via SetRuntimeData.
type RuntimeData struct {
	// Callback receives every decoded value. Required.
	Callback Callback

	// ReadCommands are the names covered by ReadAll.
	ReadCommands []string

	// InitialCommands are read once after the first successful start,
	// in order. The latch survives restarts.
	InitialCommands []string

	// CyclicCommands are polled periodically, in registration order.
	CyclicCommands []CyclicEntry

	// ReadAllOnStart triggers a ReadAll sweep on every start that
	// comes up connected.
	ReadAllOnStart bool
}
