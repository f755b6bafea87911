package command

import (
	"fmt"
	"sort"

	"github.com/nerrad567/gray-logic-multidev/internal/transport"
)

// Mode selects which capability a registry lookup checks.
type Mode int

// Lookup modes.
const (
	// ModeRead requires the command to be readable.
	ModeRead Mode = iota

	// ModeWrite requires the command to be writable.
	ModeWrite

	// ModeEither requires only that the command exists.
	ModeEither
)

// Registry owns the constructed Command set of one device.
//
// It is read-only after construction and safe for concurrent use.
// Lookup methods are fail-safe: unknown names report false or a
// sentinel error, never panic, because lookups gate host-side wiring.
type Registry struct {
	device   string
	commands map[string]Command
	names    []string
}

// RegistryOptions carries the device context a registry is built with.
type RegistryOptions struct {
	// DefaultKind is the device's default command variant.
	DefaultKind Kind

	// Params is the device parameter snapshot for $P substitution.
	Params map[string]string

	// Logger is optional; construction problems with individual
	// commands are logged and the command skipped.
	Logger Logger
}

// NewRegistry builds a registry from a definition set.
//
// Unusable definitions are logged and skipped rather than failing the
// device; the registry only errors when nothing usable remains.
//
// Parameters:
//   - device: Owning device name (for log context)
//   - defs: Command definitions from the device's table
//   - opts: Device context (default kind, parameter snapshot, logger)
//
// Returns:
//   - *Registry: Constructed registry
//   - error: ErrNoCommands if no definition was usable
func NewRegistry(device string, defs []Definition, opts RegistryOptions) (*Registry, error) {
	commands := make(map[string]Command, len(defs))
	names := make([]string, 0, len(defs))

	for _, def := range defs {
		if _, dup := commands[def.Name]; dup {
			logWarn(opts.Logger, "duplicate command name, keeping first",
				"device", device, "command", def.Name)
			continue
		}

		cmd, err := New(def, Options{
			DefaultKind: opts.DefaultKind,
			Params:      opts.Params,
			Logger:      opts.Logger,
		})
		if err != nil {
			logError(opts.Logger, "skipping unusable command",
				"device", device, "command", def.Name, "error", err)
			continue
		}

		commands[def.Name] = cmd
		names = append(names, def.Name)
	}

	if len(commands) == 0 {
		return nil, fmt.Errorf("%w: device %q", ErrNoCommands, device)
	}

	sort.Strings(names)

	return &Registry{
		device:   device,
		commands: commands,
		names:    names,
	}, nil
}

// IsValid reports whether a command exists with the requested
// capability. Unknown names are false, never an error.
func (r *Registry) IsValid(name string, mode Mode) bool {
	cmd, found := r.commands[name]
	if !found {
		return false
	}
	switch mode {
	case ModeRead:
		return cmd.Readable()
	case ModeWrite:
		return cmd.Writable()
	default:
		return true
	}
}

// RenderSendPayload renders the wire payload for a named command.
// Unknown names return ErrUnknownCommand; command-level render
// failures (empty payload, bounds, encoding) pass through.
func (r *Registry) RenderSendPayload(name string, value any) (transport.Payload, error) {
	cmd, found := r.commands[name]
	if !found {
		return transport.Payload{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return cmd.BuildSendPayload(value)
}

// DecodeReply decodes raw reply bytes for a named command. Unknown
// names return ErrUnknownCommand; decode failures pass through for the
// caller to discard.
func (r *Registry) DecodeReply(name string, raw []byte) (any, error) {
	cmd, found := r.commands[name]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return cmd.DecodeReply(raw)
}

// MatchInbound attributes unattributed push data to a command by its
// reply pattern. Commands without patterns never match. The first
// match in name order wins.
func (r *Registry) MatchInbound(raw []byte) (string, bool) {
	for _, name := range r.names {
		if r.commands[name].matchesInbound(raw) {
			return name, true
		}
	}
	return "", false
}

// Get returns a command by name.
func (r *Registry) Get(name string) (Command, bool) {
	cmd, found := r.commands[name]
	return cmd, found
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.commands)
}

// nil-guarded logging helpers.

func logWarn(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func logError(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Error(msg, keysAndValues...)
	}
}
