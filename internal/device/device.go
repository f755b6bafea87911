package device

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-multidev/internal/command"
	"github.com/nerrad567/gray-logic-multidev/internal/transport"
)

// Logger is the optional logging interface consumed by devices.
// Compatible with logging.Logger; pass a device-scoped logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Scheduler is the periodic-job capability a device registers its
// cyclic sweep with. *schedule.Scheduler satisfies it.
type Scheduler interface {
	Register(name string, period time.Duration, fn func()) error
	Deregister(name string) error
}

// TransformFunc rewrites a rendered payload just before it is sent.
// Devices that need protocol framing (checksums, terminators) hook in
// here; nil means the payload is sent as rendered.
type TransformFunc func(command string, p transport.Payload) transport.Payload

// Settings is the static configuration of one device.
type Settings struct {
	// Type selects the connection variant. Empty or unrecognised
	// tags fall back to inference from the transport settings.
	Type string

	// Transport holds the connection settings.
	Transport transport.Config

	// Params is the parameter map substituted into command templates
	// via $P:key:.
	Params map[string]string

	// DefaultKind is the device's default command variant. Zero
	// value selects the text kind.
	DefaultKind command.Kind
}

// clone returns a deep copy so merges never mutate a shared map.
func (s Settings) clone() Settings {
	out := s
	out.Params = make(map[string]string, len(s.Params))
	for k, v := range s.Params {
		out.Params[k] = v
	}
	return out
}

// apply merges one string override into the settings. Keys matching
// transport settings are coerced to their native types; every other
// key becomes a template parameter. Host, port and serial_port are
// additionally mirrored into the parameter map so $P:host: style
// substitutions track the live connection settings.
func (s *Settings) apply(key, value string) error {
	switch key {
	case "type":
		s.Type = value
	case "host":
		s.Transport.Host = value
		s.setParam(key, value)
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not a port number: %q", value)
		}
		s.Transport.Port = n
		s.setParam(key, value)
	case "serial_port":
		s.Transport.SerialPort = value
		s.setParam(key, value)
	case "baudrate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not a baudrate: %q", value)
		}
		s.Transport.Baudrate = n
	case "path":
		s.Transport.Path = value
	case "timeout":
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("not a timeout in seconds: %q", value)
		}
		s.Transport.Timeout = time.Duration(secs * float64(time.Second))
	default:
		s.setParam(key, value)
	}
	return nil
}

func (s *Settings) setParam(key, value string) {
	if s.Params == nil {
		s.Params = make(map[string]string)
	}
	s.Params[key] = value
}

// Options carries construction parameters for a device.
type Options struct {
	// Name is the unique device name. Required.
	Name string

	// Settings is the device's static configuration.
	Settings Settings

	// Definitions is the device's command table. Retained for
	// registry rebuilds on parameter updates.
	Definitions []command.Definition

	// Transform is the optional payload hook.
	Transform TransformFunc

	// Scheduler drives cyclic reads. Optional; a device without one
	// never polls (standalone mode).
	Scheduler Scheduler

	// Logger is optional; nil silences the device.
	Logger Logger
}

// Device is the state machine around one physical or logical device:
// a command registry, a connection, and the host-side runtime wiring.
//
// Thread Safety: all exported methods are safe for concurrent use.
// On-demand sends and cyclic sweeps may interleave; the transport
// serialises the actual exchanges.
type Device struct {
	name      string
	defs      []command.Definition
	transform TransformFunc
	scheduler Scheduler
	logger    Logger

	alive        atomic.Bool
	cyclicActive atomic.Bool

	mu          sync.Mutex
	settings    Settings
	registry    *command.Registry
	conn        transport.Connection
	runtime     RuntimeData
	runtimeSet  bool
	initialRead bool
	cyclic      []cyclicState

	// now is replaced in tests for deterministic sweeps.
	now func() time.Time
}

// New constructs a device: builds the command registry from the
// definition table and selects and constructs the connection.
// Call SetRuntimeData and then Start to begin operation.
//
// Construction failure is terminal for the device; the caller records
// it as disabled.
//
// Returns:
//   - *Device: Ready for SetRuntimeData
//   - error: Missing name, unusable command table, or an invalid
//     transport configuration
func New(opts Options) (*Device, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("device name is required")
	}

	d := &Device{
		name:      opts.Name,
		defs:      opts.Definitions,
		transform: opts.Transform,
		scheduler: opts.Scheduler,
		logger:    opts.Logger,
		settings:  opts.Settings.clone(),
		now:       time.Now,
	}

	registry, err := command.NewRegistry(opts.Name, opts.Definitions, command.RegistryOptions{
		DefaultKind: d.settings.DefaultKind,
		Params:      d.settings.Params,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build command registry: %w", err)
	}
	d.registry = registry

	conn, err := d.buildConnection(d.settings)
	if err != nil {
		return nil, fmt.Errorf("build connection: %w", err)
	}
	d.conn = conn

	d.logDebug("device constructed", "commands", registry.Len())
	return d, nil
}

// buildConnection selects the connection type (explicit tag first,
// inference as fallback) and constructs it. Inbound pushes route to
// HandleInbound.
func (d *Device) buildConnection(s Settings) (transport.Connection, error) {
	typ := transport.Resolve(s.Transport)
	if s.Type != "" {
		parsed, err := transport.ParseType(s.Type)
		if err != nil {
			d.logWarn("unrecognised connection type, inferring from settings",
				"type", s.Type, "inferred", string(typ))
		} else {
			typ = parsed
		}
	}

	return transport.New(typ, transport.Options{
		DeviceName: d.name,
		Config:     s.Transport,
		OnData:     d.HandleInbound,
		Logger:     d.logger,
	})
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Alive reports whether the device is started.
func (d *Device) Alive() bool { return d.alive.Load() }

// Connected reports whether the device's connection is established.
func (d *Device) Connected() bool {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	return conn != nil && conn.Connected()
}

// IsValid reports whether a command exists with the requested
// capability. Unknown names are false, never an error.
func (d *Device) IsValid(name string, mode command.Mode) bool {
	d.mu.Lock()
	reg := d.registry
	d.mu.Unlock()
	return reg.IsValid(name, mode)
}

// CommandNames returns the registered command names in sorted order.
func (d *Device) CommandNames() []string {
	d.mu.Lock()
	reg := d.registry
	d.mu.Unlock()
	return reg.Names()
}

// PlatformType returns the platform-side type of a command
// ("bool", "number", "text"), or "" for unknown commands.
func (d *Device) PlatformType(name string) string {
	d.mu.Lock()
	reg := d.registry
	d.mu.Unlock()
	cmd, ok := reg.Get(name)
	if !ok {
		return ""
	}
	return cmd.PlatformType()
}

// Settings returns a copy of the current settings.
func (d *Device) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings.clone()
}

// SetRuntimeData hands the host-side wiring to the device. It must
// succeed exactly once before Start; cyclic entries with non-positive
// periods are dropped with a warning.
//
// Returns:
//   - error: ErrAlive, ErrRuntimeDataSet or ErrNoCallback
func (d *Device) SetRuntimeData(rd RuntimeData) error {
	if d.alive.Load() {
		return ErrAlive
	}
	if rd.Callback == nil {
		return fmt.Errorf("%w: device %q", ErrNoCallback, d.name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.runtimeSet {
		return ErrRuntimeDataSet
	}

	cyclic := make([]cyclicState, 0, len(rd.CyclicCommands))
	for _, entry := range rd.CyclicCommands {
		if entry.Period <= 0 {
			d.logWarn("dropping cyclic entry with non-positive period",
				"command", entry.Command, "period", entry.Period)
			continue
		}
		cyclic = append(cyclic, cyclicState{
			command: entry.Command,
			period:  entry.Period,
		})
	}

	d.runtime = rd
	d.cyclic = cyclic
	d.runtimeSet = true
	return nil
}

// Start brings the device up: marks it alive and opens the
// connection. A failed open is not fatal; sends re-open on demand.
// When the connection does come up, the initial commands are read
// (once per device lifetime), a read-all sweep runs if configured,
// and the cyclic job is registered.
//
// Start on an already started device is a no-op.
//
// Returns:
//   - error: ErrNoRuntimeData when SetRuntimeData has not succeeded
func (d *Device) Start() error {
	if d.alive.Load() {
		return nil
	}

	d.mu.Lock()
	if !d.runtimeSet {
		d.mu.Unlock()
		return fmt.Errorf("%w: device %q", ErrNoRuntimeData, d.name)
	}
	conn := d.conn
	readAll := d.runtime.ReadAllOnStart
	d.mu.Unlock()

	d.alive.Store(true)

	if err := conn.Open(); err != nil {
		d.logWarn("connection not established on start, retrying on demand", "error", err)
	}

	if conn.Connected() {
		d.readInitial()
		if readAll {
			d.ReadAll()
		}
		d.registerCyclic()
	}

	d.logInfo("device started", "connected", conn.Connected())
	return nil
}

// Stop halts the device: not alive, cyclic job deregistered,
// connection closed. Safe to call repeatedly and in any state; the
// registry is kept so the device can be restarted.
func (d *Device) Stop() {
	d.alive.Store(false)
	d.deregisterCyclic()

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			d.logWarn("closing connection", "error", err)
		}
	}

	d.logInfo("device stopped")
}

// SendCommand renders and sends a named command, feeding any reply
// through the decode/callback path.
//
// The return value reports whether the payload reached the transport.
// Reply handling failures (undecodable reply, missing callback)
// discard the value but do not fail the send. Transport errors never
// propagate past this method.
//
// Parameters:
//   - name: Command name from the device's table
//   - value: Write value, or nil for a read
//
// Returns:
//   - bool: true if the payload was sent
func (d *Device) SendCommand(name string, value any) bool {
	if !d.alive.Load() {
		d.logWarn("dropping command, device not started", "command", name, "value", value)
		return false
	}

	d.mu.Lock()
	conn := d.conn
	reg := d.registry
	timeout := d.settings.Transport.ExchangeTimeout()
	d.mu.Unlock()

	if conn == nil {
		d.logWarn("dropping command, no connection", "command", name)
		return false
	}

	if !conn.Connected() {
		if err := conn.Open(); err != nil {
			d.logWarn("dropping command, connection could not be established",
				"command", name, "error", err)
			return false
		}
		if !conn.Connected() {
			d.logWarn("dropping command, connection could not be established",
				"command", name)
			return false
		}
	}

	payload, err := reg.RenderSendPayload(name, value)
	if err != nil {
		d.logWarn("dropping command, payload not rendered", "command", name, "error", err)
		return false
	}
	if d.transform != nil {
		payload = d.transform(name, payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := conn.Send(ctx, payload)
	if err != nil {
		d.logDebug("send failed", "command", name, "error", err)
		return false
	}

	if len(reply) > 0 {
		d.dispatch(name, reply)
	}
	return true
}

// HandleInbound processes data the connection pushed outside a
// send/reply exchange. An empty command name is attributed via the
// registry's reply patterns; unattributable data is discarded.
func (d *Device) HandleInbound(name string, raw []byte) {
	if name == "" {
		d.mu.Lock()
		reg := d.registry
		d.mu.Unlock()

		matched, ok := reg.MatchInbound(raw)
		if !ok {
			d.logDebug("discarding unattributable inbound data", "bytes", len(raw))
			return
		}
		name = matched
	}
	d.dispatch(name, raw)
}

// ReadAll sends every configured read command in order. Individual
// failures are ignored; the next command is always attempted.
func (d *Device) ReadAll() {
	d.mu.Lock()
	cmds := d.runtime.ReadCommands
	d.mu.Unlock()

	for _, name := range cmds {
		d.SendCommand(name, nil)
	}
}

// UpdateParams merges parameter overrides into the settings and
// rebuilds the command registry and connection. The device must be
// stopped. The previous connection is dropped without a close; Stop
// already closed it in the ordinary path.
//
// Override keys matching transport settings (type, host, port,
// serial_port, baudrate, path, timeout) are coerced to their native
// types; all other keys become template parameters.
//
// Returns:
//   - error: ErrAlive, ErrNoParams, or a coercion/rebuild failure.
//     The device keeps its previous settings on failure.
func (d *Device) UpdateParams(params map[string]string) error {
	if d.alive.Load() {
		d.logWarn("refusing parameter update while started")
		return fmt.Errorf("%w: device %q", ErrAlive, d.name)
	}
	if len(params) == 0 {
		d.logWarn("parameter update without parameters")
		return ErrNoParams
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.settings.clone()
	for key, value := range params {
		if err := next.apply(key, value); err != nil {
			return fmt.Errorf("parameter %q: %w", key, err)
		}
	}

	registry, err := command.NewRegistry(d.name, d.defs, command.RegistryOptions{
		DefaultKind: next.DefaultKind,
		Params:      next.Params,
		Logger:      d.logger,
	})
	if err != nil {
		return fmt.Errorf("rebuild command registry: %w", err)
	}

	conn, err := d.buildConnection(next)
	if err != nil {
		return fmt.Errorf("rebuild connection: %w", err)
	}

	d.settings = next
	d.registry = registry
	d.conn = conn

	d.logInfo("device parameters updated", "overrides", len(params))
	return nil
}

// readInitial reads the initial commands once per device lifetime.
// The latch is set before the sends so a flaky first pass is not
// retried on restart.
func (d *Device) readInitial() {
	d.mu.Lock()
	if d.initialRead || len(d.runtime.InitialCommands) == 0 {
		d.mu.Unlock()
		return
	}
	d.initialRead = true
	cmds := d.runtime.InitialCommands
	d.mu.Unlock()

	d.logDebug("reading initial commands", "count", len(cmds))
	for _, name := range cmds {
		d.SendCommand(name, nil)
	}
}

// dispatch decodes raw data for a command and delivers the value to
// the runtime callback. Undecodable data is discarded with a warning;
// a decode failure never aborts the batch that produced it.
func (d *Device) dispatch(name string, raw []byte) {
	d.mu.Lock()
	reg := d.registry
	cb := d.runtime.Callback
	d.mu.Unlock()

	value, err := reg.DecodeReply(name, raw)
	if err != nil {
		d.logWarn("discarding undecodable reply", "command", name, "error", err)
		return
	}

	if cb == nil {
		d.logWarn("discarding value, no callback set", "command", name, "value", value)
		return
	}

	d.logDebug("value decoded", "command", name, "value", value)
	cb(d.name, name, value)
}

// nil-guarded logging helpers.

func (d *Device) logDebug(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, keysAndValues...)
	}
}

func (d *Device) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Device) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}
