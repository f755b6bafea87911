package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-multidev/internal/command"
	"github.com/nerrad567/gray-logic-multidev/internal/device"
	"github.com/nerrad567/gray-logic-multidev/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-multidev/internal/schedule"
	"github.com/nerrad567/gray-logic-multidev/internal/store"
	"github.com/nerrad567/gray-logic-multidev/internal/transport"
)

// Hub operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// storeTimeout bounds a single value-store write.
	storeTimeout = 5 * time.Second

	// pruneJobName is the scheduler job name for value retention.
	pruneJobName = "store-prune"

	// pruneInterval is how often expired values are pruned.
	pruneInterval = time.Hour

	// pruneTimeout bounds a single prune pass.
	pruneTimeout = 30 * time.Second
)

// Hub hosts the configured devices and connects them to Core over
// MQTT. It handles:
//   - Receiving commands from Core via MQTT and dispatching them to devices
//   - Publishing every decoded device value as a state update
//   - Recording values to the history store and telemetry backend
//   - Health reporting and graceful shutdown
//
// The device set is fixed at construction; devices that fail to build
// are recorded as disabled and reported as such, they never take the
// bridge down.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	cfg       *config.Config
	mqtt      MQTTClient
	store     store.Store     // optional
	telemetry TelemetryWriter // optional
	scheduler *schedule.Scheduler
	health    *HealthReporter

	// Device set (immutable after construction)
	devices  map[string]*device.Device
	disabled map[string]string // name -> reason
	order    []string          // config order, disabled excluded

	// cyclicSet marks which device commands are polled cyclically,
	// for source attribution of unmarked deliveries.
	cyclicSet map[string]map[string]bool

	// inflight marks the source of the synchronous send a device is
	// currently executing on behalf of the hub.
	inflight map[string]string
	sourceMu sync.Mutex

	pruneRegistered bool

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context    // Hub-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger Logger
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
// The connection lifecycle belongs to the caller; the hub only
// publishes and subscribes.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// TelemetryWriter forwards readings to a time-series backend.
// This is optional - if nil, the hub operates without telemetry.
type TelemetryWriter interface {
	// WriteReading records one numeric reading. Implementations must
	// not block the caller.
	WriteReading(device, command string, value float64, source string, ts time.Time)
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a hub.
type Options struct {
	// Config is the loaded bridge configuration.
	Config *config.Config

	// MQTT is the MQTT client implementation.
	MQTT MQTTClient

	// Store is optional value history persistence.
	// If nil, the hub operates without history.
	Store store.Store

	// Telemetry is optional time-series forwarding.
	// If nil, the hub operates without telemetry.
	Telemetry TelemetryWriter

	// Scheduler drives cyclic polling and value retention. Optional;
	// without one devices never poll and values are never pruned.
	Scheduler *schedule.Scheduler

	// Logger is optional structured logger.
	Logger Logger

	// Version is the bridge software version for health reporting.
	Version string
}

// NewHub creates a new hub instance and builds every configured
// device. Construction failures disable the device and are reported
// via health and the status API; they never fail the hub.
// Call Start() to begin operation.
func NewHub(opts Options) (*Hub, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	// Create hub-level context for cancellation on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:       opts.Config,
		mqtt:      opts.MQTT,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		scheduler: opts.Scheduler,
		devices:   make(map[string]*device.Device),
		disabled:  make(map[string]string),
		cyclicSet: make(map[string]map[string]bool),
		inflight:  make(map[string]string),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	for _, dc := range opts.Config.Devices {
		dev, cyclic, err := h.buildDevice(dc)
		if err != nil {
			h.disabled[dc.Name] = err.Error()
			h.logError("device disabled", fmt.Errorf("%s: %w", dc.Name, err))
			continue
		}
		h.devices[dc.Name] = dev
		h.order = append(h.order, dc.Name)
		if len(cyclic) > 0 {
			set := make(map[string]bool, len(cyclic))
			for _, name := range cyclic {
				set[name] = true
			}
			h.cyclicSet[dc.Name] = set
		}
	}

	// Create health reporter
	h.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   version,
		Interval:  opts.Config.Bridge.GetHealthInterval(),
		Publisher: opts.MQTT,
		Source:    h,
	})
	if opts.Logger != nil {
		h.health.SetLogger(opts.Logger)
	}

	return h, nil
}

// buildDevice constructs one device from its configuration: loads the
// command table, builds the device, and wires the runtime data.
// Returns the device and the validated cyclic command names.
func (h *Hub) buildDevice(dc config.DeviceConfig) (*device.Device, []string, error) {
	defs, err := command.LoadDefinitions(dc.CommandsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load command table: %w", err)
	}

	kind, err := command.ParseKind(dc.CommandKind)
	if err != nil {
		return nil, nil, fmt.Errorf("command kind: %w", err)
	}

	devOpts := device.Options{
		Name: dc.Name,
		Settings: device.Settings{
			Type: dc.Transport,
			Transport: transport.Config{
				Host:       dc.Host,
				Port:       dc.Port,
				SerialPort: dc.SerialPort,
				Baudrate:   dc.Baudrate,
				Path:       dc.Path,
				Timeout:    dc.GetTimeout(),
			},
			Params:      dc.SubstitutionParams(),
			DefaultKind: kind,
		},
		Definitions: defs,
		Logger:      h.deviceLogger(dc.Name),
	}
	if h.scheduler != nil {
		devOpts.Scheduler = h.scheduler
	}

	dev, err := device.New(devOpts)
	if err != nil {
		return nil, nil, err
	}

	rd := h.runtimeFor(dev, dc.Poll)
	if err := dev.SetRuntimeData(rd); err != nil {
		return nil, nil, fmt.Errorf("set runtime data: %w", err)
	}

	cyclic := make([]string, 0, len(rd.CyclicCommands))
	for _, entry := range rd.CyclicCommands {
		cyclic = append(cyclic, entry.Command)
	}
	return dev, cyclic, nil
}

// runtimeFor derives the device runtime wiring from its poll
// configuration. Entries naming unknown or unreadable commands are
// dropped with a warning; a bad poll list never disables the device.
func (h *Hub) runtimeFor(dev *device.Device, poll config.PollConfig) device.RuntimeData {
	readable := func(list []string, context string) []string {
		out := make([]string, 0, len(list))
		for _, name := range list {
			if !dev.IsValid(name, command.ModeRead) {
				h.logWarn("dropping poll entry, command not readable",
					"device", dev.Name(), "list", context, "command", name)
				continue
			}
			out = append(out, name)
		}
		return out
	}

	rd := device.RuntimeData{
		Callback:        h.handleDeviceValue,
		ReadCommands:    readable(poll.Read, "read"),
		InitialCommands: readable(poll.Initial, "initial"),
		ReadAllOnStart:  poll.ReadAllOnStart,
	}

	for _, entry := range poll.Cyclic {
		if !dev.IsValid(entry.Command, command.ModeRead) {
			h.logWarn("dropping poll entry, command not readable",
				"device", dev.Name(), "list", "cyclic", "command", entry.Command)
			continue
		}
		rd.CyclicCommands = append(rd.CyclicCommands, device.CyclicEntry{
			Command: entry.Command,
			Period:  entry.GetPeriod(),
		})
	}

	return rd
}

// Start begins hub operation.
// This subscribes to MQTT topics, starts every device, and starts
// health reporting.
func (h *Hub) Start(ctx context.Context) error {
	// Publish starting status
	if err := h.health.PublishStarting(); err != nil {
		h.logError("failed to publish starting status", err)
	}

	// Subscribe to command topics
	commandTopic := CommandSubscribeTopic()
	if err := h.mqtt.Subscribe(commandTopic, 1, h.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	h.logInfo("subscribed to commands", "topic", commandTopic)

	// Subscribe to request topics
	requestTopic := RequestSubscribeTopic()
	if err := h.mqtt.Subscribe(requestTopic, 1, h.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	h.logInfo("subscribed to requests", "topic", requestTopic)

	// Start devices in config order. Initial reads run synchronously
	// inside Start, so the source marker covers them.
	for _, name := range h.order {
		dev := h.devices[name]
		h.markSource(name, store.SourceRead)
		err := dev.Start()
		h.clearSource(name)
		if err != nil {
			h.logError("device start failed", fmt.Errorf("%s: %w", name, err))
		}
	}

	// Register value retention
	if h.store != nil && h.scheduler != nil && h.cfg.Database.RetentionDays > 0 {
		if err := h.scheduler.Register(pruneJobName, pruneInterval, h.pruneStore); err != nil {
			h.logError("failed to register prune job", err)
		} else {
			h.pruneRegistered = true
		}
	}

	// Start health reporting
	h.health.Start(ctx)

	// Publish initial status
	if err := h.health.PublishNow(); err != nil {
		h.logError("failed to publish health status", err)
	}

	managed, connected, disabled := h.DeviceCounts()
	h.logInfo("hub started",
		"bridge_id", h.cfg.Bridge.ID,
		"devices", managed,
		"connected", connected,
		"disabled", disabled)

	return nil
}

// Stop gracefully shuts down the hub: devices stopped, retention job
// deregistered, final health status published.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		// Cancel hub context to abort in-flight store writes
		h.ctxCancel()

		// Stop devices in reverse start order
		for i := len(h.order) - 1; i >= 0; i-- {
			h.devices[h.order[i]].Stop()
		}

		if h.pruneRegistered {
			if err := h.scheduler.Deregister(pruneJobName); err != nil {
				h.logWarn("deregistering prune job", "error", err)
			}
		}

		// Stop health reporting (publishes "stopping" status)
		h.health.Stop()

		h.logInfo("hub stopped")
	})
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (h *Hub) handleMQTTMessage(topic string, payload []byte) {
	// Parse topic to determine message type
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		h.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	messageType := parts[1] // command, request, etc.

	switch messageType {
	case "command":
		h.handleCommand(payload)
	case "request":
		h.handleRequest(payload)
	default:
		h.logError("unknown message type", fmt.Errorf("type: %s", messageType))
	}
}

// handleCommand processes a command message from Core.
func (h *Hub) handleCommand(payload []byte) {
	// Parse command message
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.logError("failed to parse command", err)
		return
	}

	h.logInfo("received command",
		"command_id", cmd.ID,
		"device", cmd.Device,
		"command", cmd.Command)

	// Look up the device
	dev, ok := h.devices[cmd.Device]
	if !ok {
		if reason, wasDisabled := h.disabled[cmd.Device]; wasDisabled {
			h.publishAckError(cmd, ErrCodeNotConfigured,
				fmt.Sprintf("device %s is disabled: %s", cmd.Device, reason))
		} else {
			h.publishAckError(cmd, ErrCodeNotConfigured,
				fmt.Sprintf("device %s not configured", cmd.Device))
		}
		return
	}

	// Validate the command against the device's table. A command with
	// a value is a write; without one it is a read.
	if cmd.Value != nil {
		if !dev.IsValid(cmd.Command, command.ModeWrite) {
			h.publishAckError(cmd, ErrCodeInvalidCommand,
				fmt.Sprintf("device %s has no writable command %q", cmd.Device, cmd.Command))
			return
		}
	} else {
		if !dev.IsValid(cmd.Command, command.ModeRead) {
			h.publishAckError(cmd, ErrCodeInvalidCommand,
				fmt.Sprintf("device %s has no readable command %q", cmd.Device, cmd.Command))
			return
		}
	}

	if !dev.Alive() {
		h.publishAckError(cmd, ErrCodeDeviceUnreachable,
			fmt.Sprintf("device %s is stopped", cmd.Device))
		return
	}

	// Dispatch. The send runs synchronously on this goroutine, so the
	// source marker covers any echoed reply.
	source := store.SourceRead
	if cmd.Value != nil {
		source = store.SourceWriteEcho
	}
	h.markSource(cmd.Device, source)
	defer h.clearSource(cmd.Device)

	if !dev.SendCommand(cmd.Command, cmd.Value) {
		h.publishAckError(cmd, ErrCodeDeviceUnreachable,
			fmt.Sprintf("send to device %s failed", cmd.Device))
		return
	}

	h.publishAck(cmd, AckAccepted)
}

// publishAck publishes a command acknowledgment.
func (h *Hub) publishAck(cmd CommandMessage, status AckStatus) {
	ack := NewAckMessage(cmd, status)

	payload, err := json.Marshal(ack)
	if err != nil {
		h.logError("failed to marshal ack", err)
		return
	}

	topic := AckTopic(cmd.Device)
	if err := h.mqtt.Publish(topic, payload, 1, false); err != nil {
		h.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (h *Hub) publishAckError(cmd CommandMessage, code, message string) {
	ack := NewAckError(cmd, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		h.logError("failed to marshal ack error", err)
		return
	}

	topic := AckTopic(cmd.Device)
	if err := h.mqtt.Publish(topic, payload, 1, false); err != nil {
		h.logError("failed to publish ack error", err)
	}

	h.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

// handleDeviceValue receives every decoded value from every device.
// It publishes the state update, records history, and forwards
// numeric readings to telemetry. Invoked synchronously from whichever
// goroutine produced the value.
func (h *Hub) handleDeviceValue(deviceName, commandName string, value any) {
	source := h.sourceFor(deviceName, commandName)

	platformType := ""
	if dev, ok := h.devices[deviceName]; ok {
		platformType = dev.PlatformType(commandName)
	}

	msg := NewStateMessage(deviceName, commandName, value, platformType, source)

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logError("failed to marshal state", err)
		return
	}

	topic := StateTopic(deviceName)
	if err := h.mqtt.Publish(topic, payload, 1, true); err != nil {
		h.logError("failed to publish state", err)
	}

	// Record history under the same event id as the state message
	if h.store != nil {
		ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
		err := h.store.RecordValue(ctx, store.Value{
			ID:           msg.ID,
			Device:       deviceName,
			Command:      commandName,
			Value:        value,
			PlatformType: platformType,
			Source:       source,
			RecordedAt:   msg.Timestamp,
		})
		cancel()
		if err != nil {
			h.logError("failed to record value", err)
		}
	}

	if h.telemetry != nil {
		if f, ok := numericValue(value); ok {
			h.telemetry.WriteReading(deviceName, commandName, f, source, msg.Timestamp)
		}
	}
}

// pruneStore deletes values past the retention period.
func (h *Hub) pruneStore() {
	ctx, cancel := context.WithTimeout(h.ctx, pruneTimeout)
	defer cancel()

	retention := time.Duration(h.cfg.Database.RetentionDays) * 24 * time.Hour
	pruned, err := h.store.Prune(ctx, retention)
	if err != nil {
		h.logError("value prune failed", err)
		return
	}
	if pruned > 0 {
		h.logInfo("pruned expired values", "rows", pruned)
	}
}

// Source attribution. The device callback does not say which path
// produced a value, so the hub marks the device while it is inside a
// synchronous send on the device's behalf; unmarked deliveries are
// attributed by whether the command is cyclically polled.

// markSource marks a device as executing a send with the given source.
func (h *Hub) markSource(device, source string) {
	h.sourceMu.Lock()
	h.inflight[device] = source
	h.sourceMu.Unlock()
}

// clearSource removes a device's in-flight source marker.
func (h *Hub) clearSource(device string) {
	h.sourceMu.Lock()
	delete(h.inflight, device)
	h.sourceMu.Unlock()
}

// sourceFor resolves the source tag for a delivered value.
func (h *Hub) sourceFor(device, command string) string {
	h.sourceMu.Lock()
	source, ok := h.inflight[device]
	h.sourceMu.Unlock()
	if ok {
		return source
	}
	if h.cyclicSet[device][command] {
		return store.SourceCyclic
	}
	return store.SourcePush
}

// numericValue converts a platform value to a float for telemetry.
// Booleans map to 0/1 so switch states can be graphed; text values
// are not forwarded.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// deviceLogger returns a logger that tags every line with the device
// name, so interleaved device logs stay attributable.
func (h *Hub) deviceLogger(name string) device.Logger {
	if h.logger == nil {
		return nil
	}
	return scopedLogger{base: h.logger, device: name}
}

type scopedLogger struct {
	base   Logger
	device string
}

func (s scopedLogger) kv(args []any) []any {
	out := make([]any, 0, len(args)+2)
	out = append(out, "device", s.device)
	return append(out, args...)
}

func (s scopedLogger) Debug(msg string, keysAndValues ...any) {
	s.base.Debug(msg, s.kv(keysAndValues)...)
}

func (s scopedLogger) Info(msg string, keysAndValues ...any) {
	s.base.Info(msg, s.kv(keysAndValues)...)
}

func (s scopedLogger) Warn(msg string, keysAndValues ...any) {
	s.base.Warn(msg, s.kv(keysAndValues)...)
}

func (s scopedLogger) Error(msg string, keysAndValues ...any) {
	s.base.Error(msg, s.kv(keysAndValues)...)
}

// nil-guarded logging helpers.

func (h *Hub) logInfo(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Info(msg, keysAndValues...)
	}
}

func (h *Hub) logWarn(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, keysAndValues...)
	}
}

func (h *Hub) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
