package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-multidev/internal/command"
	"github.com/nerrad567/gray-logic-multidev/internal/transport"
)

// ─────────────────────────────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────────────────────────────

// spyConn is a scripted Connection that records every call.
type spyConn struct {
	mu        sync.Mutex
	connected bool
	openErr   error
	sendErr   error
	reply     []byte
	sends     []transport.Payload
	opens     int
	closes    int
}

func (c *spyConn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return c.openErr
	}
	c.connected = true
	return nil
}

func (c *spyConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.connected = false
	return nil
}

func (c *spyConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *spyConn) Send(_ context.Context, p transport.Payload) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, p)
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	return c.reply, nil
}

func (c *spyConn) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *spyConn) setReply(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = b
}

func (c *spyConn) sentBodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sends))
	for i, p := range c.sends {
		out[i] = p.Body
	}
	return out
}

func (c *spyConn) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// callbackRecorder captures callback deliveries.
type callbackRecorder struct {
	mu    sync.Mutex
	calls []callbackCall
}

type callbackCall struct {
	device  string
	command string
	value   any
}

func (r *callbackRecorder) record(device, command string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callbackCall{device: device, command: command, value: value})
}

func (r *callbackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *callbackRecorder) last(t *testing.T) callbackCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatal("no callback deliveries recorded")
	}
	return r.calls[len(r.calls)-1]
}

// ─────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────

func testDefinitions() []command.Definition {
	return []command.Definition{
		{Name: "power", Opcode: "PWR", WriteTemplate: "$C $V", Read: true, Write: true, WireType: "bool", PlatformType: "bool"},
		{Name: "temperature", Opcode: "TEMP?", Read: true, WireType: "number", PlatformType: "num"},
		{Name: "mode", Opcode: "MODE?", Read: true, ReplyPattern: "^MODE:"},
		{Name: "status", Opcode: "STATUS?", Read: true, WireType: "number", ReplyExtraction: []string{"data", "value"}},
		{Name: "preset", Opcode: "PRESET $P:zone:", Read: true},
	}
}

// newTestDevice builds a device on the no-op transport, swaps in the
// spy connection and wires a recording callback.
func newTestDevice(t *testing.T, spy *spyConn, rd RuntimeData) (*Device, *callbackRecorder) {
	t.Helper()

	d, err := New(Options{
		Name: "thermo",
		Settings: Settings{
			Type:   "none",
			Params: map[string]string{"zone": "1"},
		},
		Definitions: testDefinitions(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.conn = spy

	rec := &callbackRecorder{}
	rd.Callback = rec.record
	if err := d.SetRuntimeData(rd); err != nil {
		t.Fatalf("SetRuntimeData: %v", err)
	}
	return d, rec
}

// ─────────────────────────────────────────────────────────────────────
// Construction
// ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresName(t *testing.T) {
	_, err := New(Options{Definitions: testDefinitions()})
	if err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestNew_UnusableCommandTable(t *testing.T) {
	_, err := New(Options{Name: "thermo"})
	if !errors.Is(err, command.ErrNoCommands) {
		t.Fatalf("expected ErrNoCommands, got %v", err)
	}
}

func TestNew_InvalidTransportConfig(t *testing.T) {
	_, err := New(Options{
		Name:        "thermo",
		Settings:    Settings{Type: "tcp"},
		Definitions: testDefinitions(),
	})
	if !errors.Is(err, transport.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNew_UnrecognisedTypeFallsBackToInference(t *testing.T) {
	d, err := New(Options{
		Name:        "thermo",
		Settings:    Settings{Type: "carrier-pigeon"},
		Definitions: testDefinitions(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// No port, no serial path: inference lands on the no-op
	// connection, which reports connected after Open.
	if err := d.conn.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !d.Connected() {
		t.Fatal("expected inferred no-op connection to connect")
	}
}

// ─────────────────────────────────────────────────────────────────────
// Runtime data
// ─────────────────────────────────────────────────────────────────────

func TestSetRuntimeData_RequiresCallback(t *testing.T) {
	d, err := New(Options{
		Name:        "thermo",
		Settings:    Settings{Type: "none"},
		Definitions: testDefinitions(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.SetRuntimeData(RuntimeData{}); !errors.Is(err, ErrNoCallback) {
		t.Fatalf("expected ErrNoCallback, got %v", err)
	}
}

func TestSetRuntimeData_ExactlyOnce(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})

	err := d.SetRuntimeData(RuntimeData{Callback: func(string, string, any) {}})
	if !errors.Is(err, ErrRuntimeDataSet) {
		t.Fatalf("expected ErrRuntimeDataSet, got %v", err)
	}
}

func TestSetRuntimeData_RefusedWhileStarted(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	err := d.SetRuntimeData(RuntimeData{Callback: func(string, string, any) {}})
	if !errors.Is(err, ErrAlive) {
		t.Fatalf("expected ErrAlive, got %v", err)
	}
}

func TestSetRuntimeData_DropsNonPositivePeriods(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{
		CyclicCommands: []CyclicEntry{
			{Command: "temperature", Period: 10 * time.Second},
			{Command: "power", Period: 0},
		},
	})

	if len(d.cyclic) != 1 {
		t.Fatalf("expected 1 cyclic entry, got %d", len(d.cyclic))
	}
	if d.cyclic[0].command != "temperature" {
		t.Fatalf("kept wrong entry: %q", d.cyclic[0].command)
	}
}

// ─────────────────────────────────────────────────────────────────────
// Start / Stop
// ─────────────────────────────────────────────────────────────────────

func TestStart_RequiresRuntimeData(t *testing.T) {
	d, err := New(Options{
		Name:        "thermo",
		Settings:    Settings{Type: "none"},
		Definitions: testDefinitions(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.Start(); !errors.Is(err, ErrNoRuntimeData) {
		t.Fatalf("expected ErrNoRuntimeData, got %v", err)
	}
	if d.Alive() {
		t.Fatal("device must stay stopped")
	}
}

func TestStart_OpenFailureIsNotFatal(t *testing.T) {
	spy := &spyConn{openErr: errors.New("refused")}
	d, _ := newTestDevice(t, spy, RuntimeData{
		InitialCommands: []string{"temperature"},
	})

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.Alive() {
		t.Fatal("device must be alive despite the failed open")
	}
	if got := len(spy.sentBodies()); got != 0 {
		t.Fatalf("expected no sends while disconnected, got %d", got)
	}
}

func TestStart_InitialReadsLatchAcrossRestarts(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{
		InitialCommands: []string{"temperature", "power"},
	})

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	bodies := spy.sentBodies()
	if len(bodies) != 2 || bodies[0] != "TEMP?" || bodies[1] != "PWR" {
		t.Fatalf("initial reads = %v, want [TEMP? PWR]", bodies)
	}

	d.Stop()
	if err := d.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer d.Stop()

	if got := len(spy.sentBodies()); got != 2 {
		t.Fatalf("initial reads ran again on restart: %d sends", got)
	}
}

func TestStart_ReadAllOnStart(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{
		ReadCommands:   []string{"temperature", "mode"},
		ReadAllOnStart: true,
	})

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	bodies := spy.sentBodies()
	if len(bodies) != 2 || bodies[0] != "TEMP?" || bodies[1] != "MODE?" {
		t.Fatalf("read-all on start = %v, want [TEMP? MODE?]", bodies)
	}
}

func TestStart_AlreadyStartedIsNoOp(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{
		InitialCommands: []string{"temperature"},
	})

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if err := d.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := spy.openCount(); got != 1 {
		t.Fatalf("second Start touched the connection: %d opens", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()
	d.Stop()

	if d.Alive() {
		t.Fatal("device still alive after Stop")
	}
	if spy.Connected() {
		t.Fatal("connection still open after Stop")
	}
}

// ─────────────────────────────────────────────────────────────────────
// SendCommand
// ─────────────────────────────────────────────────────────────────────

func TestSendCommand_NotAliveTouchesNothing(t *testing.T) {
	spy := &spyConn{}
	d, rec := newTestDevice(t, spy, RuntimeData{})

	if d.SendCommand("temperature", nil) {
		t.Fatal("send must fail on a stopped device")
	}
	if spy.openCount() != 0 || len(spy.sentBodies()) != 0 {
		t.Fatal("stopped device touched the transport")
	}
	if rec.count() != 0 {
		t.Fatal("stopped device delivered a value")
	}
}

func TestSendCommand_WriteRendersValue(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.SendCommand("power", true) {
		t.Fatal("send failed")
	}
	bodies := spy.sentBodies()
	if len(bodies) != 1 || bodies[0] != "PWR true" {
		t.Fatalf("sent %v, want [PWR true]", bodies)
	}
}

func TestSendCommand_UnknownCommandAbortsBeforeTransport(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if d.SendCommand("phantom", nil) {
		t.Fatal("unknown command must fail")
	}
	if got := len(spy.sentBodies()); got != 0 {
		t.Fatalf("unknown command reached the transport: %d sends", got)
	}
}

func TestSendCommand_ReopensOnDemand(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	spy.setConnected(false)

	if !d.SendCommand("temperature", nil) {
		t.Fatal("send failed after reconnect")
	}
	if got := spy.openCount(); got != 2 {
		t.Fatalf("expected re-open on demand, got %d opens", got)
	}
}

func TestSendCommand_OpenFailureIsFalse(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	spy.setConnected(false)
	spy.mu.Lock()
	spy.openErr = errors.New("refused")
	spy.mu.Unlock()

	if d.SendCommand("temperature", nil) {
		t.Fatal("send must fail when the connection cannot be established")
	}
	if got := len(spy.sentBodies()); got != 0 {
		t.Fatalf("payload sent despite failed open: %d sends", got)
	}
}

func TestSendCommand_TransportErrorIsFalse(t *testing.T) {
	spy := &spyConn{sendErr: errors.New("broken pipe")}
	d, rec := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if d.SendCommand("temperature", nil) {
		t.Fatal("transport error must yield false")
	}
	if rec.count() != 0 {
		t.Fatal("failed send delivered a value")
	}
}

func TestSendCommand_ReplyReachesCallback(t *testing.T) {
	spy := &spyConn{reply: []byte("21.5")}
	d, rec := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.SendCommand("temperature", nil) {
		t.Fatal("send failed")
	}

	call := rec.last(t)
	if call.device != "thermo" || call.command != "temperature" {
		t.Fatalf("callback context = %s/%s", call.device, call.command)
	}
	if v, ok := call.value.(float64); !ok || v != 21.5 {
		t.Fatalf("callback value = %v (%T), want 21.5", call.value, call.value)
	}
}

func TestSendCommand_StructuredReplyExtracted(t *testing.T) {
	spy := &spyConn{reply: []byte(`{"data":{"value":7},"extra":1}`)}
	d, rec := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.SendCommand("status", nil) {
		t.Fatal("send failed")
	}

	call := rec.last(t)
	if v, ok := call.value.(float64); !ok || v != 7 {
		t.Fatalf("extracted value = %v (%T), want 7", call.value, call.value)
	}
}

func TestSendCommand_UndecodableReplyDiscarded(t *testing.T) {
	spy := &spyConn{reply: []byte("not json at all")}
	d, rec := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	// The send itself succeeds; only the reply is discarded.
	if !d.SendCommand("status", nil) {
		t.Fatal("send must succeed despite the bad reply")
	}
	if rec.count() != 0 {
		t.Fatal("undecodable reply was delivered")
	}
}

func TestSendCommand_TransformHook(t *testing.T) {
	spy := &spyConn{}

	d, err := New(Options{
		Name:        "thermo",
		Settings:    Settings{Type: "none"},
		Definitions: testDefinitions(),
		Transform: func(_ string, p transport.Payload) transport.Payload {
			p.Body += "\r\n"
			return p
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.conn = spy
	if err := d.SetRuntimeData(RuntimeData{Callback: func(string, string, any) {}}); err != nil {
		t.Fatalf("SetRuntimeData: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.SendCommand("temperature", nil) {
		t.Fatal("send failed")
	}
	bodies := spy.sentBodies()
	if len(bodies) != 1 || !strings.HasSuffix(bodies[0], "\r\n") {
		t.Fatalf("transform not applied: %q", bodies)
	}
}

// ─────────────────────────────────────────────────────────────────────
// Inbound data
// ─────────────────────────────────────────────────────────────────────

func TestHandleInbound_NamedData(t *testing.T) {
	spy := &spyConn{}
	d, rec := newTestDevice(t, spy, RuntimeData{})

	d.HandleInbound("temperature", []byte("22.5"))

	call := rec.last(t)
	if call.command != "temperature" {
		t.Fatalf("command = %q", call.command)
	}
	if v, ok := call.value.(float64); !ok || v != 22.5 {
		t.Fatalf("value = %v (%T), want 22.5", call.value, call.value)
	}
}

func TestHandleInbound_AttributedByPattern(t *testing.T) {
	spy := &spyConn{}
	d, rec := newTestDevice(t, spy, RuntimeData{})

	d.HandleInbound("", []byte("MODE:eco"))

	call := rec.last(t)
	if call.command != "mode" {
		t.Fatalf("attributed to %q, want mode", call.command)
	}
	if call.value != "MODE:eco" {
		t.Fatalf("value = %v", call.value)
	}
}

func TestHandleInbound_UnattributableDiscarded(t *testing.T) {
	spy := &spyConn{}
	d, rec := newTestDevice(t, spy, RuntimeData{})

	d.HandleInbound("", []byte("garbage nobody claims"))

	if rec.count() != 0 {
		t.Fatal("unattributable data was delivered")
	}
}

func TestHandleInbound_NoRuntimeDataDoesNotPanic(t *testing.T) {
	d, err := New(Options{
		Name:        "thermo",
		Settings:    Settings{Type: "none"},
		Definitions: testDefinitions(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.HandleInbound("temperature", []byte("21"))
}

// ─────────────────────────────────────────────────────────────────────
// ReadAll
// ─────────────────────────────────────────────────────────────────────

func TestReadAll_IgnoresIndividualFailures(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{
		ReadCommands: []string{"phantom", "temperature"},
	})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	d.ReadAll()

	bodies := spy.sentBodies()
	if len(bodies) != 1 || bodies[0] != "TEMP?" {
		t.Fatalf("sends = %v, want [TEMP?]", bodies)
	}
}

// ─────────────────────────────────────────────────────────────────────
// UpdateParams
// ─────────────────────────────────────────────────────────────────────

func TestUpdateParams_RefusedWhileStarted(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	err := d.UpdateParams(map[string]string{"host": "example.com"})
	if !errors.Is(err, ErrAlive) {
		t.Fatalf("expected ErrAlive, got %v", err)
	}
}

func TestUpdateParams_RequiresParams(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})

	if err := d.UpdateParams(nil); !errors.Is(err, ErrNoParams) {
		t.Fatalf("expected ErrNoParams, got %v", err)
	}
}

func TestUpdateParams_MergesAndRebuilds(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})
	oldConn := d.conn

	err := d.UpdateParams(map[string]string{
		"host":    "example.com",
		"port":    "8080",
		"timeout": "2.5",
		"zone":    "9",
	})
	if err != nil {
		t.Fatalf("UpdateParams: %v", err)
	}

	s := d.Settings()
	if s.Transport.Host != "example.com" || s.Transport.Port != 8080 {
		t.Fatalf("transport settings not applied: %+v", s.Transport)
	}
	if s.Transport.Timeout != 2500*time.Millisecond {
		t.Fatalf("timeout = %v, want 2.5s", s.Transport.Timeout)
	}
	if s.Params["zone"] != "9" {
		t.Fatalf("params = %v", s.Params)
	}
	if d.conn == oldConn {
		t.Fatal("connection was not rebuilt")
	}

	// The rebuilt registry renders with the merged parameters.
	spy2 := &spyConn{}
	d.conn = spy2
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.SendCommand("preset", nil) {
		t.Fatal("send failed")
	}
	bodies := spy2.sentBodies()
	if len(bodies) != 1 || bodies[0] != "PRESET 9" {
		t.Fatalf("rendered %v, want [PRESET 9]", bodies)
	}
}

func TestUpdateParams_BadCoercionLeavesSettings(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{})

	if err := d.UpdateParams(map[string]string{"port": "not-a-port"}); err == nil {
		t.Fatal("expected coercion error")
	}

	s := d.Settings()
	if s.Transport.Port != 0 {
		t.Fatalf("settings mutated on failure: %+v", s.Transport)
	}
	if d.conn != spy {
		t.Fatal("connection replaced on failure")
	}
}
