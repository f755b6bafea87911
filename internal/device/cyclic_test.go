package device

import (
	"sync"
	"testing"
	"time"
)

// fakeScheduler records registrations instead of running them.
type fakeScheduler struct {
	mu      sync.Mutex
	periods map[string]time.Duration
	deregs  []string
}

func (s *fakeScheduler) Register(name string, period time.Duration, _ func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.periods == nil {
		s.periods = make(map[string]time.Duration)
	}
	s.periods[name] = period
	return nil
}

func (s *fakeScheduler) Deregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deregs = append(s.deregs, name)
	return nil
}

// newCyclicDevice starts a device with two polled commands and a
// pinned clock.
func newCyclicDevice(t *testing.T, spy *spyConn, at time.Time) *Device {
	t.Helper()

	d, _ := newTestDevice(t, spy, RuntimeData{
		CyclicCommands: []CyclicEntry{
			{Command: "temperature", Period: 10 * time.Second},
			{Command: "power", Period: 30 * time.Second},
		},
	})
	d.now = func() time.Time { return at }

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestCyclicSweep_DueEntriesSentInOrder(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spy := &spyConn{}
	d := newCyclicDevice(t, spy, t0)

	// Fresh entries are all due: one sweep sends both, in
	// registration order, and schedules each one period out.
	d.cyclicSweep()

	bodies := spy.sentBodies()
	if len(bodies) != 2 || bodies[0] != "TEMP?" || bodies[1] != "PWR" {
		t.Fatalf("sweep sent %v, want [TEMP? PWR]", bodies)
	}

	d.mu.Lock()
	nextA, nextB := d.cyclic[0].nextDue, d.cyclic[1].nextDue
	d.mu.Unlock()

	if !nextA.Equal(t0.Add(10 * time.Second)) {
		t.Fatalf("temperature next due %v, want t0+10s", nextA)
	}
	if !nextB.Equal(t0.Add(30 * time.Second)) {
		t.Fatalf("power next due %v, want t0+30s", nextB)
	}
}

func TestCyclicSweep_NotDueEntriesSkipped(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spy := &spyConn{}
	d := newCyclicDevice(t, spy, t0)

	d.cyclicSweep()

	// Same instant again: nothing is due.
	d.cyclicSweep()
	if got := len(spy.sentBodies()); got != 2 {
		t.Fatalf("second sweep at the same instant sent more: %d total", got)
	}

	// Ten seconds on, only the short cycle is due again.
	d.now = func() time.Time { return t0.Add(10 * time.Second) }
	d.cyclicSweep()

	bodies := spy.sentBodies()
	if len(bodies) != 3 || bodies[2] != "TEMP?" {
		t.Fatalf("third sweep sent %v", bodies)
	}

	d.mu.Lock()
	nextA := d.cyclic[0].nextDue
	d.mu.Unlock()
	if !nextA.Equal(t0.Add(20 * time.Second)) {
		t.Fatalf("temperature next due %v, want t0+20s", nextA)
	}
}

func TestCyclicSweep_OverrunSkipsFiring(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spy := &spyConn{}
	d := newCyclicDevice(t, spy, t0)

	d.cyclicActive.Store(true)
	d.cyclicSweep()

	if got := len(spy.sentBodies()); got != 0 {
		t.Fatalf("overrunning sweep sent %d commands", got)
	}
	if !d.cyclicActive.Load() {
		t.Fatal("skipped firing cleared the active flag")
	}
}

func TestCyclicSweep_AbortsWhenStopped(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spy := &spyConn{}
	d := newCyclicDevice(t, spy, t0)

	d.Stop()
	d.cyclicSweep()

	if got := len(spy.sentBodies()); got != 0 {
		t.Fatalf("stopped device polled: %d sends", got)
	}

	d.mu.Lock()
	nextA := d.cyclic[0].nextDue
	d.mu.Unlock()
	if !nextA.IsZero() {
		t.Fatal("aborted entry advanced its due time")
	}
}

func TestCyclicSweep_AbortsWhenDisconnected(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spy := &spyConn{}
	d := newCyclicDevice(t, spy, t0)

	spy.setConnected(false)
	d.cyclicSweep()

	if got := len(spy.sentBodies()); got != 0 {
		t.Fatalf("disconnected device polled: %d sends", got)
	}
}

func TestStart_RegistersSweepAtHalfShortestCycle(t *testing.T) {
	spy := &spyConn{}
	sched := &fakeScheduler{}

	d, _ := newTestDevice(t, spy, RuntimeData{
		CyclicCommands: []CyclicEntry{
			{Command: "temperature", Period: 10 * time.Second},
			{Command: "power", Period: 4 * time.Second},
		},
	})
	d.scheduler = sched

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sched.mu.Lock()
	period, registered := sched.periods["thermo"]
	sched.mu.Unlock()
	if !registered {
		t.Fatal("sweep job was not registered")
	}
	if period != 2*time.Second {
		t.Fatalf("sweep period = %v, want 2s", period)
	}

	d.Stop()

	sched.mu.Lock()
	deregs := len(sched.deregs)
	sched.mu.Unlock()
	if deregs != 1 {
		t.Fatalf("expected 1 deregistration, got %d", deregs)
	}
}

func TestStart_NoSchedulerNeverRegisters(t *testing.T) {
	spy := &spyConn{}
	d, _ := newTestDevice(t, spy, RuntimeData{
		CyclicCommands: []CyclicEntry{
			{Command: "temperature", Period: 10 * time.Second},
		},
	})

	// Standalone devices run without a scheduler; Start and Stop
	// must not mind.
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()
}
