package device

import "time"

// cyclicState tracks one polled command. A zero nextDue means due
// immediately; after each send it advances by the entry's period from
// the sweep's captured time, tolerating drift rather than correcting
// it.
type cyclicState struct {
	command string
	period  time.Duration
	nextDue time.Time
}

// registerCyclic registers the sweep job at half the shortest
// configured cycle, so a poll fires at most half a period late.
// Devices without a scheduler or without cyclic entries never poll.
func (d *Device) registerCyclic() {
	d.mu.Lock()
	entries := d.cyclic
	d.mu.Unlock()

	if d.scheduler == nil || len(entries) == 0 {
		return
	}

	shortest := entries[0].period
	for _, e := range entries[1:] {
		if e.period < shortest {
			shortest = e.period
		}
	}

	if err := d.scheduler.Register(d.name, shortest/2, d.cyclicSweep); err != nil {
		d.logWarn("cyclic job not registered", "error", err)
		return
	}
	d.logDebug("cyclic job registered", "commands", len(entries), "sweep", shortest/2)
}

// deregisterCyclic removes the sweep job. Called from Stop regardless
// of whether registration ever happened.
func (d *Device) deregisterCyclic() {
	if d.scheduler == nil {
		return
	}
	//nolint:errcheck // The job may never have been registered.
	d.scheduler.Deregister(d.name)
}

// cyclicSweep sends every cyclic command whose due time has arrived,
// in registration order. One sweep runs at a time; a firing that
// lands while the previous sweep is still running is skipped, never
// queued. A dead device or dropped connection aborts the remainder of
// the sweep; the skipped entries stay due for the next firing.
func (d *Device) cyclicSweep() {
	if !d.cyclicActive.CompareAndSwap(false, true) {
		d.logWarn("cyclic sweep still running, skipping firing")
		return
	}
	defer d.cyclicActive.Store(false)

	now := d.now()

	d.mu.Lock()
	conn := d.conn
	due := make([]int, 0, len(d.cyclic))
	for i := range d.cyclic {
		if d.cyclic[i].nextDue.IsZero() || !d.cyclic[i].nextDue.After(now) {
			due = append(due, i)
		}
	}
	d.mu.Unlock()

	for _, i := range due {
		if !d.alive.Load() || conn == nil || !conn.Connected() {
			d.logDebug("aborting cyclic sweep, device unavailable")
			return
		}

		d.mu.Lock()
		name := d.cyclic[i].command
		period := d.cyclic[i].period
		d.mu.Unlock()

		d.SendCommand(name, nil)

		d.mu.Lock()
		d.cyclic[i].nextDue = now.Add(period)
		d.mu.Unlock()
	}
}
