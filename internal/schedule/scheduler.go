// Package schedule runs named periodic jobs for the device layer.
//
// Each registered job owns one goroutine and one ticker, so firings of
// the same job never overlap: the next tick is not serviced until the
// previous callback returns. Different jobs run independently.
//
// Devices register a single sweep job each; the scheduler itself knows
// nothing about devices or commands.
package schedule

import (
	"sync"
	"time"
)

// Logger is the optional logging interface for the scheduler.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type job struct {
	ticker *time.Ticker
	done   chan struct{}
}

// Scheduler runs named periodic jobs.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	logger Logger

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler. Pass a nil logger to silence it.
func New(logger Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// Register adds a periodic job and starts it immediately. The first
// firing happens one period after registration.
//
// Parameters:
//   - name: Unique job name
//   - period: Interval between firings, must be positive
//   - fn: Callback to run on each firing, on the job's own goroutine
//
// Returns:
//   - error: ErrInvalidPeriod, ErrDuplicateJob or ErrStopped
func (s *Scheduler) Register(name string, period time.Duration, fn func()) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.jobs[name]; exists {
		return ErrDuplicateJob
	}

	j := &job{
		ticker: time.NewTicker(period),
		done:   make(chan struct{}),
	}
	s.jobs[name] = j

	s.wg.Add(1)
	go s.run(j, fn)

	s.logDebug("job registered", "job", name, "period", period)
	return nil
}

// Deregister stops and removes a job. It does not wait for an
// in-flight firing to finish.
//
// Returns:
//   - error: ErrUnknownJob if no such job exists
func (s *Scheduler) Deregister(name string) error {
	s.mu.Lock()
	j, exists := s.jobs[name]
	if exists {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !exists {
		return ErrUnknownJob
	}

	close(j.done)
	j.ticker.Stop()
	s.logDebug("job deregistered", "job", name)
	return nil
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop removes every job and waits for all job goroutines to exit.
// The scheduler cannot be reused afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		close(j.done)
		j.ticker.Stop()
	}
	s.wg.Wait()
}

// run services one job until it is deregistered or the scheduler
// stops. Firings are sequential by construction.
func (s *Scheduler) run(j *job, fn func()) {
	defer s.wg.Done()
	for {
		select {
		case <-j.done:
			return
		case <-j.ticker.C:
			fn()
		}
	}
}

func (s *Scheduler) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}
