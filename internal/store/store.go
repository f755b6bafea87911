// Package store persists decoded device values in SQLite.
//
// Every value a device delivers through its callback is recorded as
// one row: which device, which command, the JSON-encoded value, and
// which path produced it. The history serves the status API and
// post-incident inspection; it is not a time-series database (the
// optional InfluxDB sink covers trending).
package store

import (
	"context"
	"time"
)

// Value source tags: which path produced a recorded value.
const (
	// SourceRead marks values from explicit reads (read requests,
	// read-all batches, initial reads).
	SourceRead = "read"

	// SourceCyclic marks values from cyclic polling.
	SourceCyclic = "cyclic"

	// SourcePush marks values the device pushed unprompted.
	SourcePush = "push"

	// SourceWriteEcho marks values echoed back by a write command.
	SourceWriteEcho = "write-echo"
)

// Value is one recorded device value.
type Value struct {
	// ID is the unique row id. Generated when left empty on record.
	ID string `json:"id"`

	// Device is the owning device name.
	Device string `json:"device"`

	// Command is the command that produced the value.
	Command string `json:"command"`

	// Value is the decoded platform value.
	Value any `json:"value"`

	// PlatformType is the command's platform-side type tag.
	PlatformType string `json:"platform_type"`

	// Source tags the producing path (read, cyclic, push, write-echo).
	Source string `json:"source"`

	// RecordedAt is the record timestamp (UTC).
	RecordedAt time.Time `json:"recorded_at"`
}

// Store records and retrieves device value history.
//
// Implementations must be safe for concurrent use and keep timestamps
// in UTC.
type Store interface {
	// RecordValue persists one value. An empty ID is filled with a
	// generated one; an empty RecordedAt is filled with the current
	// time.
	RecordValue(ctx context.Context, v Value) error

	// RecentValues returns a device's values, newest first.
	// The limit defaults and clamps per implementation.
	RecentValues(ctx context.Context, device string, limit int) ([]Value, error)

	// LatestValues returns the most recent value per command for a
	// device, ordered by command name.
	LatestValues(ctx context.Context, device string) ([]Value, error)

	// Prune deletes values older than the given retention period,
	// returning the number of rows removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
