package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// SQLite implements Store on the device_values table.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite creates a value store over an open SQLite connection.
// The device_values table must exist (migrations run at startup).
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLite: Store instance ready for use
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// RecordValue inserts one value row.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - v: Value to persist; ID and RecordedAt are filled when empty
//
// Returns:
//   - error: ErrInvalidEntry for missing fields, otherwise the
//     underlying database error
func (s *SQLite) RecordValue(ctx context.Context, v Value) error {
	if v.Device == "" {
		return fmt.Errorf("%w: device is required", ErrInvalidEntry)
	}
	if v.Command == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidEntry)
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Source == "" {
		v.Source = SourceRead
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now()
	}

	valueJSON, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO device_values (id, device, command, value, platform_type, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID,
		v.Device,
		v.Command,
		string(valueJSON),
		v.PlatformType,
		v.Source,
		v.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting value: %w", err)
	}

	return nil
}

// RecentValues returns a device's values, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - device: Device name
//   - limit: Maximum rows to return (default 50, max 200)
//
// Returns:
//   - []Value: Values ordered newest first (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (s *SQLite) RecentValues(ctx context.Context, device string, limit int) ([]Value, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidEntry)
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device, command, value, platform_type, source, recorded_at
		 FROM device_values
		 WHERE device = ?
		 ORDER BY recorded_at DESC, rowid DESC
		 LIMIT ?`,
		device,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying values: %w", err)
	}
	defer rows.Close()

	return scanValues(rows, limit)
}

// LatestValues returns the most recent value per command for a
// device, ordered by command name.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - device: Device name
//
// Returns:
//   - []Value: One value per command (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (s *SQLite) LatestValues(ctx context.Context, device string) ([]Value, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidEntry)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device, command, value, platform_type, source, recorded_at
		 FROM device_values
		 WHERE rowid IN (
		     SELECT MAX(rowid) FROM device_values WHERE device = ? GROUP BY command
		 )
		 ORDER BY command`,
		device,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest values: %w", err)
	}
	defer rows.Close()

	return scanValues(rows, 0)
}

// Prune deletes values older than the retention period.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention period; rows older than now-olderThan go
//
// Returns:
//   - int64: Number of rows deleted
//   - error: ErrInvalidRetention or the underlying database error
func (s *SQLite) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM device_values WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting values: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// scanValues reads value rows into a slice.
func scanValues(rows *sql.Rows, sizeHint int) ([]Value, error) {
	values := make([]Value, 0, sizeHint)
	for rows.Next() {
		var v Value
		var valueJSON string
		var recordedAt string

		if err := rows.Scan(&v.ID, &v.Device, &v.Command, &valueJSON, &v.PlatformType, &v.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning value row: %w", err)
		}

		if err := json.Unmarshal([]byte(valueJSON), &v.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}

		timestamp, err := parseTimestamp(recordedAt)
		if err != nil {
			return nil, err
		}
		v.RecordedAt = timestamp

		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating value rows: %w", err)
	}
	return values, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("recorded_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing recorded_at: %w", err)
}
