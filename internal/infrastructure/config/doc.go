// Package config loads and validates the MultiDevice bridge configuration.
//
// Configuration is read from a single YAML file, layered with hardcoded
// defaults and MULTIDEV_* environment variable overrides:
//
//	cfg, err := config.Load("/etc/graylogic/multidev.yaml")
//
// # Structure
//
//	bridge:    identity, health reporting interval
//	mqtt:      broker connection (Core-facing message bus)
//	database:  SQLite value history store
//	influxdb:  optional numeric telemetry sink
//	api:       read-only operational status endpoint
//	logging:   level, format, destination
//	devices:   managed device list (transport, params, command table, poll wiring)
//
// Each device entry names a YAML command table file; those files are
// loaded separately by the command package when the device is built.
//
// # Validation
//
// Load fails on malformed YAML, out-of-range values, duplicate device
// names, and missing required fields. Per-command problems inside a
// command table are not detected here; they surface when the device is
// constructed.
package config
