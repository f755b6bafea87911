// Package api implements the bridge's read-only status HTTP API.
//
// This package provides:
//   - Liveness endpoint for process supervisors (/healthz)
//   - Device status endpoints (configured devices, connectivity,
//     command tables, disabled devices with reasons)
//   - Recent and latest stored values per device
//   - Middleware stack (request ID, logging, recovery)
//
// # Architecture
//
// The API is observability, not administration: every endpoint is a
// GET and nothing mutates bridge state. Control flows exclusively over
// MQTT from Core; this listener exists so an operator or supervisor
// can inspect a bridge without touching the bus.
//
// # Graceful Degradation
//
// The server operates without a value store: device status endpoints
// work, only the values endpoint reports unavailable. Disabling the
// API in config removes the listener entirely.
package api
