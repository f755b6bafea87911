// Package device implements the per-device state machine of the
// multidev bridge.
//
// A Device ties together one command registry and one connection and
// drives them through a start/stop lifecycle:
//
//	┌──────────────┐   SendCommand   ┌──────────────┐
//	│     Hub      │────────────────►│    Device    │──► transport.Connection
//	│ (MQTT, API)  │◄────────────────│  (this pkg)  │◄── pushed frames
//	└──────────────┘    Callback     └──────────────┘
//
// # Lifecycle
//
// New builds the registry and connection; construction failure is
// terminal and the caller records the device as disabled. The host
// wiring (callback, read lists, cyclic entries) arrives exactly once
// via SetRuntimeData, then Start marks the device alive and opens the
// connection. A failed open is tolerated; every send re-opens on
// demand. Stop closes the connection but keeps the registry, so a
// stopped device can be reconfigured via UpdateParams and started
// again.
//
// # Data flow
//
// SendCommand renders the payload through the registry, hands it to
// the connection and feeds any reply into the decode/callback path.
// Push transports deliver through HandleInbound, which attributes
// unnamed data via the registry's reply patterns. All failures are
// contained: sends report false, bad replies are discarded with a log
// entry, and nothing panics across the package boundary.
//
// # Cyclic reads
//
// Devices with cyclic entries register one sweep job with the
// injected scheduler at half the shortest cycle. Each firing sends
// the entries that are due and advances their due times; an
// overrunning sweep causes the next firing to be skipped rather than
// queued.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. On-demand sends,
// cyclic sweeps and pushed data may interleave; ordering guarantees
// exist only within one ReadAll batch or one sweep.
package device
