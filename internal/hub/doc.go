// Package hub hosts the configured devices and bridges them onto the
// Gray Logic MQTT bus.
//
// # Architecture
//
// The hub is the plugin-host layer between Core and the device state
// machines:
//
//	┌─────────────────┐          ┌─────────────────┐   transports
//	│   Gray Logic    │   MQTT   │  MultiDevice    │◄────────► devices
//	│      Core       │◄────────►│  Hub (this pkg) │   http/tcp/udp/
//	└─────────────────┘          └─────────────────┘   websocket/serial
//
// # Key Responsibilities
//
//   - Build every configured device from its command table and transport
//     settings; record build failures as disabled rather than fatal
//   - Subscribe to command and request topics and dispatch to devices
//   - Publish every decoded device value as a retained state message
//   - Attribute each value to its producing path (read, cyclic, push,
//     write-echo) and record it to the history store and telemetry
//   - Publish periodic health status with an LWT for unexpected loss
//
// # Topics
//
// The hub speaks the flat Gray Logic bridge scheme with protocol
// segment "multidev" and the device name as the address:
//
//	graylogic/command/multidev/{device}     commands from Core
//	graylogic/ack/multidev/{device}         command acknowledgments
//	graylogic/state/multidev/{device}       decoded values (retained)
//	graylogic/request/multidev/{requestID}  read/read_all/update_params
//	graylogic/response/multidev/{requestID} request responses
//	graylogic/health/multidev               health status (retained, LWT)
//
// # Source Attribution
//
// The device callback carries no origin, so the hub marks a device
// while it is inside a synchronous send on the device's behalf
// (command writes mark write-echo, read paths mark read). Deliveries
// without a marker are cyclic when the command is polled, push
// otherwise. Attribution is best effort: a push arriving while a
// marked send is in flight inherits the marker.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use from multiple
// goroutines.
package hub
