package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementReadings is the measurement all device readings land in.
// Device, command and source are tags so dashboards can slice by any
// of them without schema changes.
const measurementReadings = "device_readings"

// WriteReading records one numeric device reading.
//
// This is the method the hub feeds; every decoded numeric value passes
// through here when telemetry is enabled. The write is non-blocking;
// data is batched and sent asynchronously. Readings arriving while
// disconnected are dropped.
//
// Parameters:
//   - device: Producing device name (e.g. "thermostat-hall")
//   - command: Command the value belongs to (e.g. "temperature")
//   - value: The numeric value (booleans arrive as 0/1)
//   - source: Producing path tag ("read", "cyclic", "push", "write-echo")
//   - ts: When the value was decoded
func (c *Client) WriteReading(device, command string, value float64, source string, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementReadings,
		map[string]string{
			"device":  device,
			"command": command,
			"source":  source,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}
