// Package influxdb is the bridge's optional time-series telemetry sink.
//
// It wraps the official influxdb-client-go v2 library. The hub forwards
// every numeric device reading here; non-numeric values never reach
// this package.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // errors.Is(err, influxdb.ErrDisabled) means run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteReading("thermostat-hall", "temperature", 21.5, "cyclic", time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval). A reading written while the client is closed or
// disconnected is silently dropped; the value store keeps the
// authoritative history.
package influxdb
