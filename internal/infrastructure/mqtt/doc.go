// Package mqtt provides MQTT client connectivity for the MultiDevice bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) registration for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gray Logic uses MQTT as the message bus between the Core and protocol
// bridges. This bridge publishes device state and health, and receives
// commands and requests:
//
//	Gray Logic Core ↔ MQTT Broker ↔ MultiDevice Bridge ↔ Devices
//
// Topic construction lives in the hub package; this package only moves
// bytes. The hub supplies the LWT payload (health "offline" status) at
// connect time so the broker announces a crashed bridge on the same
// topic the health reporter uses.
//
// # Security Considerations
//
//   - TLS is enabled by broker URL scheme (ssl:// or tls://)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:    hub.HealthTopic(),
//	    Payload:  lwtPayload,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/multidev/#", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
