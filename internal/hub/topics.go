package hub

import "fmt"

// MQTT topic layout, flat scheme shared by all Gray Logic bridges:
// graylogic/{category}/{protocol}/{address}. The protocol segment for
// this bridge is "multidev" and the address is the device name
// (config validation keeps names topic-safe).
const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"

	// Protocol is the protocol segment in bridge topics.
	Protocol = "multidev"
)

// CommandTopic returns the MQTT topic for commands to a device.
// Example: graylogic/command/multidev/projector
func CommandTopic(device string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, device)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/multidev/projector
func AckTopic(device string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, device)
}

// StateTopic returns the MQTT topic for device value updates.
// Example: graylogic/state/multidev/projector
func StateTopic(device string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, device)
}

// HealthTopic returns the MQTT topic for bridge health status.
// Example: graylogic/health/multidev
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the MQTT topic for requests.
// Example: graylogic/request/multidev/req-123
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the MQTT topic for request responses.
// Example: graylogic/response/multidev/req-123
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: graylogic/command/multidev/#
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
// Example: graylogic/request/multidev/#
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, Protocol)
}
