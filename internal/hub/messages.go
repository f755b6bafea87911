package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MQTT message types for communication between Gray Logic Core and the
// MultiDevice bridge. The vocabulary matches the other bridges; the
// address segment is the device name.

// CommandMessage is sent from Core to the bridge to execute a device
// command. A message without a value triggers a read of the command;
// a message with a value is a write.
// Topic: graylogic/command/multidev/{device}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Device is the target device name.
	Device string `json:"device"`

	// Command is the command name from the device's command table.
	Command string `json:"command"`

	// Value is the platform value to write. Omitted for reads.
	Value any `json:"value,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was rendered and sent to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/multidev/{device}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Device is the target device name.
	Device string `json:"device"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("multidev").
	Protocol string `json:"protocol"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceRunning     = "DEVICE_RUNNING"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core on every decoded value
// delivery, whatever path produced it.
// Topic: graylogic/state/multidev/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// ID is the unique event id. The value store records the same id,
	// so a stored row can be matched to the message Core saw.
	ID string `json:"id"`

	// Timestamp is when the value was decoded (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Device is the producing device name.
	Device string `json:"device"`

	// Command is the command the value belongs to.
	Command string `json:"command"`

	// Value is the decoded platform value.
	Value any `json:"value"`

	// PlatformType is the command's platform-side type tag
	// ("bool", "number", "text").
	PlatformType string `json:"platform_type,omitempty"`

	// Source tags the producing path: read, cyclic, push, write-echo.
	Source string `json:"source"`

	// Protocol is the protocol identifier ("multidev").
	Protocol string `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from the bridge to Core to report operational
// status.
// Topic: graylogic/health/multidev
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// DevicesManaged is the number of constructed devices.
	DevicesManaged int `json:"devices_managed"`

	// DevicesConnected is how many of them currently hold a usable
	// connection.
	DevicesConnected int `json:"devices_connected"`

	// DevicesDisabled is the number of configured devices that failed
	// construction and were disabled.
	DevicesDisabled int `json:"devices_disabled,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// RequestMessage is sent from Core to the bridge for request/response
// operations.
// Topic: graylogic/request/multidev/{request_id}
type RequestMessage struct {
	// RequestID uniquely identifies this request for correlation.
	RequestID string `json:"request_id"`

	// Timestamp is when the request was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation.
	// Values: "read", "read_all", "update_params"
	Action string `json:"action"`

	// Device is the target device (required for read and
	// update_params, optional for read_all).
	Device string `json:"device,omitempty"`

	// Command is the command to read (read action only).
	Command string `json:"command,omitempty"`

	// Params contains the parameter overrides (update_params only).
	Params map[string]string `json:"params,omitempty"`
}

// ResponseMessage is sent from the bridge to Core in response to a
// request.
// Topic: graylogic/response/multidev/{request_id}
type ResponseMessage struct {
	// RequestID is the ID from the original request.
	RequestID string `json:"request_id"`

	// Timestamp is when the response was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Success indicates whether the request succeeded.
	Success bool `json:"success"`

	// Data contains the response payload (if successful).
	Data map[string]any `json:"data,omitempty"`

	// Error contains error details (if failed).
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	// Code is the error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// JSON marshalling helpers

// MarshalJSON marshals a CommandMessage with a second-resolution
// RFC3339 timestamp, matching the other bridges on the bus.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage, tolerating a missing
// timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Device:    cmd.Device,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Device:    cmd.Device,
		Status:    AckFailed,
		Protocol:  Protocol,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a decoded value.
// The generated event id doubles as the value store row id.
func NewStateMessage(device, command string, value any, platformType, source string) StateMessage {
	return StateMessage{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Device:       device,
		Command:      command,
		Value:        value,
		PlatformType: platformType,
		Source:       source,
		Protocol:     Protocol,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, managed, connected, disabled int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:           bridgeID,
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Version:          version,
		UptimeSeconds:    int64(time.Since(startTime).Seconds()),
		DevicesManaged:   managed,
		DevicesConnected: connected,
		DevicesDisabled:  disabled,
	}
}

// NewLWTMessage creates the Last Will and Testament message. The MQTT
// broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewResponseError creates a failed response message.
func NewResponseError(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// NewResponseData creates a successful response message.
func NewResponseData(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}
