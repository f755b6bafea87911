package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-multidev/internal/command"
	"github.com/nerrad567/gray-logic-multidev/internal/device"
	"github.com/nerrad567/gray-logic-multidev/internal/store"
)

// handleRequest processes a request message from Core.
func (h *Hub) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		h.logError("failed to parse request", err)
		return
	}

	h.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage

	switch req.Action {
	case "read":
		resp = h.handleRead(req)
	case "read_all":
		resp = h.handleReadAll(req)
	case "update_params":
		resp = h.handleUpdateParams(req)
	default:
		resp = NewResponseError(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	// Publish response
	respPayload, err := json.Marshal(resp)
	if err != nil {
		h.logError("failed to marshal response", err)
		return
	}

	respTopic := ResponseTopic(req.RequestID)
	if err := h.mqtt.Publish(respTopic, respPayload, 1, false); err != nil {
		h.logError("failed to publish response", err)
	}
}

// lookupDevice resolves a request's target device, building the error
// response when it cannot be served.
func (h *Hub) lookupDevice(req RequestMessage) (*device.Device, *ResponseMessage) {
	if req.Device == "" {
		resp := NewResponseError(req.RequestID, ErrCodeInvalidParameters, "device is required")
		return nil, &resp
	}
	dev, ok := h.devices[req.Device]
	if !ok {
		var resp ResponseMessage
		if reason, wasDisabled := h.disabled[req.Device]; wasDisabled {
			resp = NewResponseError(req.RequestID, ErrCodeNotConfigured,
				fmt.Sprintf("device %s is disabled: %s", req.Device, reason))
		} else {
			resp = NewResponseError(req.RequestID, ErrCodeNotConfigured,
				fmt.Sprintf("device %s not configured", req.Device))
		}
		return nil, &resp
	}
	return dev, nil
}

// handleRead handles a read request for a single command. The value
// itself arrives as a state update; the response only reports that
// the read was sent.
func (h *Hub) handleRead(req RequestMessage) ResponseMessage {
	dev, errResp := h.lookupDevice(req)
	if errResp != nil {
		return *errResp
	}
	if req.Command == "" {
		return NewResponseError(req.RequestID, ErrCodeInvalidParameters, "command is required")
	}
	if !dev.IsValid(req.Command, command.ModeRead) {
		return NewResponseError(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("device %s has no readable command %q", req.Device, req.Command))
	}
	if !dev.Alive() {
		return NewResponseError(req.RequestID, ErrCodeDeviceUnreachable,
			fmt.Sprintf("device %s is stopped", req.Device))
	}

	h.markSource(req.Device, store.SourceRead)
	sent := dev.SendCommand(req.Command, nil)
	h.clearSource(req.Device)

	if !sent {
		return NewResponseError(req.RequestID, ErrCodeDeviceUnreachable,
			fmt.Sprintf("send to device %s failed", req.Device))
	}

	return NewResponseData(req.RequestID, map[string]any{
		"message": "read sent, state update will follow",
	})
}

// handleReadAll handles a read_all request: one device when named,
// every started device otherwise. Individual read failures are
// ignored; the sweep always completes.
func (h *Hub) handleReadAll(req RequestMessage) ResponseMessage {
	if req.Device != "" {
		dev, errResp := h.lookupDevice(req)
		if errResp != nil {
			return *errResp
		}
		if !dev.Alive() {
			return NewResponseError(req.RequestID, ErrCodeDeviceUnreachable,
				fmt.Sprintf("device %s is stopped", req.Device))
		}
		h.sweepDevice(req.Device, dev)
		return NewResponseData(req.RequestID, map[string]any{
			"devices_swept": 1,
			"message":       "reads sent, state updates will follow",
		})
	}

	swept := 0
	for _, name := range h.order {
		dev := h.devices[name]
		if !dev.Alive() {
			continue
		}
		h.sweepDevice(name, dev)
		swept++
	}

	return NewResponseData(req.RequestID, map[string]any{
		"devices_swept": swept,
		"message":       "reads sent, state updates will follow",
	})
}

// sweepDevice runs one device's read-all batch under a read marker.
func (h *Hub) sweepDevice(name string, dev *device.Device) {
	h.markSource(name, store.SourceRead)
	dev.ReadAll()
	h.clearSource(name)
}

// handleUpdateParams handles an update_params request. The device
// refuses the update while it is started and is never stopped
// automatically; a running device answers DEVICE_RUNNING and the
// configuration file remains the way to change it.
func (h *Hub) handleUpdateParams(req RequestMessage) ResponseMessage {
	dev, errResp := h.lookupDevice(req)
	if errResp != nil {
		return *errResp
	}
	if len(req.Params) == 0 {
		return NewResponseError(req.RequestID, ErrCodeInvalidParameters, "params is required")
	}

	if err := dev.UpdateParams(req.Params); err != nil {
		if errors.Is(err, device.ErrAlive) {
			return NewResponseError(req.RequestID, ErrCodeDeviceRunning,
				fmt.Sprintf("device %s is running; it will not be stopped for a parameter update", req.Device))
		}
		return NewResponseError(req.RequestID, ErrCodeInvalidParameters, err.Error())
	}

	return NewResponseData(req.RequestID, map[string]any{
		"device":  req.Device,
		"updated": len(req.Params),
	})
}
