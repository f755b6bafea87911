package hub

import (
	"fmt"

	"github.com/nerrad567/gray-logic-multidev/internal/device"
	"github.com/nerrad567/gray-logic-multidev/internal/transport"
)

// DeviceStatus is a point-in-time snapshot of one device, as served
// by the status API.
type DeviceStatus struct {
	Name           string   `json:"name"`
	Alive          bool     `json:"alive"`
	Connected      bool     `json:"connected"`
	Transport      string   `json:"transport,omitempty"`
	Commands       []string `json:"commands,omitempty"`
	Disabled       bool     `json:"disabled,omitempty"`
	DisabledReason string   `json:"disabled_reason,omitempty"`
}

// DeviceStatuses returns a snapshot of every configured device in
// config order, disabled devices included.
func (h *Hub) DeviceStatuses() []DeviceStatus {
	out := make([]DeviceStatus, 0, len(h.cfg.Devices))
	for _, dc := range h.cfg.Devices {
		if reason, ok := h.disabled[dc.Name]; ok {
			out = append(out, DeviceStatus{
				Name:           dc.Name,
				Transport:      dc.Transport,
				Disabled:       true,
				DisabledReason: reason,
			})
			continue
		}
		if dev, ok := h.devices[dc.Name]; ok {
			out = append(out, h.snapshot(dev))
		}
	}
	return out
}

// DeviceStatus returns a snapshot of one device.
//
// Returns:
//   - error: ErrUnknownDevice when the name is not configured
func (h *Hub) DeviceStatus(name string) (DeviceStatus, error) {
	if reason, ok := h.disabled[name]; ok {
		st := DeviceStatus{Name: name, Disabled: true, DisabledReason: reason}
		for _, dc := range h.cfg.Devices {
			if dc.Name == name {
				st.Transport = dc.Transport
				break
			}
		}
		return st, nil
	}
	dev, ok := h.devices[name]
	if !ok {
		return DeviceStatus{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return h.snapshot(dev), nil
}

func (h *Hub) snapshot(dev *device.Device) DeviceStatus {
	s := dev.Settings()
	return DeviceStatus{
		Name:      dev.Name(),
		Alive:     dev.Alive(),
		Connected: dev.Connected(),
		Transport: resolvedTransport(s),
		Commands:  dev.CommandNames(),
	}
}

// resolvedTransport reports the connection type a device's settings
// select, matching the device's own selection rule.
func resolvedTransport(s device.Settings) string {
	typ := transport.Resolve(s.Transport)
	if s.Type != "" {
		if parsed, err := transport.ParseType(s.Type); err == nil {
			typ = parsed
		}
	}
	return string(typ)
}

// DeviceCounts implements StatusSource for health reporting.
func (h *Hub) DeviceCounts() (managed, connected, disabled int) {
	for _, dev := range h.devices {
		if dev.Connected() {
			connected++
		}
	}
	return len(h.devices), connected, len(h.disabled)
}

// Ensure Hub implements StatusSource.
var _ StatusSource = (*Hub)(nil)
