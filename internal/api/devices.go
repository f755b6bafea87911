package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-multidev/internal/hub"
)

const (
	defaultValuesLimit = 50
	maxValuesLimit     = 200

	// maxNameLen bounds the device name URL parameter.
	maxNameLen = 128
)

// handleListDevices returns the status of every configured device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	statuses := s.status.DeviceStatuses()

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": statuses,
		"count":   len(statuses),
	})
}

// handleGetDevice returns the status of one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxNameLen {
		writeBadRequest(w, "invalid device name")
		return
	}

	status, err := s.status.DeviceStatus(name)
	if err != nil {
		if errors.Is(err, hub.ErrUnknownDevice) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleGetDeviceValues returns stored values for a device.
//
// Query parameters:
//   - limit: Maximum entries to return (default 50, max 200)
//   - latest: "true" returns the most recent value per command instead
func (s *Server) handleGetDeviceValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxNameLen {
		writeBadRequest(w, "invalid device name")
		return
	}

	limit, err := parseValuesLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if _, err := s.status.DeviceStatus(name); err != nil {
		if errors.Is(err, hub.ErrUnknownDevice) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device status")
		return
	}

	if s.store == nil {
		writeServiceUnavailable(w, "value store unavailable")
		return
	}

	var values any
	var count int
	if r.URL.Query().Get("latest") == "true" {
		latest, err := s.store.LatestValues(ctx, name)
		if err != nil {
			writeInternalError(w, "failed to load device values")
			return
		}
		values, count = latest, len(latest)
	} else {
		recent, err := s.store.RecentValues(ctx, name, limit)
		if err != nil {
			writeInternalError(w, "failed to load device values")
			return
		}
		values, count = recent, len(recent)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device": name,
		"values": values,
		"count":  count,
	})
}

// parseValuesLimit parses the limit query parameter with bounds enforcement.
func parseValuesLimit(raw string) (int, error) {
	if raw == "" {
		return defaultValuesLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxValuesLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
