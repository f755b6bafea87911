package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Liveness for process supervisors
	r.Get("/healthz", s.handleHealthz)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/values", s.handleGetDeviceValues)
			})
		})
	})

	return r
}

// handleHealthz returns the bridge liveness and device count summary.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	managed, connected, disabled := s.status.DeviceCounts()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"devices_managed":   managed,
		"devices_connected": connected,
		"devices_disabled":  disabled,
	})
}
