package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

// Default mount points when the config leaves them empty.
const (
	defaultWebSocketPath = "/api/v1/ws"
	defaultMetricsPath   = "/metrics"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(s.recoveryMiddleware)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/system", s.handleSystem)
		r.Get("/records", s.handleListRecords)
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWebSocketPath
	}
	r.Get(wsPath, s.handleWebSocket)

	if s.prometheus != nil && s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = defaultMetricsPath
		}
		r.Handle(path, s.prometheus)
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if s.scheduler != nil && s.scheduler.State() == engine.StateFaulted {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
	})
}
