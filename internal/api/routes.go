// Package api provides the HTTP API server for the Aegis service.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aegisdq/aegis/internal/api/middleware"
)

const (
	serviceName    = "aegis"
	serviceVersion = "0.1.0"

	expectedURLParts = 2
)

// Route represents an HTTP route configuration with a path and handler.
type Route struct {
	Path    string
	Handler http.HandlerFunc
}

// setupRoutes registers every endpoint on the mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},
		Route{"GET /api/v1/health", s.handleHealth},
		Route{"/", s.handleNotFound},
	)

	// System
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("POST /api/v1/scan/trigger", s.handleScanTrigger)

	// Connections
	mux.HandleFunc("POST /api/v1/connections", s.handleCreateConnection)
	mux.HandleFunc("GET /api/v1/connections", s.handleListConnections)
	mux.HandleFunc("GET /api/v1/connections/{id}", s.handleGetConnection)
	mux.HandleFunc("PUT /api/v1/connections/{id}", s.handleUpdateConnection)
	mux.HandleFunc("DELETE /api/v1/connections/{id}", s.handleDeleteConnection)
	mux.HandleFunc("POST /api/v1/connections/{id}/test", s.handleTestConnection)
	mux.HandleFunc("POST /api/v1/connections/{id}/rediscover", s.handleRediscoverConnection)

	// Monitored tables
	mux.HandleFunc("POST /api/v1/tables", s.handleCreateTable)
	mux.HandleFunc("GET /api/v1/tables", s.handleListTables)
	mux.HandleFunc("GET /api/v1/tables/{id}", s.handleGetTable)
	mux.HandleFunc("PUT /api/v1/tables/{id}", s.handleUpdateTable)
	mux.HandleFunc("DELETE /api/v1/tables/{id}", s.handleDeleteTable)
	mux.HandleFunc("GET /api/v1/tables/{id}/snapshots", s.handleListSnapshots)

	// Incidents
	mux.HandleFunc("GET /api/v1/incidents", s.handleListIncidents)
	mux.HandleFunc("GET /api/v1/incidents/{id}", s.handleGetIncident)
	mux.HandleFunc("GET /api/v1/incidents/{id}/report", s.handleGetIncidentReport)
	mux.HandleFunc("POST /api/v1/incidents/{id}/approve", s.handleApproveIncident)
	mux.HandleFunc("POST /api/v1/incidents/{id}/dismiss", s.handleDismissIncident)

	// Lineage
	mux.HandleFunc("GET /api/v1/lineage/graph", s.handleLineageGraph)
	mux.HandleFunc("GET /api/v1/lineage/{table}/upstream", s.handleLineageUpstream)
	mux.HandleFunc("GET /api/v1/lineage/{table}/downstream", s.handleLineageDownstream)
	mux.HandleFunc("GET /api/v1/lineage/{table}/blast-radius", s.handleLineageBlastRadius)

	// Event stream
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and
// rate limiting: the health probes and the "/" not-found handler. The bypass
// matches exact paths, so only a request for "/" itself skips authentication.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip the Go 1.22 method prefix ("GET /ping") before bypass
		// registration: r.URL.Path carries just "/ping".
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns the liveness document.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: serviceName,
		Version: serviceVersion,
		Uptime:  uptime,
	})
}

// handleStatus reports scanner and event-stream state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scannerState := "stopped"
	if s.deps.Scanner != nil && s.deps.Scanner.Running() {
		scannerState = "running"
	}

	clients := 0
	if s.deps.Notifier != nil {
		clients = s.deps.Notifier.Count()
	}

	s.writeJSON(w, r, http.StatusOK, StatusResponse{
		Scanner:          scannerState,
		WebsocketClients: clients,
	})
}

// handleStats serves the platform-health aggregate.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Stores.Stats.Collect(r.Context())
	if err != nil {
		s.logger.Error("Failed to collect stats",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to collect stats"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, stats)
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}
