package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aegisdq/aegis/internal/api/middleware"
	"github.com/aegisdq/aegis/internal/canonicalization"
	"github.com/aegisdq/aegis/internal/scanner"
	"github.com/aegisdq/aegis/internal/storage"
)

// handleCreateConnection registers a new warehouse connection. The URI is
// encrypted before the row is written; it never reaches storage in plaintext.
func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if problem := s.decodeJSON(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if problem := validateConnectionRequest(&req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	encrypted, err := s.deps.Box.Encrypt(req.URI)
	if err != nil {
		s.logger.Error("Failed to encrypt connection URI", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Encryption is not configured"))

		return
	}

	conn := &storage.Connection{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Dialect:      canonicalization.NormalizeDialect(req.Dialect),
		URIEncrypted: encrypted,
		Active:       true,
	}

	if req.Active != nil {
		conn.Active = *req.Active
	}

	if err := s.deps.Stores.Connections.Create(r.Context(), conn); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, toConnectionResponse(conn))
}

// handleListConnections returns all connections, newest first.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := s.deps.Stores.Connections.List(r.Context(), false)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	responses := make([]ConnectionResponse, len(connections))
	for i, c := range connections {
		responses[i] = toConnectionResponse(c)
	}

	s.writeJSON(w, r, http.StatusOK, responses)
}

// handleGetConnection returns a single connection.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Stores.Connections.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toConnectionResponse(conn))
}

// handleUpdateConnection modifies a connection's mutable fields. An empty URI
// in the payload keeps the stored encrypted URI.
func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Stores.Connections.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	var req ConnectionRequest
	if problem := s.decodeJSON(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if req.Name != "" {
		conn.Name = req.Name
	}

	if req.Dialect != "" {
		conn.Dialect = canonicalization.NormalizeDialect(req.Dialect)
	}

	if req.URI != "" {
		encrypted, err := s.deps.Box.Encrypt(req.URI)
		if err != nil {
			s.logger.Error("Failed to encrypt connection URI", slog.String("error", err.Error()))
			WriteErrorResponse(w, r, s.logger, InternalServerError("Encryption is not configured"))

			return
		}

		conn.URIEncrypted = encrypted
	}

	if req.Active != nil {
		conn.Active = *req.Active
	}

	if err := s.deps.Stores.Connections.Update(r.Context(), conn); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toConnectionResponse(conn))
}

// handleDeleteConnection removes a connection and cascades to its tables.
func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Stores.Connections.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleTestConnection runs a live connectivity probe against the warehouse.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Stores.Connections.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	success := false

	wh, err := s.deps.Connectors(r.Context(), conn)
	if err != nil {
		s.logger.Warn("Connectivity probe failed to build connector",
			slog.String("connection", conn.Name),
			slog.String("error", err.Error()),
		)
	} else {
		success, err = wh.TestConnection(r.Context())
		if err != nil {
			s.logger.Warn("Connectivity probe failed",
				slog.String("connection", conn.Name),
				slog.String("error", err.Error()),
			)
		}

		if err := wh.Dispose(); err != nil {
			s.logger.Warn("Connector dispose failed",
				slog.String("connection", conn.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	s.writeJSON(w, r, http.StatusOK, TestConnectionResponse{Success: success, Connection: conn.Name})
}

// handleRediscoverConnection compares the warehouse catalog with the enrolled
// table set and reports the deltas. Operator-triggered and read-only.
func (s *Server) handleRediscoverConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Stores.Connections.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	deltas, err := s.deps.Scanner.Rediscover(r.Context(), conn)
	if err != nil {
		s.logger.Error("Rediscovery failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("connection", conn.Name),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Rediscovery failed"))

		return
	}

	if deltas == nil {
		deltas = []scanner.TableDelta{}
	}

	s.writeJSON(w, r, http.StatusOK, RediscoveryResponse{
		Connection:  conn.Name,
		Deltas:      deltas,
		TotalDeltas: len(deltas),
	})
}

// validateConnectionRequest checks required create fields.
func validateConnectionRequest(req *ConnectionRequest) *ProblemDetail {
	var missing []string

	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}

	if strings.TrimSpace(req.Dialect) == "" {
		missing = append(missing, "dialect")
	}

	if strings.TrimSpace(req.URI) == "" {
		missing = append(missing, "uri")
	}

	if len(missing) > 0 {
		return BadRequest("Missing required fields: " + strings.Join(missing, ", "))
	}

	return nil
}
