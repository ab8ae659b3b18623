package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aegisdq/aegis/internal/canonicalization"
	"github.com/aegisdq/aegis/internal/sentinel"
	"github.com/aegisdq/aegis/internal/storage"
)

const (
	defaultPerPage       = 50
	maxPerPage           = 200
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 100
)

// handleCreateTable enrolls a table for monitoring.
func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req TableRequest
	if problem := s.decodeJSON(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if problem := validateTableRequest(&req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	// Reject enrollment against a connection that doesn't exist up front,
	// rather than surfacing an FK violation as a 500.
	if _, err := s.deps.Stores.Connections.Get(r.Context(), req.ConnectionID); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

		return
	}

	table := &storage.MonitoredTable{
		ID:                  uuid.NewString(),
		ConnectionID:        req.ConnectionID,
		Schema:              req.Schema,
		Name:                req.Name,
		FQN:                 canonicalization.BuildFQN(req.Schema, req.Name),
		CheckTypes:          req.CheckTypes,
		FreshnessSLAMinutes: req.FreshnessSLAMinutes,
	}

	if err := s.deps.Stores.Tables.Create(r.Context(), table); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, toTableResponse(table))
}

// handleListTables returns one page of monitored tables, optionally filtered
// by connection.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	tables, err := s.deps.Stores.Tables.ListPage(r.Context(), r.URL.Query().Get("connection_id"), page, perPage)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	responses := make([]TableResponse, len(tables))
	for i, t := range tables {
		responses[i] = toTableResponse(t)
	}

	s.writeJSON(w, r, http.StatusOK, responses)
}

// handleGetTable returns a single monitored table.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	table, err := s.deps.Stores.Tables.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toTableResponse(table))
}

// handleUpdateTable modifies a table's check configuration.
func (s *Server) handleUpdateTable(w http.ResponseWriter, r *http.Request) {
	table, err := s.deps.Stores.Tables.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	var req TableUpdateRequest
	if problem := s.decodeJSON(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if req.CheckTypes != nil {
		if problem := validateCheckTypes(req.CheckTypes); problem != nil {
			WriteErrorResponse(w, r, s.logger, problem)

			return
		}

		table.CheckTypes = req.CheckTypes
	}

	if req.FreshnessSLAMinutes != nil {
		table.FreshnessSLAMinutes = req.FreshnessSLAMinutes
	}

	if err := s.deps.Stores.Tables.Update(r.Context(), table); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toTableResponse(table))
}

// handleDeleteTable removes a table and cascades to snapshots and anomalies.
func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Stores.Tables.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListSnapshots returns a table's schema snapshots, newest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	tableID := r.PathValue("id")

	if _, err := s.deps.Stores.Tables.Get(r.Context(), tableID); err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	limit := boundedQueryInt(r, "limit", defaultSnapshotLimit, maxSnapshotLimit)

	snapshots, err := s.deps.Stores.Snapshots.ListForTable(r.Context(), tableID, limit)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Table not found"))

		return
	}

	responses := make([]SnapshotResponse, len(snapshots))
	for i, snap := range snapshots {
		responses[i] = SnapshotResponse{
			ID:           snap.ID,
			Columns:      snap.Columns,
			SnapshotHash: snap.SnapshotHash,
			CapturedAt:   snap.CapturedAt,
		}
	}

	s.writeJSON(w, r, http.StatusOK, responses)
}

// pagination parses page/per_page query parameters with the listing defaults.
func pagination(r *http.Request) (page, perPage int) {
	page = boundedQueryInt(r, "page", 1, 1<<30)
	perPage = boundedQueryInt(r, "per_page", defaultPerPage, maxPerPage)

	return page, perPage
}

// boundedQueryInt parses a positive integer query parameter, clamped to max.
func boundedQueryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return def
	}

	if value > max {
		return max
	}

	return value
}

// validateTableRequest checks required enrollment fields.
func validateTableRequest(req *TableRequest) *ProblemDetail {
	var missing []string

	if strings.TrimSpace(req.ConnectionID) == "" {
		missing = append(missing, "connection_id")
	}

	if strings.TrimSpace(req.Schema) == "" {
		missing = append(missing, "schema")
	}

	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}

	if len(missing) > 0 {
		return BadRequest("Missing required fields: " + strings.Join(missing, ", "))
	}

	if len(req.CheckTypes) == 0 {
		return BadRequest("check_types must contain at least one of: schema, freshness")
	}

	return validateCheckTypes(req.CheckTypes)
}

// validateCheckTypes rejects unknown check identifiers.
func validateCheckTypes(checkTypes []string) *ProblemDetail {
	for _, check := range checkTypes {
		if check != sentinel.CheckSchema && check != sentinel.CheckFreshness {
			return BadRequest("Unknown check type: " + check)
		}
	}

	return nil
}
