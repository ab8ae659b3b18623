package api

import (
	"net/http"
	"time"

	"github.com/aegisdq/aegis/internal/storage"
)

// handleListIncidents returns one page of incidents filtered by the query
// parameters: status, severity, table_id, since (RFC3339), page, per_page.
func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	filter := storage.IncidentFilter{
		Status:   r.URL.Query().Get("status"),
		Severity: r.URL.Query().Get("severity"),
		TableID:  r.URL.Query().Get("table_id"),
		Page:     page,
		PerPage:  perPage,
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest("since must be an RFC 3339 timestamp"))

			return
		}

		filter.Since = &since
	}

	incidents, err := s.deps.Stores.Incidents.ListFiltered(r.Context(), filter)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Incident not found"))

		return
	}

	responses := make([]IncidentResponse, len(incidents))
	for i, incident := range incidents {
		responses[i] = toIncidentResponse(incident)
	}

	s.writeJSON(w, r, http.StatusOK, IncidentListResponse{
		Incidents: responses,
		Page:      page,
		PerPage:   perPage,
	})
}

// handleGetIncident returns a single incident.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.deps.Stores.Incidents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Incident not found"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toIncidentResponse(incident))
}

// handleGetIncidentReport serves the stored report document verbatim, or 204
// when the incident has none.
func (s *Server) handleGetIncidentReport(w http.ResponseWriter, r *http.Request) {
	incident, err := s.deps.Stores.Incidents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Incident not found"))

		return
	}

	if len(incident.Report) == 0 {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(incident.Report); err != nil {
		s.logger.Error("Failed to write incident report", "error", err.Error())
	}
}

// handleApproveIncident resolves an incident after operator review.
func (s *Server) handleApproveIncident(w http.ResponseWriter, r *http.Request) {
	resolvedBy := "api_user"

	// Body is optional; a JSON payload may carry the resolver's identity.
	if r.ContentLength > 0 {
		var req ApproveRequest
		if problem := s.decodeJSON(r, &req); problem != nil {
			WriteErrorResponse(w, r, s.logger, problem)

			return
		}

		if req.ResolvedBy != "" {
			resolvedBy = req.ResolvedBy
		}
	}

	incident, err := s.deps.Engine.Approve(r.Context(), r.PathValue("id"), resolvedBy)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Incident not found"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toIncidentResponse(incident))
}

// handleDismissIncident dismisses an incident with the operator's reason.
func (s *Server) handleDismissIncident(w http.ResponseWriter, r *http.Request) {
	var req DismissRequest
	if problem := s.decodeJSON(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if req.Reason == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("reason is required"))

		return
	}

	incident, err := s.deps.Engine.Dismiss(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, storeProblem(err, "Incident not found"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toIncidentResponse(incident))
}
