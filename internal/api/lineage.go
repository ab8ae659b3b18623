package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aegisdq/aegis/internal/api/middleware"
	"github.com/aegisdq/aegis/internal/lineage"
)

const (
	defaultTraversalDepth = 3
	maxTraversalDepth     = 10
)

// handleLineageGraph serves the full active edge set, optionally restricted
// to one connection's tables.
func (s *Server) handleLineageGraph(w http.ResponseWriter, r *http.Request) {
	var fqns []string

	if connectionID := r.URL.Query().Get("connection_id"); connectionID != "" {
		tables, err := s.deps.Stores.Tables.ListByConnection(r.Context(), connectionID)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, storeProblem(err, "Connection not found"))

			return
		}

		fqns = make([]string, len(tables))
		for i, t := range tables {
			fqns[i] = t.FQN
		}
	}

	graph, err := s.deps.Lineage.FullGraph(r.Context(), fqns)
	if err != nil {
		s.lineageError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, graph)
}

// handleLineageUpstream serves a backwards traversal from the table.
func (s *Server) handleLineageUpstream(w http.ResponseWriter, r *http.Request) {
	s.handleTraversal(w, r, s.deps.Lineage.Upstream)
}

// handleLineageDownstream serves a forward traversal from the table.
func (s *Server) handleLineageDownstream(w http.ResponseWriter, r *http.Request) {
	s.handleTraversal(w, r, s.deps.Lineage.Downstream)
}

// handleTraversal is the shared upstream/downstream handler. Depth and
// min_confidence come from the query string; nodes below min_confidence are
// filtered out of the response.
func (s *Server) handleTraversal(
	w http.ResponseWriter,
	r *http.Request,
	traverse func(ctx context.Context, table string, depth int) ([]lineage.Node, error),
) {
	table := r.PathValue("table")
	depth := boundedQueryInt(r, "depth", defaultTraversalDepth, maxTraversalDepth)

	minConfidence := 0.0

	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			WriteErrorResponse(w, r, s.logger, BadRequest("min_confidence must be a number between 0 and 1"))

			return
		}

		minConfidence = parsed
	}

	nodes, err := traverse(r.Context(), table, depth)
	if err != nil {
		s.lineageError(w, r, err)

		return
	}

	filtered := make([]LineageNode, 0, len(nodes))

	for _, n := range nodes {
		if n.Confidence < minConfidence {
			continue
		}

		filtered = append(filtered, LineageNode{FQN: n.FQN, Depth: n.Depth, Confidence: n.Confidence})
	}

	s.writeJSON(w, r, http.StatusOK, LineageNodesResponse{Table: table, Nodes: filtered})
}

// handleLineageBlastRadius serves the downstream impact summary for a table.
func (s *Server) handleLineageBlastRadius(w http.ResponseWriter, r *http.Request) {
	radius, err := s.deps.Lineage.BlastRadius(r.Context(), r.PathValue("table"))
	if err != nil {
		s.lineageError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, radius)
}

func (s *Server) lineageError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("Lineage query failed",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteErrorResponse(w, r, s.logger, InternalServerError("Lineage query failed"))
}
