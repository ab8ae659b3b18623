package api

import (
	"log/slog"
	"net/http"

	"github.com/aegisdq/aegis/internal/api/middleware"
)

// handleScanTrigger runs one scan cycle synchronously and returns its stats.
// The request blocks for the duration of the cycle.
func (s *Server) handleScanTrigger(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Scanner.RunScanCycle(r.Context())
	if err != nil {
		s.logger.Error("Manual scan failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Scan cycle failed"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":          "scan_completed",
		"tables_scanned":  stats.TablesScanned,
		"anomalies_found": stats.AnomaliesFound,
	})
}
