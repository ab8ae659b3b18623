package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aegisdq/aegis/internal/api/middleware"
	"github.com/aegisdq/aegis/internal/correlation"
	"github.com/aegisdq/aegis/internal/storage"
)

// writeJSON marshals payload and writes it with the given status code.
// Marshal failures degrade to a 500 problem document.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// decodeJSON reads and decodes a JSON request body into dst, enforcing the
// configured size limit. Returns a ProblemDetail on any client error.
func (s *Server) decodeJSON(r *http.Request, dst any) *ProblemDetail {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return UnsupportedMediaType("Content-Type must be application/json")
	}

	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return PayloadTooLarge("Request body exceeds maximum size")
	}

	if r.ContentLength == 0 {
		return BadRequest("Request body cannot be empty")
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(dst); err != nil {
		return BadRequest("Invalid JSON: " + err.Error())
	}

	return nil
}

// hasJSONContentType checks whether the Content-Type header starts with
// "application/json", allowing charset parameters.
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

// storeProblem maps storage and engine errors to problem documents.
func storeProblem(err error, notFoundDetail string) *ProblemDetail {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NotFound(notFoundDetail)
	case errors.Is(err, storage.ErrConflict):
		return Conflict("A resource with those identifying fields already exists")
	case errors.Is(err, correlation.ErrNotOpen):
		return Conflict("Incident has already reached a terminal status")
	default:
		return InternalServerError("Storage operation failed")
	}
}
