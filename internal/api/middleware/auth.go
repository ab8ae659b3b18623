// Package middleware provides HTTP middleware components for the Aegis API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aegisdq/aegis/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// DevAPIKey is the literal configured key value that disables authentication,
// alongside an unset key. Intended for local development only.
const DevAPIKey = "dev-key"

// publicEndpoints defines public endpoints that bypass authentication.
// These endpoints are accessible without API keys (e.g., K8s health probes,
// monitoring tools).
//
// Security note: Only health check endpoints should be in this map.
// Never add business logic endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup for health check endpoints.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

type (
	// AuthError represents an authentication error with a specific type.
	AuthError struct {
		Type    error
		Message string
	}

	// AuthConfig holds the operator authentication settings.
	AuthConfig struct {
		// APIKey is the configured static operator key (API_KEY env). An
		// empty value or the literal DevAPIKey disables authentication.
		APIKey string
	}
)

// Authentication error types for granular error handling.
var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for invalid API key format or not found.
	// Generic error prevents enumeration attacks.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAPIKeyExpired is returned when the API key has expired.
	ErrAPIKeyExpired = errors.New("API key expired")

	// ErrAPIKeyInactive is returned when the API key is inactive (soft-deleted).
	ErrAPIKeyInactive = errors.New("API key inactive")
)

// Disabled reports whether the configuration turns authentication off.
func (c AuthConfig) Disabled() bool {
	return c.APIKey == "" || c.APIKey == DevAPIKey
}

// extractAPIKey extracts the API key from request headers.
// It checks the X-API-Key header first (primary), then falls back to
// Authorization: Bearer header (secondary).
//
// Returns (key, true) if found and valid, ("", false) otherwise.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return validateAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")

			return validateAPIKey(token)
		}
	}

	return "", false
}

// validateAPIKey validates and cleans an API key value.
//
// Validation rules:
// - Rejects keys containing newlines (\r or \n) for header injection prevention
// - Trims leading/trailing whitespace
// - Rejects empty keys after trimming.
func validateAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type, enabling standard errors.Is() and errors.As() behavior.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// Timing attack prevention: perform a dummy bcrypt comparison to maintain
// constant time on failure paths. The dummy hash is a real bcrypt hash so
// the comparison does the full key-derivation work.
var dummyBcryptHash = sync.OnceValue(func() []byte { //nolint: gochecknoglobals
	hash, _ := bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.DefaultCost)

	return hash
})

func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword(dummyBcryptHash(), []byte("dummy"))
}

// authenticateStoredKey validates a generated (aegis_ak_...) key against the
// key store. Returns the authenticated API key or an AuthError.
//
// Security considerations:
// - Timing attack prevention: always performs full validation even if format is invalid
// - Constant-time comparison via the store's bcrypt verification
// - Generic error messages to prevent enumeration.
func authenticateStoredKey(
	ctx context.Context,
	store storage.APIKeyStore,
	apiKey string,
	logger *slog.Logger,
) (*storage.APIKey, error) {
	parsedKey, err := storage.ParseAPIKey(apiKey)
	if err != nil {
		performDummyBcryptComparison()

		logger.Error("authentication failed: invalid key format",
			slog.String("error", err.Error()),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "format_validation"),
		)

		return nil, &AuthError{
			Type:    ErrInvalidAPIKey,
			Message: "Invalid or missing API key",
		}
	}

	foundKey, exists := store.FindByKey(ctx, parsedKey)
	if !exists {
		performDummyBcryptComparison()

		logger.Error("authentication failed: key not found",
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_not_found"),
		)

		return nil, &AuthError{
			Type:    ErrInvalidAPIKey,
			Message: "Invalid or missing API key",
		}
	}

	if !foundKey.Active {
		logger.Error("authentication failed: key inactive",
			slog.String("key_id", foundKey.ID),
			slog.String("owner_id", foundKey.OwnerID),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_inactive"),
		)

		return nil, &AuthError{
			Type:    ErrAPIKeyInactive,
			Message: "API key is inactive",
		}
	}

	if foundKey.ExpiresAt != nil && time.Now().After(*foundKey.ExpiresAt) {
		logger.Error("authentication failed: key expired",
			slog.String("key_id", foundKey.ID),
			slog.String("owner_id", foundKey.OwnerID),
			slog.Time("expired_at", *foundKey.ExpiresAt),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_expired"),
		)

		return nil, &AuthError{
			Type:    ErrAPIKeyExpired,
			Message: "API key has expired",
		}
	}

	return foundKey, nil
}

// Authenticate creates the operator authentication middleware.
//
// The middleware:
//   - Bypasses registered public endpoints
//   - Passes everything through when the configured key is unset or the
//     literal dev key (development mode)
//   - Accepts the configured static key via X-API-Key or Authorization: Bearer
//   - Falls back to store-backed generated keys (aegis_ak_...) when a key
//     store is configured
//   - Returns RFC 7807 compliant 401 responses on failure (403 for an
//     inactive stored key).
func Authenticate(cfg AuthConfig, store storage.APIKeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] || cfg.Disabled() {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrMissingAPIKey,
					Message: "Missing API key",
				})

				return
			}

			operatorCtx := OperatorContext{AuthTime: time.Now()}

			switch {
			case storage.SecureCompare(cfg.APIKey, apiKey):
				operatorCtx.OperatorID = "configured-key"
				operatorCtx.Name = "configured operator key"
			case store != nil:
				authenticated, err := authenticateStoredKey(r.Context(), store, apiKey, logger)
				if err != nil {
					writeAuthError(w, r, logger, err)

					return
				}

				operatorCtx.OperatorID = authenticated.OwnerID
				operatorCtx.Name = authenticated.Name
				operatorCtx.Permissions = authenticated.Permissions
				operatorCtx.KeyID = authenticated.ID
			default:
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrInvalidAPIKey,
					Message: "Invalid or missing API key",
				})

				return
			}

			ctx := SetOperatorContext(r.Context(), operatorCtx)

			logger.Info("API key authenticated",
				slog.String("operator_id", operatorCtx.OperatorID),
				slog.String("key_id", operatorCtx.KeyID),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for authentication failures.
// It maps authentication errors to appropriate HTTP status codes and logs the failure.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	var statusCode int

	var authErr *AuthError
	if errors.As(err, &authErr) {
		switch {
		case errors.Is(authErr.Type, ErrAPIKeyInactive):
			statusCode = http.StatusForbidden
		default:
			statusCode = http.StatusUnauthorized
		}
	} else {
		statusCode = http.StatusUnauthorized
	}

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	detail := err.Error()
	if err := writeRFC7807Error(w, r, statusCode, detail, correlationID); err != nil {
		logger.Error("failed to write response with RFC 7807 error format",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("detail", detail),
			slog.Any("error", err),
		)

		http.Error(w, detail, statusCode)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without importing the api package.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = "Authentication Failed"
	}

	problem := map[string]interface{}{
		"type":           fmt.Sprintf("https://aegis.dev/problems/%d", statusCode),
		"title":          title,
		"status":         statusCode,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
