// Package api provides the HTTP API server for the Aegis service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegisdq/aegis/internal/api/middleware"
	"github.com/aegisdq/aegis/internal/lineage"
	"github.com/aegisdq/aegis/internal/notifier"
	"github.com/aegisdq/aegis/internal/scanner"
	"github.com/aegisdq/aegis/internal/secure"
	"github.com/aegisdq/aegis/internal/storage"
)

type (
	// IncidentReviewer is the slice of the correlation engine the API drives:
	// operator approval and dismissal.
	IncidentReviewer interface {
		Approve(ctx context.Context, incidentID, resolvedBy string) (*storage.Incident, error)
		Dismiss(ctx context.Context, incidentID, reason string) (*storage.Incident, error)
	}

	// ScanDriver is the slice of the scanner the API drives: manual scan
	// triggers and operator-initiated rediscovery.
	ScanDriver interface {
		Running() bool
		RunScanCycle(ctx context.Context) (scanner.CycleStats, error)
		Rediscover(ctx context.Context, conn *storage.Connection) ([]scanner.TableDelta, error)
	}

	// LineageQuerier serves the lineage read endpoints.
	LineageQuerier interface {
		Upstream(ctx context.Context, table string, depth int) ([]lineage.Node, error)
		Downstream(ctx context.Context, table string, depth int) ([]lineage.Node, error)
		BlastRadius(ctx context.Context, table string) (*lineage.BlastRadius, error)
		FullGraph(ctx context.Context, fqns []string) (*lineage.FullGraph, error)
	}

	// Stores bundles the persistence interfaces the handlers read and write.
	Stores struct {
		Connections storage.ConnectionStore
		Tables      storage.MonitoredTableStore
		Snapshots   storage.SchemaSnapshotStore
		Anomalies   storage.AnomalyStore
		Incidents   storage.IncidentStore
		Stats       storage.StatsStore
		APIKeys     storage.APIKeyStore
	}

	// Dependencies are the collaborators injected into the server. All are
	// constructed once at boot; tests substitute fakes.
	Dependencies struct {
		Stores     Stores
		Lineage    LineageQuerier
		Engine     IncidentReviewer
		Scanner    ScanDriver
		Notifier   *notifier.Notifier
		Box        *secure.Box
		Connectors scanner.ConnectorFactory
		RateLimit  middleware.RateLimiter
	}

	// Server is the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		startTime  time.Time
		deps       Dependencies
	}
)

// NewServer creates the HTTP server with its structured logger and middleware
// stack. Configuration (ports, timeouts, CORS, API key) is separated from
// dependencies (stores, engine, scanner).
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if deps.Stores.Incidents == nil || deps.Stores.Connections == nil || deps.Stores.Tables == nil {
		logger.Error("Entity stores are required - cannot start server without persistence")
		panic("aegis: entity stores cannot be nil - this indicates a configuration error")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes(mux)

	if cfg.ToAuthConfig().Disabled() {
		logger.Warn("API key not configured or set to the dev key - authentication disabled")
	} else {
		logger.Info("Operator authentication middleware enabled")
	}

	if deps.RateLimit != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Auth - operator key validation (dev-mode aware)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(cfg.ToAuthConfig(), deps.Stores.APIKeys, logger),
		middleware.WithRateLimit(deps.RateLimit, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting Aegis API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close dependencies that hold resources (best-effort).
	s.closeDependency("API key store", s.deps.Stores.APIKeys)
	s.closeDependency("rate limiter", s.deps.RateLimit)

	s.logger.Info("Server shutdown completed successfully")

	return nil
}

// closeDependency attempts to close a server dependency that implements io.Closer.
// Errors are logged but don't stop shutdown.
func (s *Server) closeDependency(name string, dep interface{}) {
	if dep == nil {
		return
	}

	closer, ok := dep.(io.Closer)
	if !ok {
		return
	}

	if err := closer.Close(); err != nil {
		s.logger.Error("Failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info(name + " closed successfully")
}
