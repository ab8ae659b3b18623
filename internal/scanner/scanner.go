// Package scanner drives the periodic detection pipeline: on every scan tick
// it fans out over active connections and their monitored tables, runs the
// sentinels, and routes anomalies into the correlation engine. On a slower
// cadence it refreshes the lineage graph from warehouse query logs.
package scanner

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/notifier"
	"github.com/aegisdq/aegis/internal/sentinel"
	"github.com/aegisdq/aegis/internal/storage"
)

// Default cadences, overridable via SCAN_INTERVAL_SECONDS and
// LINEAGE_REFRESH_SECONDS.
const (
	DefaultScanInterval    = 300 * time.Second
	DefaultLineageInterval = 3600 * time.Second
)

// AnomalyHandler routes a detected anomaly into the incident pipeline.
type AnomalyHandler interface {
	HandleAnomaly(ctx context.Context, anomaly *storage.Anomaly) (*storage.Incident, error)
}

// LineageRefresher pulls query logs from a connector and upserts edges.
type LineageRefresher interface {
	Refresh(ctx context.Context, conn connector.WarehouseConnector, since time.Time) int
}

// Broadcaster fans lifecycle events out to subscribers.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// ConnectorFactory builds a warehouse connector for a stored connection.
// The scanner owns the returned connector for the duration of one cycle and
// disposes it on every exit path.
type ConnectorFactory func(ctx context.Context, conn *storage.Connection) (connector.WarehouseConnector, error)

// CycleStats summarizes one scan cycle.
type CycleStats struct {
	TablesScanned  int `json:"tables_scanned"`
	AnomaliesFound int `json:"anomalies_found"`
}

// Config holds the scanner's cadences.
type Config struct {
	ScanInterval    time.Duration
	LineageInterval time.Duration
}

// Scanner is the long-lived background driver.
type Scanner struct {
	connections storage.ConnectionStore
	tables      storage.MonitoredTableStore
	schema      sentinel.Sentinel
	freshness   sentinel.Sentinel
	engine      AnomalyHandler
	refresher   LineageRefresher
	connectors  ConnectorFactory
	notifier    Broadcaster
	logger      *slog.Logger
	config      Config
	running     atomic.Bool
}

// New constructs a Scanner.
func New(
	connections storage.ConnectionStore,
	tables storage.MonitoredTableStore,
	schema sentinel.Sentinel,
	freshness sentinel.Sentinel,
	engine AnomalyHandler,
	refresher LineageRefresher,
	connectors ConnectorFactory,
	broadcaster Broadcaster,
	logger *slog.Logger,
	config Config,
) *Scanner {
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultScanInterval
	}

	if config.LineageInterval <= 0 {
		config.LineageInterval = DefaultLineageInterval
	}

	return &Scanner{
		connections: connections,
		tables:      tables,
		schema:      schema,
		freshness:   freshness,
		engine:      engine,
		refresher:   refresher,
		connectors:  connectors,
		notifier:    broadcaster,
		logger:      logger,
		config:      config,
	}
}

// Running reports whether the background loop is active.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Run executes the scan loop until the context is cancelled. The lineage
// refresh fires immediately on the first pass and then on its own cadence.
// The loop checks for cancellation between cycles; the same context is
// passed into each cycle, so cancelling it can also interrupt the store and
// warehouse calls of a cycle in flight.
func (s *Scanner) Run(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.Info("Scanner started",
		slog.Duration("scan_interval", s.config.ScanInterval),
		slog.Duration("lineage_interval", s.config.LineageInterval),
	)

	var lastLineageRefresh time.Time

	for {
		if _, err := s.RunScanCycle(ctx); err != nil {
			s.logger.Error("Scan cycle failed", slog.String("error", err.Error()))
		}

		if time.Since(lastLineageRefresh) >= s.config.LineageInterval {
			s.RefreshLineage(ctx)

			lastLineageRefresh = time.Now()
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scanner stopped")

			return
		case <-time.After(s.config.ScanInterval):
		}
	}
}

// RunScanCycle executes one full pass over every active connection. A
// failing connection is logged and skipped; a failing sentinel on one table
// never aborts the cycle.
func (s *Scanner) RunScanCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	connections, err := s.connections.List(ctx, true)
	if err != nil {
		return stats, err
	}

	for _, conn := range connections {
		s.scanConnection(ctx, conn, &stats)
	}

	s.logger.Info("Scan cycle complete",
		slog.Int("tables_scanned", stats.TablesScanned),
		slog.Int("anomalies_found", stats.AnomaliesFound),
	)

	s.notifier.Broadcast(notifier.EventScanCompleted, stats)

	return stats, nil
}

// scanConnection inspects every monitored table of one connection.
func (s *Scanner) scanConnection(ctx context.Context, conn *storage.Connection, stats *CycleStats) {
	wh, err := s.connectors(ctx, conn)
	if err != nil {
		s.logger.Error("Failed to connect",
			slog.String("connection", conn.Name),
			slog.String("error", err.Error()),
		)

		return
	}

	defer func() {
		if err := wh.Dispose(); err != nil {
			s.logger.Warn("Connector dispose failed",
				slog.String("connection", conn.Name),
				slog.String("error", err.Error()),
			)
		}
	}()

	tables, err := s.tables.ListByConnection(ctx, conn.ID)
	if err != nil {
		s.logger.Error("Failed to list tables",
			slog.String("connection", conn.Name),
			slog.String("error", err.Error()),
		)

		return
	}

	for _, table := range tables {
		stats.TablesScanned++

		if hasCheck(table.CheckTypes, sentinel.CheckSchema) {
			s.routeAnomaly(ctx, s.schema.Inspect(ctx, table, wh), stats)
		}

		if hasCheck(table.CheckTypes, sentinel.CheckFreshness) {
			s.routeAnomaly(ctx, s.freshness.Inspect(ctx, table, wh), stats)
		}
	}
}

// routeAnomaly hands a detected anomaly to the correlation engine.
func (s *Scanner) routeAnomaly(ctx context.Context, anomaly *storage.Anomaly, stats *CycleStats) {
	if anomaly == nil {
		return
	}

	stats.AnomaliesFound++

	if _, err := s.engine.HandleAnomaly(ctx, anomaly); err != nil {
		s.logger.Error("Failed to handle anomaly",
			slog.String("anomaly_id", anomaly.ID),
			slog.String("error", err.Error()),
		)
	}
}

// RefreshLineage runs one lineage-refresh pass over every active connection.
// Returns the total edge-upsert count.
func (s *Scanner) RefreshLineage(ctx context.Context) int {
	connections, err := s.connections.List(ctx, true)
	if err != nil {
		s.logger.Error("Failed to list connections for lineage refresh", slog.String("error", err.Error()))

		return 0
	}

	total := 0

	for _, conn := range connections {
		wh, err := s.connectors(ctx, conn)
		if err != nil {
			s.logger.Error("Lineage refresh failed to connect",
				slog.String("connection", conn.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		total += s.refresher.Refresh(ctx, wh, time.Time{})

		if err := wh.Dispose(); err != nil {
			s.logger.Warn("Connector dispose failed",
				slog.String("connection", conn.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Lineage refresh complete", slog.Int("edges_updated", total))

	return total
}

func hasCheck(checkTypes []string, check string) bool {
	for _, c := range checkTypes {
		if c == check {
			return true
		}
	}

	return false
}
