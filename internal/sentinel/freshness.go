package sentinel

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/storage"
)

// FreshnessDetail is the structured detail attached to a freshness-violation
// anomaly.
type FreshnessDetail struct {
	LastUpdate     string  `json:"last_update"`
	SLAMinutes     int     `json:"sla_minutes"`
	MinutesOverdue float64 `json:"minutes_overdue"`
}

// FreshnessSentinel detects tables that have not been written to within
// their configured SLA.
type FreshnessSentinel struct {
	anomalies storage.AnomalyStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewFreshnessSentinel constructs a FreshnessSentinel.
func NewFreshnessSentinel(anomalies storage.AnomalyStore, logger *slog.Logger) *FreshnessSentinel {
	return &FreshnessSentinel{
		anomalies: anomalies,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Inspect compares the table's last write timestamp against its SLA. Tables
// without an SLA, and tables whose dialect cannot report a timestamp, are
// skipped.
func (s *FreshnessSentinel) Inspect(ctx context.Context, table *storage.MonitoredTable, conn connector.WarehouseConnector) *storage.Anomaly {
	if table.FreshnessSLAMinutes == nil || *table.FreshnessSLAMinutes <= 0 {
		return nil
	}

	sla := *table.FreshnessSLAMinutes

	lastUpdate, err := conn.FetchLastUpdateTime(ctx, table.Schema, table.Name)
	if err != nil {
		s.logger.Error("Failed to check freshness",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if lastUpdate == nil {
		s.logger.Warn("No update timestamp available", slog.String("table", table.FQN))

		return nil
	}

	minutesSince := s.now().Sub(lastUpdate.UTC()).Minutes()
	if minutesSince <= float64(sla) {
		return nil
	}

	minutesOverdue := math.Round((minutesSince-float64(sla))*10) / 10
	severity := classifyStaleness(minutesSince, sla)

	s.logger.Warn("Freshness violation",
		slog.String("table", table.FQN),
		slog.Float64("minutes_overdue", minutesOverdue),
		slog.String("severity", severity),
	)

	detail, err := json.Marshal(FreshnessDetail{
		LastUpdate:     lastUpdate.UTC().Format(time.RFC3339),
		SLAMinutes:     sla,
		MinutesOverdue: minutesOverdue,
	})
	if err != nil {
		s.logger.Error("Failed to encode freshness detail",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	anomaly := &storage.Anomaly{
		ID:       uuid.NewString(),
		TableID:  table.ID,
		Type:     storage.AnomalyTypeFreshnessViolation,
		Severity: severity,
		Detail:   detail,
	}
	if err := s.anomalies.Create(ctx, anomaly); err != nil {
		s.logger.Error("Failed to persist anomaly",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return anomaly
}

// classifyStaleness grades how far past the SLA the table has drifted.
func classifyStaleness(minutesSince float64, sla int) string {
	ratio := minutesSince / float64(sla)

	switch {
	case ratio > 5:
		return storage.SeverityCritical
	case ratio > 2:
		return storage.SeverityHigh
	default:
		return storage.SeverityMedium
	}
}
