package storage

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// Stats is the platform-health aggregate served by the stats endpoint.
type Stats struct {
	HealthScore              float64  `json:"health_score"`
	TotalTables              int      `json:"total_tables"`
	HealthyTables            int      `json:"healthy_tables"`
	OpenIncidents            int      `json:"open_incidents"`
	CriticalIncidents        int      `json:"critical_incidents"`
	Anomalies24h             int      `json:"anomalies_24h"`
	AvgResolutionTimeMinutes *float64 `json:"avg_resolution_time_minutes"`
}

// StatsStore aggregates platform health counters.
type StatsStore interface {
	Collect(ctx context.Context) (*Stats, error)
}

// PostgresStatsStore implements StatsStore against Postgres.
type PostgresStatsStore struct {
	db *DB
}

// NewPostgresStatsStore wraps a pooled connection for stats aggregation.
func NewPostgresStatsStore(db *DB) *PostgresStatsStore {
	return &PostgresStatsStore{db: db}
}

// Collect computes the health aggregate in a single round trip. The health
// score is the percentage of monitored tables without an open incident; an
// empty deployment scores 100.
func (s *PostgresStatsStore) Collect(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			(SELECT count(*) FROM monitored_tables),
			(SELECT count(*) FROM incidents WHERE status = ANY($1)),
			(SELECT count(*) FROM incidents WHERE status = ANY($1) AND severity = $2),
			(SELECT count(*) FROM anomalies WHERE detected_at >= now() - interval '24 hours'),
			(SELECT count(DISTINCT table_id) FROM incidents WHERE status = ANY($1)),
			(SELECT avg(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 60)
			 FROM incidents WHERE resolved_at IS NOT NULL)
	`

	var (
		stats               Stats
		tablesWithIncidents int
	)

	err := s.db.QueryRowContext(ctx, query, pq.Array(OpenIncidentStatuses), SeverityCritical).Scan(
		&stats.TotalTables,
		&stats.OpenIncidents,
		&stats.CriticalIncidents,
		&stats.Anomalies24h,
		&tablesWithIncidents,
		&stats.AvgResolutionTimeMinutes,
	)
	if err != nil {
		return nil, fmt.Errorf("collect stats: %w", err)
	}

	stats.HealthyTables = stats.TotalTables - tablesWithIncidents

	if stats.TotalTables > 0 {
		stats.HealthScore = float64(stats.HealthyTables) / float64(stats.TotalTables) * 100
	} else {
		stats.HealthScore = 100
	}

	return &stats, nil
}
