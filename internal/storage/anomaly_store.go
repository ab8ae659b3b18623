package storage

import (
	"context"
	"fmt"
)

// AnomalyStore persists immutable anomaly records produced by the sentinels.
type AnomalyStore interface {
	Create(ctx context.Context, anomaly *Anomaly) error
	Get(ctx context.Context, id string) (*Anomaly, error)
	RecentForTable(ctx context.Context, tableID string, excludeID string, limit int) ([]*Anomaly, error)
}

// PostgresAnomalyStore implements AnomalyStore against Postgres.
type PostgresAnomalyStore struct {
	db *DB
}

// NewPostgresAnomalyStore wraps a pooled connection for anomaly storage.
func NewPostgresAnomalyStore(db *DB) *PostgresAnomalyStore {
	return &PostgresAnomalyStore{db: db}
}

// Create inserts a new anomaly. Anomalies are never updated once written.
func (s *PostgresAnomalyStore) Create(ctx context.Context, anomaly *Anomaly) error {
	query := `
		INSERT INTO anomalies (id, table_id, type, severity, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING detected_at
	`

	err := s.db.QueryRowContext(ctx, query, anomaly.ID, anomaly.TableID, anomaly.Type, anomaly.Severity, anomaly.Detail).
		Scan(&anomaly.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}

	return nil
}

// Get retrieves an anomaly by ID.
func (s *PostgresAnomalyStore) Get(ctx context.Context, id string) (*Anomaly, error) {
	var a Anomaly

	query := `SELECT id, table_id, type, severity, detail, detected_at FROM anomalies WHERE id = $1`

	err := s.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.TableID, &a.Type, &a.Severity, &a.Detail, &a.DetectedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("query anomaly: %w", err)
	}

	return &a, nil
}

// RecentForTable returns up to limit most-recent anomalies for a table, newest first,
// excluding excludeID. Grounds the architect's "Recent History" prompt section
// (up to limit, excluding the current anomaly, newest first).
func (s *PostgresAnomalyStore) RecentForTable(ctx context.Context, tableID, excludeID string, limit int) ([]*Anomaly, error) {
	query := `
		SELECT id, table_id, type, severity, detail, detected_at
		FROM anomalies
		WHERE table_id = $1 AND id != $2
		ORDER BY detected_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, tableID, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent anomalies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	anomalies := make([]*Anomaly, 0)

	for rows.Next() {
		var a Anomaly

		if err := rows.Scan(&a.ID, &a.TableID, &a.Type, &a.Severity, &a.Detail, &a.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}

		anomalies = append(anomalies, &a)
	}

	return anomalies, rows.Err()
}
