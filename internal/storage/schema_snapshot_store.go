package storage

import (
	"context"
	"fmt"
)

// SchemaSnapshotStore persists point-in-time column captures used by the schema sentinel.
type SchemaSnapshotStore interface {
	Create(ctx context.Context, snapshot *SchemaSnapshot) error
	Latest(ctx context.Context, tableID string) (*SchemaSnapshot, error)
	ListForTable(ctx context.Context, tableID string, limit int) ([]*SchemaSnapshot, error)
}

// PostgresSchemaSnapshotStore implements SchemaSnapshotStore against Postgres.
type PostgresSchemaSnapshotStore struct {
	db *DB
}

// NewPostgresSchemaSnapshotStore wraps a pooled connection for schema-snapshot storage.
func NewPostgresSchemaSnapshotStore(db *DB) *PostgresSchemaSnapshotStore {
	return &PostgresSchemaSnapshotStore{db: db}
}

// Create inserts a new snapshot. The schema sentinel only writes when the
// column hash differs from the latest snapshot, so consecutive rows for a
// table always carry distinct hashes.
func (s *PostgresSchemaSnapshotStore) Create(ctx context.Context, snapshot *SchemaSnapshot) error {
	query := `
		INSERT INTO schema_snapshots (id, table_id, columns, snapshot_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING captured_at
	`

	err := s.db.QueryRowContext(ctx, query, snapshot.ID, snapshot.TableID, snapshot.Columns, snapshot.SnapshotHash).
		Scan(&snapshot.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert schema snapshot: %w", err)
	}

	return nil
}

// Latest returns the most recent snapshot for a table, or ErrNotFound if none exists
// (the "baseline not yet established" case the schema sentinel treats as no-anomaly).
func (s *PostgresSchemaSnapshotStore) Latest(ctx context.Context, tableID string) (*SchemaSnapshot, error) {
	var snap SchemaSnapshot

	query := `
		SELECT id, table_id, columns, snapshot_hash, captured_at
		FROM schema_snapshots
		WHERE table_id = $1
		ORDER BY captured_at DESC
		LIMIT 1
	`

	err := s.db.QueryRowContext(ctx, query, tableID).
		Scan(&snap.ID, &snap.TableID, &snap.Columns, &snap.SnapshotHash, &snap.CapturedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("query latest schema snapshot: %w", err)
	}

	return &snap, nil
}

// ListForTable returns a table's snapshots, newest first.
func (s *PostgresSchemaSnapshotStore) ListForTable(ctx context.Context, tableID string, limit int) ([]*SchemaSnapshot, error) {
	query := `
		SELECT id, table_id, columns, snapshot_hash, captured_at
		FROM schema_snapshots
		WHERE table_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("list schema snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshots := make([]*SchemaSnapshot, 0)

	for rows.Next() {
		var snap SchemaSnapshot

		if err := rows.Scan(&snap.ID, &snap.TableID, &snap.Columns, &snap.SnapshotHash, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan schema snapshot row: %w", err)
		}

		snapshots = append(snapshots, &snap)
	}

	return snapshots, rows.Err()
}
