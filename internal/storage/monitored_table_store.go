package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// MonitoredTableStore persists tables enrolled for scanning.
type MonitoredTableStore interface {
	Create(ctx context.Context, table *MonitoredTable) error
	Get(ctx context.Context, id string) (*MonitoredTable, error)
	ListByConnection(ctx context.Context, connectionID string) ([]*MonitoredTable, error)
	ListAll(ctx context.Context) ([]*MonitoredTable, error)
	ListPage(ctx context.Context, connectionID string, page, perPage int) ([]*MonitoredTable, error)
	Update(ctx context.Context, table *MonitoredTable) error
	Delete(ctx context.Context, id string) error
}

// PostgresMonitoredTableStore implements MonitoredTableStore against Postgres.
type PostgresMonitoredTableStore struct {
	db *DB
}

// NewPostgresMonitoredTableStore wraps a pooled connection for monitored-table storage.
func NewPostgresMonitoredTableStore(db *DB) *PostgresMonitoredTableStore {
	return &PostgresMonitoredTableStore{db: db}
}

// Create enrolls a new table for scanning. FQN must already be assembled by the caller
// (canonicalization.BuildFQN) before calling.
func (s *PostgresMonitoredTableStore) Create(ctx context.Context, table *MonitoredTable) error {
	query := `
		INSERT INTO monitored_tables
			(id, connection_id, schema_name, table_name, fqn, check_types, freshness_sla_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := s.db.QueryRowContext(
		ctx, query,
		table.ID, table.ConnectionID, table.Schema, table.Name, table.FQN,
		pq.Array(table.CheckTypes), table.FreshnessSLAMinutes,
	).Scan(&table.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrConflict
		}

		return fmt.Errorf("insert monitored table: %w", err)
	}

	return nil
}

// Get retrieves a monitored table by ID.
func (s *PostgresMonitoredTableStore) Get(ctx context.Context, id string) (*MonitoredTable, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, connection_id, schema_name, table_name, fqn, check_types, freshness_sla_minutes, created_at
		FROM monitored_tables WHERE id = $1
	`, id)

	return scanMonitoredTable(row)
}

// ListByConnection returns all tables enrolled under a connection.
func (s *PostgresMonitoredTableStore) ListByConnection(ctx context.Context, connectionID string) ([]*MonitoredTable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, schema_name, table_name, fqn, check_types, freshness_sla_minutes, created_at
		FROM monitored_tables WHERE connection_id = $1 ORDER BY fqn
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list monitored tables: %w", err)
	}

	return scanMonitoredTables(rows)
}

// ListAll returns every monitored table, used by the scan scheduler to build its work queue.
func (s *PostgresMonitoredTableStore) ListAll(ctx context.Context) ([]*MonitoredTable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, schema_name, table_name, fqn, check_types, freshness_sla_minutes, created_at
		FROM monitored_tables ORDER BY fqn
	`)
	if err != nil {
		return nil, fmt.Errorf("list all monitored tables: %w", err)
	}

	return scanMonitoredTables(rows)
}

// ListPage returns one page of monitored tables, newest enrollment first,
// optionally restricted to a connection.
func (s *PostgresMonitoredTableStore) ListPage(ctx context.Context, connectionID string, page, perPage int) ([]*MonitoredTable, error) {
	if page < 1 {
		page = 1
	}

	query := `
		SELECT id, connection_id, schema_name, table_name, fqn, check_types, freshness_sla_minutes, created_at
		FROM monitored_tables
	`

	args := make([]interface{}, 0, 3)

	if connectionID != "" {
		query += ` WHERE connection_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

		args = append(args, connectionID, perPage, (page-1)*perPage)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

		args = append(args, perPage, (page-1)*perPage)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list monitored tables page: %w", err)
	}

	return scanMonitoredTables(rows)
}

// Update modifies a table's check configuration.
func (s *PostgresMonitoredTableStore) Update(ctx context.Context, table *MonitoredTable) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE monitored_tables SET check_types = $1, freshness_sla_minutes = $2 WHERE id = $3
	`, pq.Array(table.CheckTypes), table.FreshnessSLAMinutes, table.ID)
	if err != nil {
		return fmt.Errorf("update monitored table: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a monitored table. Cascades to its snapshots and anomalies.
func (s *PostgresMonitoredTableStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM monitored_tables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete monitored table: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMonitoredTable(row rowScanner) (*MonitoredTable, error) {
	var t MonitoredTable

	err := row.Scan(
		&t.ID, &t.ConnectionID, &t.Schema, &t.Name, &t.FQN,
		pq.Array(&t.CheckTypes), &t.FreshnessSLAMinutes, &t.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("scan monitored table: %w", err)
	}

	return &t, nil
}

type rowsScanner interface {
	Next() bool
	Err() error
	Close() error
	Scan(dest ...interface{}) error
}

func scanMonitoredTables(rows rowsScanner) ([]*MonitoredTable, error) {
	defer func() { _ = rows.Close() }()

	tables := make([]*MonitoredTable, 0)

	for rows.Next() {
		var t MonitoredTable

		err := rows.Scan(
			&t.ID, &t.ConnectionID, &t.Schema, &t.Name, &t.FQN,
			pq.Array(&t.CheckTypes), &t.FreshnessSLAMinutes, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan monitored table row: %w", err)
		}

		tables = append(tables, &t)
	}

	return tables, rows.Err()
}
