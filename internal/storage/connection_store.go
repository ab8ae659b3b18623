package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ConnectionStore persists operator-registered warehouse connections.
type ConnectionStore interface {
	Create(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	GetByName(ctx context.Context, name string) (*Connection, error)
	List(ctx context.Context, activeOnly bool) ([]*Connection, error)
	Update(ctx context.Context, conn *Connection) error
	Delete(ctx context.Context, id string) error
}

// PostgresConnectionStore implements ConnectionStore against Postgres.
type PostgresConnectionStore struct {
	db *DB
}

// NewPostgresConnectionStore wraps a pooled connection for connection-entity storage.
func NewPostgresConnectionStore(db *DB) *PostgresConnectionStore {
	return &PostgresConnectionStore{db: db}
}

// Create inserts a new connection row, populating CreatedAt/UpdatedAt from the database default.
func (s *PostgresConnectionStore) Create(ctx context.Context, conn *Connection) error {
	query := `
		INSERT INTO connections (id, name, dialect, uri_encrypted, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query, conn.ID, conn.Name, conn.Dialect, conn.URIEncrypted, conn.Active).
		Scan(&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrConflict
		}

		return fmt.Errorf("insert connection: %w", err)
	}

	return nil
}

// Get retrieves a connection by ID.
func (s *PostgresConnectionStore) Get(ctx context.Context, id string) (*Connection, error) {
	return s.scanOne(ctx, `
		SELECT id, name, dialect, uri_encrypted, active, created_at, updated_at
		FROM connections WHERE id = $1
	`, id)
}

// GetByName retrieves a connection by its unique name.
func (s *PostgresConnectionStore) GetByName(ctx context.Context, name string) (*Connection, error) {
	return s.scanOne(ctx, `
		SELECT id, name, dialect, uri_encrypted, active, created_at, updated_at
		FROM connections WHERE name = $1
	`, name)
}

func (s *PostgresConnectionStore) scanOne(ctx context.Context, query, arg string) (*Connection, error) {
	var c Connection

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&c.ID, &c.Name, &c.Dialect, &c.URIEncrypted, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("query connection: %w", err)
	}

	return &c, nil
}

// List returns all connections, optionally filtered to active ones, ordered by name.
func (s *PostgresConnectionStore) List(ctx context.Context, activeOnly bool) ([]*Connection, error) {
	query := `SELECT id, name, dialect, uri_encrypted, active, created_at, updated_at FROM connections`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}

	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	connections := make([]*Connection, 0)

	for rows.Next() {
		var c Connection

		if err := rows.Scan(&c.ID, &c.Name, &c.Dialect, &c.URIEncrypted, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}

		connections = append(connections, &c)
	}

	return connections, rows.Err()
}

// Update modifies a connection's mutable fields (name, dialect, URI, active flag).
func (s *PostgresConnectionStore) Update(ctx context.Context, conn *Connection) error {
	query := `
		UPDATE connections
		SET name = $1, dialect = $2, uri_encrypted = $3, active = $4, updated_at = now()
		WHERE id = $5
		RETURNING updated_at
	`

	err := s.db.QueryRowContext(ctx, query, conn.Name, conn.Dialect, conn.URIEncrypted, conn.Active, conn.ID).
		Scan(&conn.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrConflict
		}

		return fmt.Errorf("update connection: %w", err)
	}

	return nil
}

// Delete removes a connection. Cascades to monitored tables, snapshots, and anomalies.
func (s *PostgresConnectionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
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
