package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// postgresSystemSchemas are filtered out of schema listings.
var postgresSystemSchemas = map[string]bool{
	"pg_catalog":         true,
	"pg_toast":           true,
	"information_schema": true,
}

// timestampCandidates are the conventional column names probed for a table's
// last write time, in preference order.
var timestampCandidates = []string{"updated_at", "last_updated", "modified_at", "created_at"}

// PostgresConnector implements WarehouseConnector for PostgreSQL warehouses
// via information_schema.
type PostgresConnector struct {
	db *sql.DB
}

// NewPostgresConnector opens a pooled connection to the warehouse. The pool
// is sized small: connectors live for a single scan cycle.
func NewPostgresConnector(uri string) (*PostgresConnector, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("open warehouse connection: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &PostgresConnector{db: db}, nil
}

// Dialect identifies this connector's SQL dialect.
func (c *PostgresConnector) Dialect() string { return "postgres" }

// ListSchemas returns user schemas, with Postgres system schemas filtered out.
func (c *PostgresConnector) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schemas []string

	for rows.Next() {
		var name string

		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}

		if !postgresSystemSchemas[name] {
			schemas = append(schemas, name)
		}
	}

	return schemas, rows.Err()
}

// ListTables returns the tables and views in a schema.
func (c *PostgresConnector) ListTables(ctx context.Context, schema string) ([]TableInfo, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []TableInfo

	for rows.Next() {
		var name, tableType string

		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}

		kind := "table"
		if tableType == "VIEW" {
			kind = "view"
		}

		tables = append(tables, TableInfo{Name: name, Type: kind, Schema: schema})
	}

	return tables, rows.Err()
}

// FetchSchema returns a table's columns in ordinal order.
func (c *PostgresConnector) FetchSchema(ctx context.Context, schema, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("fetch schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column

	for rows.Next() {
		var (
			col      Column
			nullable string
		)

		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Ordinal); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}

		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s has no columns or does not exist", schema, table)
	}

	return columns, nil
}

// FetchLastUpdateTime probes the table for a conventional timestamp column
// and returns its maximum. Tables without one report nil, which makes the
// freshness sentinel skip them.
func (c *PostgresConnector) FetchLastUpdateTime(ctx context.Context, schema, table string) (*time.Time, error) {
	columns, err := c.FetchSchema(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]bool, len(columns))
	for _, col := range columns {
		byName[col.Name] = true
	}

	for _, candidate := range timestampCandidates {
		if !byName[candidate] {
			continue
		}

		query := fmt.Sprintf(`SELECT max(%q) FROM %q.%q`, candidate, schema, table)

		var last sql.NullTime

		if err := c.db.QueryRowContext(ctx, query).Scan(&last); err != nil {
			return nil, fmt.Errorf("fetch last update time: %w", err)
		}

		if !last.Valid {
			return nil, nil
		}

		t := last.Time.UTC()

		return &t, nil
	}

	return nil, nil
}

// TestConnection verifies connectivity and credentials.
func (c *PostgresConnector) TestConnection(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return false, err
	}

	return true, nil
}

// Dispose releases the connection pool.
func (c *PostgresConnector) Dispose() error {
	return c.db.Close()
}

// QueryLogExtractor is unavailable for plain Postgres: the server does not
// expose timestamped query history through SQL. Deployments that need
// lineage refresh feed query logs through the ingester instead.
func (c *PostgresConnector) QueryLogExtractor() QueryLogExtractor { return nil }
