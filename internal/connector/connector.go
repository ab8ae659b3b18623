// Package connector defines the capability contract a warehouse driver must
// satisfy to be scanned by the sentinels, scheduler, and lineage refresher.
// It also holds the Postgres implementation (PostgresConnector) and the
// Open factory that picks an implementation by dialect.
package connector

import (
	"context"
	"time"
)

// Column describes one column as reported by a warehouse's catalog.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Ordinal  int
}

// TableInfo describes one table or view discovered in a schema.
type TableInfo struct {
	Name   string
	Type   string
	Schema string
}

// QueryLogEntry is a single query-log line the lineage refresher parses for
// source/target edges.
type QueryLogEntry struct {
	SQL       string
	ExecutedAt time.Time
}

// QueryLogExtractor yields query-log entries newer than since. Not every
// dialect supports this; connectors without one return nil from
// QueryLogExtractor().
type QueryLogExtractor interface {
	Extract(ctx context.Context, since time.Time) ([]QueryLogEntry, error)
}

// WarehouseConnector is the capability a scan target's connection exposes.
// Every method is expected to be side-effect-free except Dispose; sentinels
// treat any error as "skip this table" rather than a fatal condition.
type WarehouseConnector interface {
	// Dialect identifies the connector's SQL dialect (e.g. "postgres").
	Dialect() string
	// ListSchemas returns user schemas, filtered of system schemas for this dialect.
	ListSchemas(ctx context.Context) ([]string, error)
	// ListTables returns the tables and views in a schema.
	ListTables(ctx context.Context, schema string) ([]TableInfo, error)
	// FetchSchema returns the ordered column set of a table.
	FetchSchema(ctx context.Context, schema, table string) ([]Column, error)
	// FetchLastUpdateTime returns the most recent write timestamp for a table,
	// or nil if the dialect can't determine one.
	FetchLastUpdateTime(ctx context.Context, schema, table string) (*time.Time, error)
	// TestConnection verifies connectivity and credentials.
	TestConnection(ctx context.Context) (bool, error)
	// Dispose releases any resources held by the connector (pools, sessions).
	Dispose() error
	// QueryLogExtractor returns this connector's query-log extractor, or nil
	// if the dialect doesn't expose one.
	QueryLogExtractor() QueryLogExtractor
}
