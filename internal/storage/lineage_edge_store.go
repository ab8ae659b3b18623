package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// LineageEdgeStore persists the global, connection-independent lineage relation.
type LineageEdgeStore interface {
	// Upsert inserts a new edge or, if (source_fqn, target_fqn) already exists, updates
	// last_seen_at and raises confidence/query_hash per the lineage refresher's rule
	// (confidence = max(existing, new), query_hash = new). Returns
	// whether a row was inserted (true) or updated (false).
	Upsert(ctx context.Context, edge *LineageEdge) (inserted bool, err error)
	// ListActive returns edges with last_seen_at within staleDays of now, the set the
	// lineage graph operates over.
	ListActive(ctx context.Context, staleDays int) ([]*LineageEdge, error)
	// ListActiveForConnection restricts ListActive to edges whose source or target FQN
	// belongs to a table under the given connection, for full_graph(connection_id).
	ListActiveForConnection(ctx context.Context, staleDays int, fqns []string) ([]*LineageEdge, error)
}

// PostgresLineageEdgeStore implements LineageEdgeStore against Postgres.
type PostgresLineageEdgeStore struct {
	db *DB
}

// NewPostgresLineageEdgeStore wraps a pooled connection for lineage-edge storage.
func NewPostgresLineageEdgeStore(db *DB) *PostgresLineageEdgeStore {
	return &PostgresLineageEdgeStore{db: db}
}

// Upsert implements the refresher's insert-or-update rule as a single statement using
// ON CONFLICT, so concurrent refresh cycles over different connections never race on
// the same edge.
func (s *PostgresLineageEdgeStore) Upsert(ctx context.Context, edge *LineageEdge) (bool, error) {
	query := `
		INSERT INTO lineage_edges (id, source_fqn, target_fqn, relationship, confidence, query_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_fqn, target_fqn) DO UPDATE SET
			last_seen_at = now(),
			confidence   = GREATEST(lineage_edges.confidence, EXCLUDED.confidence),
			query_hash   = EXCLUDED.query_hash
		RETURNING (xmax = 0) AS inserted, first_seen_at, last_seen_at, confidence
	`

	var inserted bool

	err := s.db.QueryRowContext(
		ctx, query,
		edge.ID, edge.SourceFQN, edge.TargetFQN, edge.Relationship, edge.Confidence, edge.QueryHash,
	).Scan(&inserted, &edge.FirstSeenAt, &edge.LastSeenAt, &edge.Confidence)
	if err != nil {
		return false, fmt.Errorf("upsert lineage edge: %w", err)
	}

	return inserted, nil
}

// ListActive returns all edges last seen within staleDays, store order (first_seen_at)
// for deterministic tie-breaking in graph traversals.
func (s *PostgresLineageEdgeStore) ListActive(ctx context.Context, staleDays int) ([]*LineageEdge, error) {
	cutoff := time.Duration(staleDays) * 24 * time.Hour

	query := `
		SELECT id, source_fqn, target_fqn, relationship, confidence, query_hash, first_seen_at, last_seen_at
		FROM lineage_edges
		WHERE last_seen_at >= now() - $1::interval
		ORDER BY first_seen_at
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff.String())
	if err != nil {
		return nil, fmt.Errorf("list active lineage edges: %w", err)
	}

	return scanLineageEdges(rows)
}

// ListActiveForConnection restricts ListActive to edges touching any of the given FQNs.
func (s *PostgresLineageEdgeStore) ListActiveForConnection(ctx context.Context, staleDays int, fqns []string) ([]*LineageEdge, error) {
	if len(fqns) == 0 {
		return []*LineageEdge{}, nil
	}

	cutoff := time.Duration(staleDays) * 24 * time.Hour

	query := `
		SELECT id, source_fqn, target_fqn, relationship, confidence, query_hash, first_seen_at, last_seen_at
		FROM lineage_edges
		WHERE last_seen_at >= now() - $1::interval
		  AND (source_fqn = ANY($2) OR target_fqn = ANY($2))
		ORDER BY first_seen_at
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff.String(), pq.Array(fqns))
	if err != nil {
		return nil, fmt.Errorf("list active lineage edges for connection: %w", err)
	}

	return scanLineageEdges(rows)
}

func scanLineageEdges(rows *sql.Rows) ([]*LineageEdge, error) {
	defer func() { _ = rows.Close() }()

	edges := make([]*LineageEdge, 0)

	for rows.Next() {
		var e LineageEdge

		err := rows.Scan(
			&e.ID, &e.SourceFQN, &e.TargetFQN, &e.Relationship, &e.Confidence,
			&e.QueryHash, &e.FirstSeenAt, &e.LastSeenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan lineage edge row: %w", err)
		}

		edges = append(edges, &e)
	}

	return edges, rows.Err()
}
