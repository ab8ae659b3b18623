package lineage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegisdq/aegis/internal/canonicalization"
	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/sqlparse"
	"github.com/aegisdq/aegis/internal/storage"
)

// defaultLookback is how far back a refresh cycle looks when the caller
// doesn't specify a since time.
const defaultLookback = 2 * time.Hour

// FQNResolver canonicalizes table FQNs before edges are stored, collapsing
// variant names (temp schemas, environment prefixes) onto one graph node.
type FQNResolver interface {
	Resolve(fqn string) string
}

// Refresher pulls query-log entries from a connector and upserts the
// lineage edges they describe.
type Refresher struct {
	store    storage.LineageEdgeStore
	resolver FQNResolver
	logger   *slog.Logger
}

// NewRefresher constructs a Refresher backed by a lineage-edge store.
// resolver may be nil, in which case FQNs are stored as parsed.
func NewRefresher(store storage.LineageEdgeStore, resolver FQNResolver, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{store: store, resolver: resolver, logger: logger}
}

// Refresh extracts query logs since the given time (or the default lookback
// if zero) and upserts every edge they describe. Returns the number of
// edge-upsert operations performed. Extraction failures are logged and
// treated as zero edges; the cycle never returns an error — it is meant to
// run unattended on a timer.
func (r *Refresher) Refresh(ctx context.Context, conn connector.WarehouseConnector, since time.Time) int {
	extractor := conn.QueryLogExtractor()
	if extractor == nil {
		r.logger.Warn("no query log extractor for dialect", slog.String("dialect", conn.Dialect()))

		return 0
	}

	if since.IsZero() {
		since = time.Now().UTC().Add(-defaultLookback)
	}

	entries, err := extractor.Extract(ctx, since)
	if err != nil {
		r.logger.Error("failed to extract query logs", slog.String("error", err.Error()))

		return 0
	}

	count := 0

	for _, entry := range entries {
		if entry.SQL == "" {
			continue
		}

		edges := sqlparse.ExtractEdges(entry.SQL, conn.Dialect())

		for _, edge := range edges {
			if err := r.upsert(ctx, edge, entry.SQL); err != nil {
				r.logger.Error("failed to upsert lineage edge",
					slog.String("source", edge.Source),
					slog.String("target", edge.Target),
					slog.String("error", err.Error()),
				)

				continue
			}

			count++
		}
	}

	r.logger.Info("refreshed lineage edges",
		slog.Int("edge_count", count),
		slog.Int("log_entries", len(entries)),
	)

	return count
}

func (r *Refresher) upsert(ctx context.Context, edge sqlparse.Edge, sql string) error {
	source, target := edge.Source, edge.Target
	if r.resolver != nil {
		source = r.resolver.Resolve(source)
		target = r.resolver.Resolve(target)
	}

	e := &storage.LineageEdge{
		ID:           uuid.NewString(),
		SourceFQN:    source,
		TargetFQN:    target,
		Relationship: "direct",
		Confidence:   edge.Confidence,
		QueryHash:    canonicalization.QueryHash(sql),
	}

	_, err := r.store.Upsert(ctx, e)

	return err
}
