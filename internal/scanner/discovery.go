package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/notifier"
	"github.com/aegisdq/aegis/internal/storage"
)

// Delta actions.
const (
	DeltaNew     = "new"
	DeltaDropped = "dropped"
)

// TableDelta describes one difference between the warehouse catalog and the
// enrolled table set.
type TableDelta struct {
	Action string `json:"action"`
	Schema string `json:"schema"`
	Name   string `json:"name"`
	FQN    string `json:"fqn"`
}

// Rediscover compares the connection's current warehouse catalog against its
// enrolled tables and reports the differences. Read-only: it never enrolls
// or removes tables itself — deltas are proposals for the operator.
func (s *Scanner) Rediscover(ctx context.Context, conn *storage.Connection) ([]TableDelta, error) {
	wh, err := s.connectors(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("connect for rediscovery: %w", err)
	}

	defer func() {
		if err := wh.Dispose(); err != nil {
			s.logger.Warn("Connector dispose failed",
				slog.String("connection", conn.Name),
				slog.String("error", err.Error()),
			)
		}
	}()

	warehouseFQNs, err := catalogFQNs(ctx, wh)
	if err != nil {
		return nil, fmt.Errorf("read warehouse catalog: %w", err)
	}

	monitored, err := s.tables.ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("list monitored tables: %w", err)
	}

	monitoredFQNs := make(map[string]bool, len(monitored))
	for _, t := range monitored {
		monitoredFQNs[t.FQN] = true
	}

	var deltas []TableDelta

	for _, fqn := range sortedDifference(warehouseFQNs, monitoredFQNs) {
		schema, name := splitFQN(fqn)
		deltas = append(deltas, TableDelta{Action: DeltaNew, Schema: schema, Name: name, FQN: fqn})
	}

	for _, fqn := range sortedDifference(monitoredFQNs, warehouseFQNs) {
		schema, name := splitFQN(fqn)
		deltas = append(deltas, TableDelta{Action: DeltaDropped, Schema: schema, Name: name, FQN: fqn})
	}

	s.logger.Info("Rediscovery complete",
		slog.String("connection", conn.Name),
		slog.Int("deltas", len(deltas)),
	)

	s.notifier.Broadcast(notifier.EventDiscoveryUpdate, map[string]int{"total_deltas": len(deltas)})

	return deltas, nil
}

// catalogFQNs enumerates every table currently visible through the connector.
func catalogFQNs(ctx context.Context, wh connector.WarehouseConnector) (map[string]bool, error) {
	schemas, err := wh.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}

	fqns := make(map[string]bool)

	for _, schema := range schemas {
		tables, err := wh.ListTables(ctx, schema)
		if err != nil {
			return nil, err
		}

		for _, t := range tables {
			fqns[schema+"."+t.Name] = true
		}
	}

	return fqns, nil
}

// sortedDifference returns the keys of a not present in b, sorted.
func sortedDifference(a, b map[string]bool) []string {
	var out []string

	for fqn := range a {
		if !b[fqn] {
			out = append(out, fqn)
		}
	}

	sort.Strings(out)

	return out
}

// splitFQN splits "schema.name" into its parts. Single-segment names get the
// "default" schema.
func splitFQN(fqn string) (schema, name string) {
	for i := 0; i < len(fqn); i++ {
		if fqn[i] == '.' {
			return fqn[:i], fqn[i+1:]
		}
	}

	return "default", fqn
}
