package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegisdq/aegis/internal/canonicalization"
	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/storage"
)

// SchemaChange is one entry in a schema-drift anomaly's detail list.
type SchemaChange struct {
	Change   string                   `json:"change"`
	Column   string                   `json:"column"`
	Nullable *bool                    `json:"nullable,omitempty"`
	Old      *canonicalization.Column `json:"old,omitempty"`
	New      *canonicalization.Column `json:"new,omitempty"`
	OldType  string                   `json:"old_type,omitempty"`
	NewType  string                   `json:"new_type,omitempty"`
}

// Change kinds emitted by the schema diff.
const (
	ChangeColumnDeleted = "column_deleted"
	ChangeColumnAdded   = "column_added"
	ChangeTypeChanged   = "type_changed"
)

// SchemaSentinel detects schema drift by comparing the warehouse's current
// column set against the latest stored snapshot.
type SchemaSentinel struct {
	snapshots storage.SchemaSnapshotStore
	anomalies storage.AnomalyStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewSchemaSentinel constructs a SchemaSentinel.
func NewSchemaSentinel(snapshots storage.SchemaSnapshotStore, anomalies storage.AnomalyStore, logger *slog.Logger) *SchemaSentinel {
	return &SchemaSentinel{
		snapshots: snapshots,
		anomalies: anomalies,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Inspect fetches the table's current columns, snapshots them, and compares
// against the previous snapshot. The first snapshot establishes a baseline
// and never produces an anomaly. Consecutive identical fetches write no new
// snapshot, so repeated scans of an unchanged table stay idempotent.
func (s *SchemaSentinel) Inspect(ctx context.Context, table *storage.MonitoredTable, conn connector.WarehouseConnector) *storage.Anomaly {
	columns, err := conn.FetchSchema(ctx, table.Schema, table.Name)
	if err != nil {
		s.logger.Error("Failed to fetch schema",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	current := toCanonicalColumns(columns)

	canonical, err := canonicalization.CanonicalizeColumns(current)
	if err != nil {
		s.logger.Error("Failed to canonicalize columns",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	currentHash := canonicalization.SnapshotHash(canonical)

	prior, err := s.snapshots.Latest(ctx, table.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("Failed to load latest snapshot",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if prior != nil && prior.SnapshotHash == currentHash {
		return nil
	}

	snapshot := &storage.SchemaSnapshot{
		ID:           uuid.NewString(),
		TableID:      table.ID,
		Columns:      canonical,
		SnapshotHash: currentHash,
	}
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		s.logger.Error("Failed to persist snapshot",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if prior == nil {
		s.logger.Info("First snapshot captured, baseline established", slog.String("table", table.FQN))

		return nil
	}

	var old []canonicalization.Column
	if err := json.Unmarshal(prior.Columns, &old); err != nil {
		s.logger.Error("Failed to decode prior snapshot",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	changes := diffSchemas(old, current)
	severity := classifyDrift(changes)

	detail, err := json.Marshal(changes)
	if err != nil {
		s.logger.Error("Failed to encode drift detail",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	s.logger.Warn("Schema drift detected",
		slog.String("table", table.FQN),
		slog.Int("changes", len(changes)),
		slog.String("severity", severity),
	)

	anomaly := &storage.Anomaly{
		ID:       uuid.NewString(),
		TableID:  table.ID,
		Type:     storage.AnomalyTypeSchemaDrift,
		Severity: severity,
		Detail:   detail,
	}
	if err := s.anomalies.Create(ctx, anomaly); err != nil {
		s.logger.Error("Failed to persist anomaly",
			slog.String("table", table.FQN),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return anomaly
}

func toCanonicalColumns(columns []connector.Column) []canonicalization.Column {
	out := make([]canonicalization.Column, len(columns))
	for i, c := range columns {
		out[i] = canonicalization.Column{
			Name:     c.Name,
			Type:     c.Type,
			Nullable: c.Nullable,
			Ordinal:  c.Ordinal,
		}
	}

	return out
}

// diffSchemas computes the change list between two column sets, keyed by
// column name. Deletions and type changes are reported in the old set's
// order, additions in the new set's order.
func diffSchemas(old, current []canonicalization.Column) []SchemaChange {
	oldByName := make(map[string]canonicalization.Column, len(old))
	for _, c := range old {
		oldByName[c.Name] = c
	}

	currentByName := make(map[string]canonicalization.Column, len(current))
	for _, c := range current {
		currentByName[c.Name] = c
	}

	var changes []SchemaChange

	for _, c := range old {
		if _, ok := currentByName[c.Name]; !ok {
			removed := c
			changes = append(changes, SchemaChange{
				Change: ChangeColumnDeleted,
				Column: c.Name,
				Old:    &removed,
			})
		}
	}

	for _, c := range current {
		if _, ok := oldByName[c.Name]; !ok {
			added := c
			nullable := c.Nullable
			changes = append(changes, SchemaChange{
				Change:   ChangeColumnAdded,
				Column:   c.Name,
				Nullable: &nullable,
				New:      &added,
			})
		}
	}

	for _, c := range old {
		now, ok := currentByName[c.Name]
		if !ok || now.Type == c.Type {
			continue
		}

		changes = append(changes, SchemaChange{
			Change:  ChangeTypeChanged,
			Column:  c.Name,
			OldType: c.Type,
			NewType: now.Type,
		})
	}

	return changes
}

// classifyDrift rolls the change list up to the single worst severity.
// Deleted columns and type changes break downstream consumers outright;
// added columns only matter when they arrive non-nullable.
func classifyDrift(changes []SchemaChange) string {
	worst := storage.SeverityLow

	for _, change := range changes {
		var severity string

		switch change.Change {
		case ChangeColumnDeleted, ChangeTypeChanged:
			severity = storage.SeverityCritical
		case ChangeColumnAdded:
			if change.Nullable != nil && !*change.Nullable {
				severity = storage.SeverityMedium
			} else {
				severity = storage.SeverityLow
			}
		default:
			severity = storage.SeverityMedium
		}

		if storage.SeverityRank(severity) > storage.SeverityRank(worst) {
			worst = severity
		}
	}

	return worst
}
