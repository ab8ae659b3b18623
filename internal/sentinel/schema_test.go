package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/storage"
)

var productsTable = &storage.MonitoredTable{
	ID:     "tbl-1",
	Schema: "public",
	Name:   "products",
	FQN:    "public.products",
}

func productColumns() []connector.Column {
	return []connector.Column{
		{Name: "id", Type: "INTEGER", Nullable: false, Ordinal: 1},
		{Name: "price", Type: "FLOAT", Nullable: true, Ordinal: 2},
		{Name: "name", Type: "VARCHAR", Nullable: true, Ordinal: 3},
	}
}

func TestSchemaSentinelFirstSnapshotIsBaseline(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	anomalies := &fakeAnomalyStore{}
	s := NewSchemaSentinel(snapshots, anomalies, discardLogger())

	anomaly := s.Inspect(context.Background(), productsTable, &fakeConnector{columns: productColumns()})

	assert.Nil(t, anomaly)
	assert.Len(t, snapshots.snapshots, 1)
	assert.Empty(t, anomalies.anomalies)
}

func TestSchemaSentinelUnchangedSchemaIsIdempotent(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	anomalies := &fakeAnomalyStore{}
	s := NewSchemaSentinel(snapshots, anomalies, discardLogger())
	conn := &fakeConnector{columns: productColumns()}

	require.Nil(t, s.Inspect(context.Background(), productsTable, conn))
	require.Nil(t, s.Inspect(context.Background(), productsTable, conn))

	// Exactly one baseline snapshot, zero anomalies after a repeat scan.
	assert.Len(t, snapshots.snapshots, 1)
	assert.Empty(t, anomalies.anomalies)
}

func TestSchemaSentinelDetectsDeletedColumn(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	anomalies := &fakeAnomalyStore{}
	s := NewSchemaSentinel(snapshots, anomalies, discardLogger())

	require.Nil(t, s.Inspect(context.Background(), productsTable, &fakeConnector{columns: productColumns()}))

	// Warehouse now returns the same columns minus "price".
	withoutPrice := []connector.Column{
		{Name: "id", Type: "INTEGER", Nullable: false, Ordinal: 1},
		{Name: "name", Type: "VARCHAR", Nullable: true, Ordinal: 3},
	}

	anomaly := s.Inspect(context.Background(), productsTable, &fakeConnector{columns: withoutPrice})

	require.NotNil(t, anomaly)
	assert.Equal(t, storage.AnomalyTypeSchemaDrift, anomaly.Type)
	assert.Equal(t, storage.SeverityCritical, anomaly.Severity)

	var changes []SchemaChange

	require.NoError(t, json.Unmarshal(anomaly.Detail, &changes))
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeColumnDeleted, changes[0].Change)
	assert.Equal(t, "price", changes[0].Column)
}

func TestSchemaSentinelAddedColumnSeverity(t *testing.T) {
	tests := []struct {
		name     string
		nullable bool
		want     string
	}{
		{"nullable addition is low", true, storage.SeverityLow},
		{"non-nullable addition is medium", false, storage.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshots := &fakeSnapshotStore{}
			anomalies := &fakeAnomalyStore{}
			s := NewSchemaSentinel(snapshots, anomalies, discardLogger())

			require.Nil(t, s.Inspect(context.Background(), productsTable, &fakeConnector{columns: productColumns()}))

			extended := append(productColumns(), connector.Column{
				Name: "sku", Type: "VARCHAR", Nullable: tt.nullable, Ordinal: 4,
			})

			anomaly := s.Inspect(context.Background(), productsTable, &fakeConnector{columns: extended})

			require.NotNil(t, anomaly)
			assert.Equal(t, tt.want, anomaly.Severity)
		})
	}
}

func TestSchemaSentinelTypeChangeIsCritical(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	anomalies := &fakeAnomalyStore{}
	s := NewSchemaSentinel(snapshots, anomalies, discardLogger())

	require.Nil(t, s.Inspect(context.Background(), productsTable, &fakeConnector{columns: productColumns()}))

	retyped := productColumns()
	retyped[1].Type = "DECIMAL"

	anomaly := s.Inspect(context.Background(), productsTable, &fakeConnector{columns: retyped})

	require.NotNil(t, anomaly)
	assert.Equal(t, storage.SeverityCritical, anomaly.Severity)

	var changes []SchemaChange

	require.NoError(t, json.Unmarshal(anomaly.Detail, &changes))
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeTypeChanged, changes[0].Change)
	assert.Equal(t, "FLOAT", changes[0].OldType)
	assert.Equal(t, "DECIMAL", changes[0].NewType)
}

func TestSchemaSentinelConnectorFailureIsSideEffectFree(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	anomalies := &fakeAnomalyStore{}
	s := NewSchemaSentinel(snapshots, anomalies, discardLogger())

	anomaly := s.Inspect(context.Background(), productsTable, &fakeConnector{schemaErr: errors.New("connection refused")})

	assert.Nil(t, anomaly)
	assert.Empty(t, snapshots.snapshots)
	assert.Empty(t, anomalies.anomalies)
}

func TestSchemaSentinelColumnOrderDoesNotMatter(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	anomalies := &fakeAnomalyStore{}
	s := NewSchemaSentinel(snapshots, anomalies, discardLogger())

	require.Nil(t, s.Inspect(context.Background(), productsTable, &fakeConnector{columns: productColumns()}))

	// Same logical columns returned in a different slice order.
	reordered := []connector.Column{
		{Name: "name", Type: "VARCHAR", Nullable: true, Ordinal: 3},
		{Name: "id", Type: "INTEGER", Nullable: false, Ordinal: 1},
		{Name: "price", Type: "FLOAT", Nullable: true, Ordinal: 2},
	}

	assert.Nil(t, s.Inspect(context.Background(), productsTable, &fakeConnector{columns: reordered}))
	assert.Len(t, snapshots.snapshots, 1)
}
