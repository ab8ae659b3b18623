package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisdq/aegis/internal/config"
)

// setupStores spins up a migrated Postgres container and returns the pooled
// handle. Skipped in short mode like every other integration test.
func setupStores(t *testing.T) *DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testDB.Container.Terminate(ctx)
	})

	return &DB{testDB.Connection}
}

func seedConnection(t *testing.T, db *DB) *Connection {
	t.Helper()

	conn := &Connection{
		ID:           uuid.NewString(),
		Name:         "warehouse-" + uuid.NewString()[:8],
		Dialect:      "postgres",
		URIEncrypted: []byte("sealed"),
		Active:       true,
	}
	require.NoError(t, NewPostgresConnectionStore(db).Create(context.Background(), conn))

	return conn
}

func seedTable(t *testing.T, db *DB, connectionID string) *MonitoredTable {
	t.Helper()

	sla := 60
	table := &MonitoredTable{
		ID:                  uuid.NewString(),
		ConnectionID:        connectionID,
		Schema:              "public",
		Name:                "orders_" + uuid.NewString()[:8],
		CheckTypes:          []string{"schema", "freshness"},
		FreshnessSLAMinutes: &sla,
	}
	table.FQN = table.Schema + "." + table.Name
	require.NoError(t, NewPostgresMonitoredTableStore(db).Create(context.Background(), table))

	return table
}

func seedAnomaly(t *testing.T, db *DB, tableID string) *Anomaly {
	t.Helper()

	anomaly := &Anomaly{
		ID:       uuid.NewString(),
		TableID:  tableID,
		Type:     AnomalyTypeSchemaDrift,
		Severity: SeverityMedium,
		Detail:   []byte(`[{"change":"column_deleted","column":"price"}]`),
	}
	require.NoError(t, NewPostgresAnomalyStore(db).Create(context.Background(), anomaly))

	return anomaly
}

func TestConnectionStoreUniqueName(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()
	store := NewPostgresConnectionStore(db)

	conn := seedConnection(t, db)

	duplicate := &Connection{
		ID:           uuid.NewString(),
		Name:         conn.Name,
		Dialect:      "postgres",
		URIEncrypted: []byte("sealed"),
		Active:       true,
	}

	require.ErrorIs(t, store.Create(ctx, duplicate), ErrConflict)
}

func TestMonitoredTableUniqueTriple(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()
	store := NewPostgresMonitoredTableStore(db)

	conn := seedConnection(t, db)
	table := seedTable(t, db, conn.ID)

	duplicate := &MonitoredTable{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		Schema:       table.Schema,
		Name:         table.Name,
		FQN:          table.FQN,
		CheckTypes:   []string{"schema"},
	}

	require.ErrorIs(t, store.Create(ctx, duplicate), ErrConflict)
}

func TestDeleteConnectionCascades(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()

	conn := seedConnection(t, db)
	table := seedTable(t, db, conn.ID)
	anomaly := seedAnomaly(t, db, table.ID)

	require.NoError(t, NewPostgresConnectionStore(db).Delete(ctx, conn.ID))

	_, err := NewPostgresMonitoredTableStore(db).Get(ctx, table.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewPostgresAnomalyStore(db).Get(ctx, anomaly.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchemaSnapshotLatestOrdering(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()
	store := NewPostgresSchemaSnapshotStore(db)

	conn := seedConnection(t, db)
	table := seedTable(t, db, conn.ID)

	_, err := store.Latest(ctx, table.ID)
	require.ErrorIs(t, err, ErrNotFound)

	first := &SchemaSnapshot{
		ID:           uuid.NewString(),
		TableID:      table.ID,
		Columns:      []byte(`[{"name":"id","type":"INTEGER","nullable":false,"ordinal":1}]`),
		SnapshotHash: "a000000000000000000000000000000000000000000000000000000000000001",
	}
	require.NoError(t, store.Create(ctx, first))

	second := &SchemaSnapshot{
		ID:           uuid.NewString(),
		TableID:      table.ID,
		Columns:      []byte(`[{"name":"id","type":"BIGINT","nullable":false,"ordinal":1}]`),
		SnapshotHash: "a000000000000000000000000000000000000000000000000000000000000002",
	}
	require.NoError(t, store.Create(ctx, second))

	latest, err := store.Latest(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, second.SnapshotHash, latest.SnapshotHash)

	history, err := store.ListForTable(ctx, table.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
}

func TestIncidentDedupeLookup(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()
	store := NewPostgresIncidentStore(db)

	conn := seedConnection(t, db)
	table := seedTable(t, db, conn.ID)
	anomaly := seedAnomaly(t, db, table.ID)

	_, err := store.FindOpenByTableAndType(ctx, table.ID, AnomalyTypeSchemaDrift)
	require.ErrorIs(t, err, ErrNotFound)

	incident := &Incident{
		ID:          uuid.NewString(),
		AnomalyID:   anomaly.ID,
		TableID:     table.ID,
		AnomalyType: anomaly.Type,
		Status:      IncidentStatusInvestigating,
		Severity:    SeverityMedium,
	}
	require.NoError(t, store.Create(ctx, incident))

	found, err := store.FindOpenByTableAndType(ctx, table.ID, AnomalyTypeSchemaDrift)
	require.NoError(t, err)
	assert.Equal(t, incident.ID, found.ID)

	// Terminal incidents leave the open set.
	require.NoError(t, store.Resolve(ctx, incident.ID, "operator"))

	_, err = store.FindOpenByTableAndType(ctx, table.ID, AnomalyTypeSchemaDrift)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncidentListFiltered(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()
	store := NewPostgresIncidentStore(db)

	conn := seedConnection(t, db)
	table := seedTable(t, db, conn.ID)

	for _, severity := range []string{SeverityLow, SeverityCritical} {
		anomaly := seedAnomaly(t, db, table.ID)
		require.NoError(t, store.Create(ctx, &Incident{
			ID:          uuid.NewString(),
			AnomalyID:   anomaly.ID,
			TableID:     table.ID,
			AnomalyType: anomaly.Type,
			Status:      IncidentStatusPendingReview,
			Severity:    severity,
		}))
	}

	critical, err := store.ListFiltered(ctx, IncidentFilter{
		Severity: SeverityCritical,
		TableID:  table.ID,
		Page:     1,
		PerPage:  50,
	})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, SeverityCritical, critical[0].Severity)

	since := time.Now().Add(time.Hour)
	none, err := store.ListFiltered(ctx, IncidentFilter{Since: &since, Page: 1, PerPage: 50})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLineageEdgeUpsertSemantics(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()
	store := NewPostgresLineageEdgeStore(db)

	edge := &LineageEdge{
		ID:           uuid.NewString(),
		SourceFQN:    "raw.orders",
		TargetFQN:    "staging.orders",
		Relationship: "direct",
		Confidence:   0.8,
		QueryHash:    "hash-1",
	}

	inserted, err := store.Upsert(ctx, edge)
	require.NoError(t, err)
	assert.True(t, inserted)

	// A repeat sighting with lower confidence keeps the higher value but
	// adopts the new query hash.
	repeat := &LineageEdge{
		ID:           uuid.NewString(),
		SourceFQN:    "raw.orders",
		TargetFQN:    "staging.orders",
		Relationship: "direct",
		Confidence:   0.6,
		QueryHash:    "hash-2",
	}

	inserted, err = store.Upsert(ctx, repeat)
	require.NoError(t, err)
	assert.False(t, inserted)

	active, err := store.ListActive(ctx, 30)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.InDelta(t, 0.8, active[0].Confidence, 0.001)
	assert.Equal(t, "hash-2", active[0].QueryHash)
	assert.False(t, active[0].LastSeenAt.Before(active[0].FirstSeenAt))
}

func TestStatsCollect(t *testing.T) {
	db := setupStores(t)
	ctx := context.Background()

	stats, err := NewPostgresStatsStore(db).Collect(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, stats.HealthScore, 0.001)
	assert.Zero(t, stats.TotalTables)

	conn := seedConnection(t, db)
	table := seedTable(t, db, conn.ID)
	anomaly := seedAnomaly(t, db, table.ID)

	require.NoError(t, NewPostgresIncidentStore(db).Create(ctx, &Incident{
		ID:          uuid.NewString(),
		AnomalyID:   anomaly.ID,
		TableID:     table.ID,
		AnomalyType: anomaly.Type,
		Status:      IncidentStatusOpen,
		Severity:    SeverityCritical,
	}))

	stats, err = NewPostgresStatsStore(db).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTables)
	assert.Equal(t, 0, stats.HealthyTables)
	assert.Equal(t, 1, stats.OpenIncidents)
	assert.Equal(t, 1, stats.CriticalIncidents)
	assert.Equal(t, 1, stats.Anomalies24h)
	assert.InDelta(t, 0.0, stats.HealthScore, 0.001)
}
