package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/storage"
)

type fakeConnectionStore struct {
	connections []*storage.Connection
}

func (f *fakeConnectionStore) Create(context.Context, *storage.Connection) error { return nil }

func (f *fakeConnectionStore) Get(_ context.Context, id string) (*storage.Connection, error) {
	for _, c := range f.connections {
		if c.ID == id {
			return c, nil
		}
	}

	return nil, storage.ErrNotFound
}

func (f *fakeConnectionStore) GetByName(context.Context, string) (*storage.Connection, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeConnectionStore) List(_ context.Context, activeOnly bool) ([]*storage.Connection, error) {
	if !activeOnly {
		return f.connections, nil
	}

	var active []*storage.Connection

	for _, c := range f.connections {
		if c.Active {
			active = append(active, c)
		}
	}

	return active, nil
}

func (f *fakeConnectionStore) Update(context.Context, *storage.Connection) error { return nil }

func (f *fakeConnectionStore) Delete(context.Context, string) error { return nil }

type fakeTableStore struct {
	byConnection map[string][]*storage.MonitoredTable
}

func (f *fakeTableStore) Create(context.Context, *storage.MonitoredTable) error { return nil }

func (f *fakeTableStore) Get(context.Context, string) (*storage.MonitoredTable, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeTableStore) ListByConnection(_ context.Context, connectionID string) ([]*storage.MonitoredTable, error) {
	return f.byConnection[connectionID], nil
}

func (f *fakeTableStore) ListAll(context.Context) ([]*storage.MonitoredTable, error) { return nil, nil }

func (f *fakeTableStore) ListPage(context.Context, string, int, int) ([]*storage.MonitoredTable, error) {
	return nil, nil
}

func (f *fakeTableStore) Update(context.Context, *storage.MonitoredTable) error { return nil }

func (f *fakeTableStore) Delete(context.Context, string) error { return nil }

// fakeSentinel records inspected tables and returns a canned anomaly.
type fakeSentinel struct {
	anomaly   *storage.Anomaly
	inspected []string
}

func (f *fakeSentinel) Inspect(_ context.Context, table *storage.MonitoredTable, _ connector.WarehouseConnector) *storage.Anomaly {
	f.inspected = append(f.inspected, table.FQN)

	return f.anomaly
}

type fakeEngine struct {
	handled []*storage.Anomaly
	err     error
}

func (f *fakeEngine) HandleAnomaly(_ context.Context, anomaly *storage.Anomaly) (*storage.Incident, error) {
	f.handled = append(f.handled, anomaly)

	return &storage.Incident{ID: "inc-1"}, f.err
}

type fakeRefresher struct {
	count int
	calls int
}

func (f *fakeRefresher) Refresh(context.Context, connector.WarehouseConnector, time.Time) int {
	f.calls++

	return f.count
}

type recordingBroadcaster struct {
	events []string
	data   []any
}

func (r *recordingBroadcaster) Broadcast(event string, data any) {
	r.events = append(r.events, event)
	r.data = append(r.data, data)
}

// stubConnector implements connector.WarehouseConnector for driver tests.
type stubConnector struct {
	schemas  []string
	tables   map[string][]connector.TableInfo
	disposed bool
}

func (s *stubConnector) Dialect() string { return "postgres" }

func (s *stubConnector) ListSchemas(context.Context) ([]string, error) { return s.schemas, nil }

func (s *stubConnector) ListTables(_ context.Context, schema string) ([]connector.TableInfo, error) {
	return s.tables[schema], nil
}

func (s *stubConnector) FetchSchema(context.Context, string, string) ([]connector.Column, error) {
	return nil, nil
}

func (s *stubConnector) FetchLastUpdateTime(context.Context, string, string) (*time.Time, error) {
	return nil, nil
}

func (s *stubConnector) TestConnection(context.Context) (bool, error) { return true, nil }

func (s *stubConnector) Dispose() error {
	s.disposed = true

	return nil
}

func (s *stubConnector) QueryLogExtractor() connector.QueryLogExtractor { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func table(id, connectionID, fqn string, checks ...string) *storage.MonitoredTable {
	return &storage.MonitoredTable{
		ID:           id,
		ConnectionID: connectionID,
		Schema:       "public",
		Name:         fqn,
		FQN:          fqn,
		CheckTypes:   checks,
	}
}

func TestRunScanCycleRoutesAnomalies(t *testing.T) {
	connections := &fakeConnectionStore{connections: []*storage.Connection{
		{ID: "conn-1", Name: "warehouse", Active: true},
	}}
	tables := &fakeTableStore{byConnection: map[string][]*storage.MonitoredTable{
		"conn-1": {
			table("t1", "conn-1", "public.orders", "schema", "freshness"),
			table("t2", "conn-1", "public.products", "schema"),
		},
	}}

	anomaly := &storage.Anomaly{ID: "anom-1", TableID: "t1", Type: storage.AnomalyTypeSchemaDrift}
	schema := &fakeSentinel{anomaly: anomaly}
	freshness := &fakeSentinel{}
	engine := &fakeEngine{}
	events := &recordingBroadcaster{}
	stub := &stubConnector{}

	s := New(connections, tables, schema, freshness, engine, &fakeRefresher{},
		func(context.Context, *storage.Connection) (connector.WarehouseConnector, error) { return stub, nil },
		events, discardLogger(), Config{})

	stats, err := s.RunScanCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.TablesScanned)
	// Schema sentinel fires on both tables; freshness only where enabled.
	assert.Equal(t, []string{"public.orders", "public.products"}, schema.inspected)
	assert.Equal(t, []string{"public.orders"}, freshness.inspected)
	assert.Equal(t, 2, stats.AnomaliesFound)
	assert.Len(t, engine.handled, 2)
	assert.True(t, stub.disposed)
	assert.Equal(t, []string{"scan.completed"}, events.events)
}

func TestRunScanCycleSkipsFailingConnection(t *testing.T) {
	connections := &fakeConnectionStore{connections: []*storage.Connection{
		{ID: "conn-bad", Name: "broken", Active: true},
		{ID: "conn-good", Name: "healthy", Active: true},
	}}
	tables := &fakeTableStore{byConnection: map[string][]*storage.MonitoredTable{
		"conn-good": {table("t1", "conn-good", "public.orders", "schema")},
	}}

	schema := &fakeSentinel{}
	engine := &fakeEngine{}
	events := &recordingBroadcaster{}

	factory := func(_ context.Context, conn *storage.Connection) (connector.WarehouseConnector, error) {
		if conn.ID == "conn-bad" {
			return nil, errors.New("connection refused")
		}

		return &stubConnector{}, nil
	}

	s := New(connections, tables, schema, &fakeSentinel{}, engine, &fakeRefresher{},
		factory, events, discardLogger(), Config{})

	stats, err := s.RunScanCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.TablesScanned)
	assert.Equal(t, []string{"public.orders"}, schema.inspected)
}

func TestRunScanCycleIgnoresInactiveConnections(t *testing.T) {
	connections := &fakeConnectionStore{connections: []*storage.Connection{
		{ID: "conn-1", Name: "paused", Active: false},
	}}

	s := New(connections, &fakeTableStore{}, &fakeSentinel{}, &fakeSentinel{}, &fakeEngine{},
		&fakeRefresher{},
		func(context.Context, *storage.Connection) (connector.WarehouseConnector, error) {
			t.Fatal("connector should not be built for inactive connections")

			return nil, nil
		},
		&recordingBroadcaster{}, discardLogger(), Config{})

	stats, err := s.RunScanCycle(context.Background())

	require.NoError(t, err)
	assert.Zero(t, stats.TablesScanned)
}

func TestRefreshLineageSumsEdgeCounts(t *testing.T) {
	connections := &fakeConnectionStore{connections: []*storage.Connection{
		{ID: "conn-1", Name: "a", Active: true},
		{ID: "conn-2", Name: "b", Active: true},
	}}

	refresher := &fakeRefresher{count: 3}

	s := New(connections, &fakeTableStore{}, &fakeSentinel{}, &fakeSentinel{}, &fakeEngine{},
		refresher,
		func(context.Context, *storage.Connection) (connector.WarehouseConnector, error) {
			return &stubConnector{}, nil
		},
		&recordingBroadcaster{}, discardLogger(), Config{})

	total := s.RefreshLineage(context.Background())

	assert.Equal(t, 6, total)
	assert.Equal(t, 2, refresher.calls)
}

func TestRunStopsAtCycleBoundary(t *testing.T) {
	connections := &fakeConnectionStore{}

	s := New(connections, &fakeTableStore{}, &fakeSentinel{}, &fakeSentinel{}, &fakeEngine{},
		&fakeRefresher{},
		func(context.Context, *storage.Connection) (connector.WarehouseConnector, error) {
			return &stubConnector{}, nil
		},
		&recordingBroadcaster{}, discardLogger(), Config{ScanInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Give the first cycle a moment, then cancel; Run must return promptly.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Running())
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop after cancellation")
	}

	assert.False(t, s.Running())
}

func TestRediscoverReportsDeltas(t *testing.T) {
	conn := &storage.Connection{ID: "conn-1", Name: "warehouse", Active: true}
	connections := &fakeConnectionStore{connections: []*storage.Connection{conn}}
	tables := &fakeTableStore{byConnection: map[string][]*storage.MonitoredTable{
		"conn-1": {
			table("t1", "conn-1", "public.orders", "schema"),
			table("t2", "conn-1", "public.retired", "schema"),
		},
	}}

	stub := &stubConnector{
		schemas: []string{"public"},
		tables: map[string][]connector.TableInfo{
			"public": {
				{Name: "orders", Type: "table", Schema: "public"},
				{Name: "customers", Type: "table", Schema: "public"},
			},
		},
	}

	events := &recordingBroadcaster{}

	s := New(connections, tables, &fakeSentinel{}, &fakeSentinel{}, &fakeEngine{},
		&fakeRefresher{},
		func(context.Context, *storage.Connection) (connector.WarehouseConnector, error) { return stub, nil },
		events, discardLogger(), Config{})

	deltas, err := s.Rediscover(context.Background(), conn)

	require.NoError(t, err)
	require.Len(t, deltas, 2)

	assert.Equal(t, TableDelta{Action: DeltaNew, Schema: "public", Name: "customers", FQN: "public.customers"}, deltas[0])
	assert.Equal(t, TableDelta{Action: DeltaDropped, Schema: "public", Name: "retired", FQN: "public.retired"}, deltas[1])

	assert.Equal(t, []string{"discovery.update"}, events.events)
	assert.True(t, stub.disposed)
}
