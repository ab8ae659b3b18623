package sentinel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSnapshotStore struct {
	snapshots []*storage.SchemaSnapshot
	createErr error
}

func (f *fakeSnapshotStore) Create(_ context.Context, snapshot *storage.SchemaSnapshot) error {
	if f.createErr != nil {
		return f.createErr
	}

	snapshot.CapturedAt = time.Now().UTC()
	f.snapshots = append(f.snapshots, snapshot)

	return nil
}

func (f *fakeSnapshotStore) Latest(_ context.Context, tableID string) (*storage.SchemaSnapshot, error) {
	for i := len(f.snapshots) - 1; i >= 0; i-- {
		if f.snapshots[i].TableID == tableID {
			return f.snapshots[i], nil
		}
	}

	return nil, storage.ErrNotFound
}

func (f *fakeSnapshotStore) ListForTable(_ context.Context, tableID string, limit int) ([]*storage.SchemaSnapshot, error) {
	var out []*storage.SchemaSnapshot

	for i := len(f.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if f.snapshots[i].TableID == tableID {
			out = append(out, f.snapshots[i])
		}
	}

	return out, nil
}

type fakeAnomalyStore struct {
	anomalies []*storage.Anomaly
	createErr error
}

func (f *fakeAnomalyStore) Create(_ context.Context, anomaly *storage.Anomaly) error {
	if f.createErr != nil {
		return f.createErr
	}

	anomaly.DetectedAt = time.Now().UTC()
	f.anomalies = append(f.anomalies, anomaly)

	return nil
}

func (f *fakeAnomalyStore) Get(_ context.Context, id string) (*storage.Anomaly, error) {
	for _, a := range f.anomalies {
		if a.ID == id {
			return a, nil
		}
	}

	return nil, storage.ErrNotFound
}

func (f *fakeAnomalyStore) RecentForTable(_ context.Context, tableID, excludeID string, limit int) ([]*storage.Anomaly, error) {
	var out []*storage.Anomaly

	for i := len(f.anomalies) - 1; i >= 0 && len(out) < limit; i-- {
		a := f.anomalies[i]
		if a.TableID == tableID && a.ID != excludeID {
			out = append(out, a)
		}
	}

	return out, nil
}

// fakeConnector implements connector.WarehouseConnector for sentinel tests.
type fakeConnector struct {
	columns       []connector.Column
	schemaErr     error
	lastUpdate    *time.Time
	lastUpdateErr error
}

func (f *fakeConnector) Dialect() string { return "postgres" }

func (f *fakeConnector) ListSchemas(context.Context) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConnector) ListTables(context.Context, string) ([]connector.TableInfo, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConnector) FetchSchema(context.Context, string, string) ([]connector.Column, error) {
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}

	return f.columns, nil
}

func (f *fakeConnector) FetchLastUpdateTime(context.Context, string, string) (*time.Time, error) {
	if f.lastUpdateErr != nil {
		return nil, f.lastUpdateErr
	}

	return f.lastUpdate, nil
}

func (f *fakeConnector) TestConnection(context.Context) (bool, error) { return true, nil }

func (f *fakeConnector) Dispose() error { return nil }

func (f *fakeConnector) QueryLogExtractor() connector.QueryLogExtractor { return nil }
