package correlation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisdq/aegis/internal/architect"
	"github.com/aegisdq/aegis/internal/executor"
	"github.com/aegisdq/aegis/internal/report"
	"github.com/aegisdq/aegis/internal/storage"
)

// fakeIncidentStore is an in-memory IncidentStore.
type fakeIncidentStore struct {
	incidents map[string]*storage.Incident
	seq       int
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{incidents: make(map[string]*storage.Incident)}
}

func (f *fakeIncidentStore) Create(_ context.Context, incident *storage.Incident) error {
	f.seq++
	incident.CreatedAt = time.Now().UTC().Add(time.Duration(f.seq) * time.Millisecond)
	incident.UpdatedAt = incident.CreatedAt
	f.incidents[incident.ID] = incident

	return nil
}

func (f *fakeIncidentStore) Get(_ context.Context, id string) (*storage.Incident, error) {
	incident, ok := f.incidents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return incident, nil
}

func (f *fakeIncidentStore) FindOpenByTableAndType(_ context.Context, tableID, anomalyType string) (*storage.Incident, error) {
	var matches []*storage.Incident

	for _, incident := range f.incidents {
		if incident.TableID != tableID || incident.AnomalyType != anomalyType {
			continue
		}

		for _, status := range storage.OpenIncidentStatuses {
			if incident.Status == status {
				matches = append(matches, incident)

				break
			}
		}
	}

	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	return matches[0], nil
}

func (f *fakeIncidentStore) UpdateDiagnosis(_ context.Context, id string, diagnosis, blastRadius []byte, severity string) error {
	incident := f.incidents[id]
	incident.Diagnosis = diagnosis
	incident.BlastRadius = blastRadius
	incident.Severity = severity

	return nil
}

func (f *fakeIncidentStore) UpdateRemediation(_ context.Context, id string, remediation []byte) error {
	f.incidents[id].Remediation = remediation

	return nil
}

func (f *fakeIncidentStore) UpdateReport(_ context.Context, id string, reportJSON []byte) error {
	f.incidents[id].Report = reportJSON

	return nil
}

func (f *fakeIncidentStore) SetStatus(_ context.Context, id, status string) error {
	f.incidents[id].Status = status
	f.incidents[id].UpdatedAt = time.Now().UTC()

	return nil
}

func (f *fakeIncidentStore) EscalateSeverity(_ context.Context, id, severity string) error {
	f.incidents[id].Severity = severity
	f.incidents[id].UpdatedAt = time.Now().UTC()

	return nil
}

func (f *fakeIncidentStore) Resolve(_ context.Context, id, resolvedBy string) error {
	incident, ok := f.incidents[id]
	if !ok {
		return storage.ErrNotFound
	}

	now := time.Now().UTC()
	incident.Status = storage.IncidentStatusResolved
	incident.ResolvedAt = &now
	incident.ResolvedBy = &resolvedBy

	return nil
}

func (f *fakeIncidentStore) Dismiss(_ context.Context, id, reason string) error {
	incident, ok := f.incidents[id]
	if !ok {
		return storage.ErrNotFound
	}

	now := time.Now().UTC()
	incident.Status = storage.IncidentStatusDismissed
	incident.ResolvedAt = &now
	incident.DismissReason = &reason

	return nil
}

func (f *fakeIncidentStore) List(context.Context, string) ([]*storage.Incident, error) {
	return nil, nil
}

func (f *fakeIncidentStore) ListFiltered(context.Context, storage.IncidentFilter) ([]*storage.Incident, error) {
	return nil, nil
}

func (f *fakeIncidentStore) openCount() int {
	count := 0

	for _, incident := range f.incidents {
		for _, status := range storage.OpenIncidentStatuses {
			if incident.Status == status {
				count++

				break
			}
		}
	}

	return count
}

type fakeTables struct{ table *storage.MonitoredTable }

func (f *fakeTables) Create(context.Context, *storage.MonitoredTable) error { return nil }

func (f *fakeTables) Get(context.Context, string) (*storage.MonitoredTable, error) {
	if f.table == nil {
		return nil, storage.ErrNotFound
	}

	return f.table, nil
}

func (f *fakeTables) ListByConnection(context.Context, string) ([]*storage.MonitoredTable, error) {
	return nil, nil
}

func (f *fakeTables) ListAll(context.Context) ([]*storage.MonitoredTable, error) { return nil, nil }

func (f *fakeTables) ListPage(context.Context, string, int, int) ([]*storage.MonitoredTable, error) {
	return nil, nil
}

func (f *fakeTables) Update(context.Context, *storage.MonitoredTable) error { return nil }

func (f *fakeTables) Delete(context.Context, string) error { return nil }

type fakeDiagnoser struct {
	diagnosis *architect.Diagnosis
	err       error
}

func (f *fakeDiagnoser) Analyze(context.Context, *storage.Anomaly) (*architect.Diagnosis, error) {
	return f.diagnosis, f.err
}

type recordingBroadcaster struct {
	events []string
	data   []any
}

func (r *recordingBroadcaster) Broadcast(event string, data any) {
	r.events = append(r.events, event)
	r.data = append(r.data, data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func anomalyOfSeverity(id, severity string) *storage.Anomaly {
	return &storage.Anomaly{
		ID:         id,
		TableID:    "tbl-1",
		Type:       storage.AnomalyTypeSchemaDrift,
		Severity:   severity,
		Detail:     []byte(`[{"change":"column_deleted","column":"price"}]`),
		DetectedAt: time.Now().UTC(),
	}
}

func newEngineUnderTest(store *fakeIncidentStore, diagnoser Diagnoser, events *recordingBroadcaster) *Engine {
	table := &storage.MonitoredTable{ID: "tbl-1", Schema: "public", Name: "products", FQN: "public.products"}

	return NewEngine(store, &fakeTables{table: table}, diagnoser, executor.New(), report.NewGenerator(), events, discardLogger())
}

func TestHandleAnomalyCreatePathRunsFullPipeline(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	diagnoser := &fakeDiagnoser{diagnosis: &architect.Diagnosis{
		RootCause:      "Upstream schema change",
		RootCauseTable: "raw.products",
		BlastRadius:    []string{"analytics.products"},
		Severity:       storage.SeverityCritical,
		Confidence:     0.8,
		Recommendations: []architect.Recommendation{
			{Action: "investigate", Description: "Check loader", Priority: 1},
		},
	}}

	engine := newEngineUnderTest(store, diagnoser, events)

	incident, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-1", storage.SeverityCritical))

	require.NoError(t, err)
	assert.Equal(t, storage.IncidentStatusPendingReview, incident.Status)
	assert.Equal(t, storage.SeverityCritical, incident.Severity)
	assert.NotEmpty(t, incident.Diagnosis)
	assert.NotEmpty(t, incident.Remediation)
	assert.NotEmpty(t, incident.Report)
	assert.NotEmpty(t, incident.BlastRadius)

	require.Equal(t, []string{"incident.created"}, events.events)
}

func TestHandleAnomalyDiagnosisFailureDegradesGracefully(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	engine := newEngineUnderTest(store, &fakeDiagnoser{err: errors.New("architect down")}, events)

	incident, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-1", storage.SeverityMedium))

	require.NoError(t, err)
	assert.Equal(t, storage.IncidentStatusPendingReview, incident.Status)
	assert.Equal(t, storage.SeverityMedium, incident.Severity)
	assert.Empty(t, incident.Diagnosis)
	assert.Empty(t, incident.Remediation)
	// The report is still generated, carrying the "analysis unavailable" root cause.
	assert.NotEmpty(t, incident.Report)
}

func TestHandleAnomalyMergesIntoOpenIncident(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	engine := newEngineUnderTest(store, &fakeDiagnoser{err: errors.New("down")}, events)

	first, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-1", storage.SeverityMedium))
	require.NoError(t, err)

	second, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-2", storage.SeverityCritical))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.openCount())
	assert.Equal(t, storage.SeverityCritical, second.Severity)
	assert.Equal(t, []string{"incident.created", "incident.updated"}, events.events)
}

func TestHandleAnomalyMergeNeverDowngradesSeverity(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	engine := newEngineUnderTest(store, &fakeDiagnoser{err: errors.New("down")}, events)

	_, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-1", storage.SeverityCritical))
	require.NoError(t, err)

	merged, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-2", storage.SeverityLow))
	require.NoError(t, err)

	assert.Equal(t, storage.SeverityCritical, merged.Severity)
}

func TestHandleAnomalyDifferentTypesOpenDistinctIncidents(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	engine := newEngineUnderTest(store, &fakeDiagnoser{err: errors.New("down")}, events)

	drift := anomalyOfSeverity("anom-1", storage.SeverityMedium)

	freshness := anomalyOfSeverity("anom-2", storage.SeverityMedium)
	freshness.Type = storage.AnomalyTypeFreshnessViolation
	freshness.Detail = []byte(`{"sla_minutes":60,"minutes_overdue":30.0}`)

	first, err := engine.HandleAnomaly(context.Background(), drift)
	require.NoError(t, err)

	second, err := engine.HandleAnomaly(context.Background(), freshness)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, store.openCount())
}

func TestDiagnosisSeverityNeverDropsBelowAnomaly(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	diagnoser := &fakeDiagnoser{diagnosis: &architect.Diagnosis{
		RootCause:      "Benign change",
		RootCauseTable: "raw.products",
		BlastRadius:    []string{},
		Severity:       storage.SeverityLow,
		Confidence:     0.9,
	}}

	engine := newEngineUnderTest(store, diagnoser, events)

	incident, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-1", storage.SeverityCritical))

	require.NoError(t, err)
	assert.Equal(t, storage.SeverityCritical, incident.Severity)
}

func TestApproveResolvesOpenIncident(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	engine := newEngineUnderTest(store, &fakeDiagnoser{err: errors.New("down")}, events)

	incident, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-1", storage.SeverityMedium))
	require.NoError(t, err)

	resolved, err := engine.Approve(context.Background(), incident.ID, "operator@example.com")

	require.NoError(t, err)
	assert.Equal(t, storage.IncidentStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "operator@example.com", *resolved.ResolvedBy)
	assert.Contains(t, events.events, "incident.updated")
}

func TestTerminalIncidentsCannotTransition(t *testing.T) {
	store := newFakeIncidentStore()
	events := &recordingBroadcaster{}
	engine := newEngineUnderTest(store, &fakeDiagnoser{err: errors.New("down")}, events)

	incident, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-1", storage.SeverityMedium))
	require.NoError(t, err)

	_, err = engine.Dismiss(context.Background(), incident.ID, "known issue")
	require.NoError(t, err)

	_, err = engine.Approve(context.Background(), incident.ID, "operator")
	require.ErrorIs(t, err, ErrNotOpen)

	// A new anomaly of the same type opens a fresh incident once the old one
	// is terminal.
	fresh, err := engine.HandleAnomaly(context.Background(), anomalyOfSeverity("anom-3", storage.SeverityMedium))
	require.NoError(t, err)
	assert.NotEqual(t, incident.ID, fresh.ID)
}
