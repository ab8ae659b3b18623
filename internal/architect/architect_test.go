package architect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisdq/aegis/internal/lineage"
	"github.com/aegisdq/aegis/internal/storage"
)

type fakeLLM struct {
	raw    []byte
	err    error
	prompt string
}

func (f *fakeLLM) Diagnose(_ context.Context, prompt string) ([]byte, error) {
	f.prompt = prompt

	return f.raw, f.err
}

type fakeGraph struct {
	upstream   []lineage.Node
	downstream []lineage.Node
	err        error
}

func (f *fakeGraph) Upstream(context.Context, string, int) ([]lineage.Node, error) {
	return f.upstream, f.err
}

func (f *fakeGraph) Downstream(context.Context, string, int) ([]lineage.Node, error) {
	return f.downstream, f.err
}

type fakeTableStore struct {
	table *storage.MonitoredTable
	err   error
}

func (f *fakeTableStore) Create(context.Context, *storage.MonitoredTable) error {
	return errors.New("not implemented")
}

func (f *fakeTableStore) Get(context.Context, string) (*storage.MonitoredTable, error) {
	return f.table, f.err
}

func (f *fakeTableStore) ListByConnection(context.Context, string) ([]*storage.MonitoredTable, error) {
	return nil, nil
}

func (f *fakeTableStore) ListAll(context.Context) ([]*storage.MonitoredTable, error) {
	return nil, nil
}

func (f *fakeTableStore) ListPage(context.Context, string, int, int) ([]*storage.MonitoredTable, error) {
	return nil, nil
}

func (f *fakeTableStore) Update(context.Context, *storage.MonitoredTable) error { return nil }

func (f *fakeTableStore) Delete(context.Context, string) error { return nil }

type fakeHistoryStore struct {
	recent []*storage.Anomaly
}

func (f *fakeHistoryStore) Create(context.Context, *storage.Anomaly) error { return nil }

func (f *fakeHistoryStore) Get(context.Context, string) (*storage.Anomaly, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeHistoryStore) RecentForTable(context.Context, string, string, int) ([]*storage.Anomaly, error) {
	return f.recent, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var ordersAnomaly = &storage.Anomaly{
	ID:         "anom-1",
	TableID:    "tbl-1",
	Type:       storage.AnomalyTypeFreshnessViolation,
	Severity:   storage.SeverityHigh,
	Detail:     []byte(`{"last_update":"2025-06-01T10:00:00Z","sla_minutes":60,"minutes_overdue":30.0}`),
	DetectedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
}

var ordersTable = &storage.MonitoredTable{
	ID:     "tbl-1",
	Schema: "staging",
	Name:   "orders",
	FQN:    "staging.orders",
}

func TestAnalyzeUsesModelDiagnosis(t *testing.T) {
	llm := &fakeLLM{raw: []byte(`{
		"root_cause": "Upstream loader stalled",
		"root_cause_table": "raw.orders",
		"blast_radius": ["analytics.orders"],
		"severity": "high",
		"confidence": 0.85,
		"recommendations": [{"action": "restart_job", "description": "Restart the loader", "priority": 1}]
	}`)}

	a := New(llm, &fakeGraph{}, &fakeTableStore{table: ordersTable}, &fakeHistoryStore{}, discardLogger())

	diagnosis, err := a.Analyze(context.Background(), ordersAnomaly)

	require.NoError(t, err)
	assert.Equal(t, "Upstream loader stalled", diagnosis.RootCause)
	assert.Equal(t, "raw.orders", diagnosis.RootCauseTable)
	assert.InDelta(t, 0.85, diagnosis.Confidence, 0.001)
	require.Len(t, diagnosis.Recommendations, 1)
	assert.Equal(t, "restart_job", diagnosis.Recommendations[0].Action)
}

func TestAnalyzeFallsBackOnModelError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model retries exhausted")}
	graph := &fakeGraph{downstream: []lineage.Node{
		{FQN: "analytics.orders", Depth: 1, Confidence: 1.0},
		{FQN: "analytics.daily_revenue", Depth: 2, Confidence: 0.8},
	}}

	a := New(llm, graph, &fakeTableStore{table: ordersTable}, &fakeHistoryStore{}, discardLogger())

	diagnosis, err := a.Analyze(context.Background(), ordersAnomaly)

	require.NoError(t, err)
	assert.Equal(t, "Automated analysis unavailable. Manual investigation required.", diagnosis.RootCause)
	assert.Equal(t, "staging.orders", diagnosis.RootCauseTable)
	assert.Equal(t, storage.SeverityHigh, diagnosis.Severity)
	assert.Zero(t, diagnosis.Confidence)
	assert.Equal(t, []string{"analytics.orders", "analytics.daily_revenue"}, diagnosis.BlastRadius)
	require.Len(t, diagnosis.Recommendations, 1)
	assert.Equal(t, "investigate", diagnosis.Recommendations[0].Action)
}

func TestAnalyzeFallsBackOnMalformedModelOutput(t *testing.T) {
	llm := &fakeLLM{raw: []byte(`{"root_cause": "missing table field"}`)}

	a := New(llm, &fakeGraph{}, &fakeTableStore{table: ordersTable}, &fakeHistoryStore{}, discardLogger())

	diagnosis, err := a.Analyze(context.Background(), ordersAnomaly)

	require.NoError(t, err)
	assert.Zero(t, diagnosis.Confidence)
}

func TestAnalyzeErrorsWhenTableMissing(t *testing.T) {
	a := New(nil, &fakeGraph{}, &fakeTableStore{err: storage.ErrNotFound}, &fakeHistoryStore{}, discardLogger())

	_, err := a.Analyze(context.Background(), ordersAnomaly)

	require.Error(t, err)
}

func TestPromptContainsAllSections(t *testing.T) {
	llm := &fakeLLM{err: errors.New("unavailable")}
	graph := &fakeGraph{
		upstream:   []lineage.Node{{FQN: "raw.orders", Depth: 1, Confidence: 1.0}},
		downstream: []lineage.Node{{FQN: "analytics.orders", Depth: 1, Confidence: 1.0}},
	}
	history := &fakeHistoryStore{recent: []*storage.Anomaly{{
		ID:         "anom-0",
		TableID:    "tbl-1",
		Type:       storage.AnomalyTypeSchemaDrift,
		Severity:   storage.SeverityMedium,
		DetectedAt: time.Date(2025, 5, 30, 8, 0, 0, 0, time.UTC),
	}}}

	a := New(llm, graph, &fakeTableStore{table: ordersTable}, history, discardLogger())

	_, err := a.Analyze(context.Background(), ordersAnomaly)
	require.NoError(t, err)

	assert.Contains(t, llm.prompt, "## Anomaly")
	assert.Contains(t, llm.prompt, "Type: freshness_violation")
	assert.Contains(t, llm.prompt, "Table: staging.orders")
	assert.Contains(t, llm.prompt, "Detected: 2025-06-01T12:00:00Z")
	assert.Contains(t, llm.prompt, "## Lineage")
	assert.Contains(t, llm.prompt, "raw.orders")
	assert.Contains(t, llm.prompt, "## Recent History")
	assert.Contains(t, llm.prompt, "schema_drift (medium)")
}

func TestPromptOmitsEmptySections(t *testing.T) {
	llm := &fakeLLM{err: errors.New("unavailable")}

	a := New(llm, &fakeGraph{}, &fakeTableStore{table: ordersTable}, &fakeHistoryStore{}, discardLogger())

	_, err := a.Analyze(context.Background(), ordersAnomaly)
	require.NoError(t, err)

	assert.NotContains(t, llm.prompt, "## Lineage")
	assert.NotContains(t, llm.prompt, "## Recent History")
}

func TestParseDiagnosisValidation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"missing root cause", `{"root_cause_table": "a.b"}`, ErrMissingRootCause},
		{"missing root cause table", `{"root_cause": "broken"}`, ErrMissingRootCauseTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDiagnosis([]byte(tt.raw))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseDiagnosisNormalizesOutOfRangeValues(t *testing.T) {
	d, err := ParseDiagnosis([]byte(`{
		"root_cause": "x", "root_cause_table": "a.b",
		"severity": "catastrophic", "confidence": 1.7,
		"recommendations": [{"action": "fix", "description": "d", "priority": 0}]
	}`))

	require.NoError(t, err)
	assert.Equal(t, storage.SeverityMedium, d.Severity)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, 1, d.Recommendations[0].Priority)
	assert.NotNil(t, d.BlastRadius)
}

func TestExtractJSONStripsFencing(t *testing.T) {
	text := "Here is the diagnosis:\n```json\n{\"root_cause\": \"x\"}\n```"
	assert.Equal(t, `{"root_cause": "x"}`, extractJSON(text))
}
