package lineage

import (
	"context"
	"log/slog"
	"time"

	"testing"

	"github.com/aegisdq/aegis/internal/connector"
)

type fakeExtractor struct {
	entries []connector.QueryLogEntry
	err     error
}

func (f *fakeExtractor) Extract(_ context.Context, _ time.Time) ([]connector.QueryLogEntry, error) {
	return f.entries, f.err
}

type fakeConnector struct {
	dialect   string
	extractor connector.QueryLogExtractor
}

func (f *fakeConnector) Dialect() string { return f.dialect }
func (f *fakeConnector) ListSchemas(_ context.Context) ([]string, error) { return nil, nil }
func (f *fakeConnector) ListTables(_ context.Context, _ string) ([]connector.TableInfo, error) {
	return nil, nil
}
func (f *fakeConnector) FetchSchema(_ context.Context, _, _ string) ([]connector.Column, error) {
	return nil, nil
}
func (f *fakeConnector) FetchLastUpdateTime(_ context.Context, _, _ string) (*time.Time, error) {
	return nil, nil
}
func (f *fakeConnector) TestConnection(_ context.Context) (bool, error) { return true, nil }
func (f *fakeConnector) Dispose() error                                 { return nil }
func (f *fakeConnector) QueryLogExtractor() connector.QueryLogExtractor { return f.extractor }

func TestRefresher_Refresh_UpsertsParsedEdges(t *testing.T) {
	store := &fakeEdgeStore{}
	extractor := &fakeExtractor{entries: []connector.QueryLogEntry{
		{SQL: "INSERT INTO public.summary SELECT * FROM public.raw"},
	}}
	conn := &fakeConnector{dialect: "postgres", extractor: extractor}

	r := NewRefresher(store, nil, slog.Default())

	count := r.Refresh(context.Background(), conn, time.Time{})
	if count != 1 {
		t.Fatalf("expected 1 edge upserted, got %d", count)
	}

	if len(store.edges) != 1 || store.edges[0].SourceFQN != "public.raw" {
		t.Errorf("unexpected stored edges: %+v", store.edges)
	}
}

func TestRefresher_Refresh_NoExtractor(t *testing.T) {
	store := &fakeEdgeStore{}
	conn := &fakeConnector{dialect: "bigquery", extractor: nil}

	r := NewRefresher(store, nil, slog.Default())

	count := r.Refresh(context.Background(), conn, time.Time{})
	if count != 0 {
		t.Errorf("expected 0 edges with no extractor, got %d", count)
	}
}

func TestRefresher_Refresh_ExtractFailure(t *testing.T) {
	store := &fakeEdgeStore{}
	extractor := &fakeExtractor{err: context.DeadlineExceeded}
	conn := &fakeConnector{dialect: "postgres", extractor: extractor}

	r := NewRefresher(store, nil, slog.Default())

	count := r.Refresh(context.Background(), conn, time.Time{})
	if count != 0 {
		t.Errorf("expected 0 edges on extract failure, got %d", count)
	}
}

type suffixStrippingResolver struct{}

func (suffixStrippingResolver) Resolve(fqn string) string {
	if fqn == "public.raw_tmp" {
		return "public.raw"
	}

	return fqn
}

func TestRefresher_Refresh_CanonicalizesFQNs(t *testing.T) {
	store := &fakeEdgeStore{}
	extractor := &fakeExtractor{entries: []connector.QueryLogEntry{
		{SQL: "INSERT INTO public.summary SELECT * FROM public.raw_tmp"},
	}}
	conn := &fakeConnector{dialect: "postgres", extractor: extractor}

	r := NewRefresher(store, suffixStrippingResolver{}, slog.Default())
	count := r.Refresh(context.Background(), conn, time.Time{})

	if count != 1 {
		t.Fatalf("expected 1 edge, got %d", count)
	}

	if len(store.edges) != 1 || store.edges[0].SourceFQN != "public.raw" {
		t.Fatalf("expected resolved source public.raw, got %+v", store.edges)
	}
}
