package lineage

import (
	"context"
	"testing"
	"time"

	"github.com/aegisdq/aegis/internal/storage"
)

// fakeEdgeStore is an in-memory storage.LineageEdgeStore for graph tests.
type fakeEdgeStore struct {
	edges []*storage.LineageEdge
}

func (f *fakeEdgeStore) Upsert(_ context.Context, edge *storage.LineageEdge) (bool, error) {
	for _, e := range f.edges {
		if e.SourceFQN == edge.SourceFQN && e.TargetFQN == edge.TargetFQN {
			if edge.Confidence > e.Confidence {
				e.Confidence = edge.Confidence
			}

			e.QueryHash = edge.QueryHash
			e.LastSeenAt = time.Now()

			return false, nil
		}
	}

	edge.FirstSeenAt = time.Now()
	edge.LastSeenAt = edge.FirstSeenAt
	f.edges = append(f.edges, edge)

	return true, nil
}

func (f *fakeEdgeStore) ListActive(_ context.Context, _ int) ([]*storage.LineageEdge, error) {
	return f.edges, nil
}

func (f *fakeEdgeStore) ListActiveForConnection(_ context.Context, _ int, fqns []string) ([]*storage.LineageEdge, error) {
	set := make(map[string]bool, len(fqns))
	for _, f := range fqns {
		set[f] = true
	}

	var result []*storage.LineageEdge

	for _, e := range f.edges {
		if set[e.SourceFQN] || set[e.TargetFQN] {
			result = append(result, e)
		}
	}

	return result, nil
}

func edge(source, target string, confidence float64) *storage.LineageEdge {
	return &storage.LineageEdge{SourceFQN: source, TargetFQN: target, Confidence: confidence, Relationship: "direct"}
}

func TestGraph_Downstream_BFSOrder(t *testing.T) {
	store := &fakeEdgeStore{edges: []*storage.LineageEdge{
		edge("a", "b", 1.0),
		edge("b", "c", 0.9),
		edge("a", "d", 0.8),
	}}

	g := NewGraph(store, 0)

	nodes, err := g.Downstream(context.Background(), "a", 3)
	if err != nil {
		t.Fatalf("Downstream() error = %v", err)
	}

	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %+v", len(nodes), nodes)
	}

	if nodes[0].FQN != "b" && nodes[0].FQN != "d" {
		t.Errorf("expected first result at depth 1, got %+v", nodes[0])
	}
}

func TestGraph_Downstream_DepthBound(t *testing.T) {
	store := &fakeEdgeStore{edges: []*storage.LineageEdge{
		edge("a", "b", 1.0),
		edge("b", "c", 1.0),
	}}

	g := NewGraph(store, 0)

	nodes, err := g.Downstream(context.Background(), "a", 1)
	if err != nil {
		t.Fatalf("Downstream() error = %v", err)
	}

	if len(nodes) != 1 || nodes[0].FQN != "b" {
		t.Errorf("expected traversal bounded to depth 1, got %+v", nodes)
	}
}

func TestGraph_Upstream(t *testing.T) {
	store := &fakeEdgeStore{edges: []*storage.LineageEdge{
		edge("raw", "staging", 1.0),
		edge("staging", "mart", 1.0),
	}}

	g := NewGraph(store, 0)

	nodes, err := g.Upstream(context.Background(), "mart", 3)
	if err != nil {
		t.Fatalf("Upstream() error = %v", err)
	}

	if len(nodes) != 2 {
		t.Fatalf("expected 2 upstream nodes, got %d", len(nodes))
	}
}

func TestGraph_Path_Unreachable(t *testing.T) {
	store := &fakeEdgeStore{edges: []*storage.LineageEdge{edge("a", "b", 1.0)}}

	g := NewGraph(store, 0)

	path, err := g.Path(context.Background(), "a", "z")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}

	if path != nil {
		t.Errorf("expected nil path for unreachable target, got %+v", path)
	}
}

func TestGraph_Path_Shortest(t *testing.T) {
	store := &fakeEdgeStore{edges: []*storage.LineageEdge{
		edge("a", "b", 1.0),
		edge("b", "c", 1.0),
		edge("a", "c", 1.0),
	}}

	g := NewGraph(store, 0)

	path, err := g.Path(context.Background(), "a", "c")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}

	if len(path) != 2 {
		t.Errorf("expected direct shortest path [a c], got %+v", path)
	}
}

func TestGraph_BlastRadius(t *testing.T) {
	store := &fakeEdgeStore{edges: []*storage.LineageEdge{
		edge("raw", "staging", 1.0),
		edge("staging", "mart", 1.0),
	}}

	g := NewGraph(store, 0)

	br, err := g.BlastRadius(context.Background(), "raw")
	if err != nil {
		t.Fatalf("BlastRadius() error = %v", err)
	}

	if br.Total != 2 || br.MaxDepth != 2 {
		t.Errorf("unexpected blast radius: %+v", br)
	}
}

func TestGraph_FullGraph_SortedNodes(t *testing.T) {
	store := &fakeEdgeStore{edges: []*storage.LineageEdge{
		edge("z_table", "a_table", 1.0),
	}}

	g := NewGraph(store, 0)

	fg, err := g.FullGraph(context.Background(), nil)
	if err != nil {
		t.Fatalf("FullGraph() error = %v", err)
	}

	if len(fg.Nodes) != 2 || fg.Nodes[0] != "a_table" {
		t.Errorf("expected sorted nodes starting with a_table, got %+v", fg.Nodes)
	}
}
