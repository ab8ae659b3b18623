// Package lineage provides BFS traversal over the lineage-edge relation and
// a refresher that parses warehouse query logs into new edges.
//
// Traversals run per direction with first-visit-wins confidence; the
// refresher follows an insert-or-update cycle keyed on (source, target).
package lineage

import (
	"context"
	"fmt"
	"sort"

	"github.com/aegisdq/aegis/internal/storage"
)

// DefaultStaleDays is the edge-age cutoff below which edges participate in
// graph queries.
const DefaultStaleDays = 30

// Node is one hop in a BFS traversal result.
type Node struct {
	FQN        string  `json:"fqn"`
	Depth      int     `json:"depth"`
	Confidence float64 `json:"confidence"`
}

// BlastRadius summarizes the downstream impact of a table.
type BlastRadius struct {
	Table    string `json:"table"`
	Affected []Node `json:"affected"`
	Total    int    `json:"total"`
	MaxDepth int    `json:"max_depth"` //nolint: tagliatelle
}

// GraphEdge is one edge in a full_graph response.
type GraphEdge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
}

// FullGraph is the sorted-nodes + edge-list view used for visualization.
type FullGraph struct {
	Nodes []string    `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph operates over a store's currently-active lineage edges.
type Graph struct {
	store     storage.LineageEdgeStore
	staleDays int
}

// NewGraph constructs a Graph. staleDays <= 0 uses DefaultStaleDays.
func NewGraph(store storage.LineageEdgeStore, staleDays int) *Graph {
	if staleDays <= 0 {
		staleDays = DefaultStaleDays
	}

	return &Graph{store: store, staleDays: staleDays}
}

type adjacency map[string][]storage.LineageEdge

// Upstream performs a backwards BFS: what feeds into table, up to depth hops.
func (g *Graph) Upstream(ctx context.Context, table string, depth int) ([]Node, error) {
	edges, err := g.store.ListActive(ctx, g.staleDays)
	if err != nil {
		return nil, fmt.Errorf("list active edges: %w", err)
	}

	byTarget := make(adjacency)
	for _, e := range edges {
		byTarget[e.TargetFQN] = append(byTarget[e.TargetFQN], *e)
	}

	return bfs(table, depth, byTarget, func(e storage.LineageEdge) string { return e.SourceFQN }), nil
}

// Downstream performs a forward BFS: what table feeds into, up to depth hops.
func (g *Graph) Downstream(ctx context.Context, table string, depth int) ([]Node, error) {
	edges, err := g.store.ListActive(ctx, g.staleDays)
	if err != nil {
		return nil, fmt.Errorf("list active edges: %w", err)
	}

	bySource := make(adjacency)
	for _, e := range edges {
		bySource[e.SourceFQN] = append(bySource[e.SourceFQN], *e)
	}

	return bfs(table, depth, bySource, func(e storage.LineageEdge) string { return e.TargetFQN }), nil
}

// bfs is the shared traversal: each node visited at most once, returned in
// BFS order, confidence carried is the edge's confidence at first visit.
func bfs(start string, depth int, adj adjacency, neighbor func(storage.LineageEdge) string) []Node {
	visited := map[string]bool{start: true}
	queue := []struct {
		fqn   string
		depth int
	}{{start, 0}}

	var results []Node

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= depth {
			continue
		}

		for _, e := range adj[current.fqn] {
			n := neighbor(e)
			if visited[n] {
				continue
			}

			visited[n] = true
			results = append(results, Node{FQN: n, Depth: current.depth + 1, Confidence: e.Confidence})
			queue = append(queue, struct {
				fqn   string
				depth int
			}{n, current.depth + 1})
		}
	}

	return results
}

// BlastRadius computes full downstream impact, depth capped at 10.
func (g *Graph) BlastRadius(ctx context.Context, table string) (*BlastRadius, error) {
	const maxDepth = 10

	downstream, err := g.Downstream(ctx, table, maxDepth)
	if err != nil {
		return nil, err
	}

	maxSeen := 0

	for _, n := range downstream {
		if n.Depth > maxSeen {
			maxSeen = n.Depth
		}
	}

	return &BlastRadius{
		Table:    table,
		Affected: downstream,
		Total:    len(downstream),
		MaxDepth: maxSeen,
	}, nil
}

// Path returns the shortest forward path from source to target, or nil if
// unreachable. Ties are broken by store order (first_seen_at ascending).
func (g *Graph) Path(ctx context.Context, source, target string) ([]string, error) {
	edges, err := g.store.ListActive(ctx, g.staleDays)
	if err != nil {
		return nil, fmt.Errorf("list active edges: %w", err)
	}

	bySource := make(adjacency)
	for _, e := range edges {
		bySource[e.SourceFQN] = append(bySource[e.SourceFQN], *e)
	}

	visited := map[string]bool{source: true}

	type queued struct {
		fqn  string
		path []string
	}

	queue := []queued{{source, []string{source}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range bySource[current.fqn] {
			if e.TargetFQN == target {
				return append(append([]string{}, current.path...), e.TargetFQN), nil
			}

			if visited[e.TargetFQN] {
				continue
			}

			visited[e.TargetFQN] = true

			nextPath := append(append([]string{}, current.path...), e.TargetFQN)
			queue = append(queue, queued{e.TargetFQN, nextPath})
		}
	}

	return nil, nil
}

// FullGraph returns all active nodes (sorted, unique) and edges, optionally
// restricted to a connection's tables via fqns.
func (g *Graph) FullGraph(ctx context.Context, fqns []string) (*FullGraph, error) {
	var (
		edges []*storage.LineageEdge
		err   error
	)

	if len(fqns) > 0 {
		edges, err = g.store.ListActiveForConnection(ctx, g.staleDays, fqns)
	} else {
		edges, err = g.store.ListActive(ctx, g.staleDays)
	}

	if err != nil {
		return nil, fmt.Errorf("list active edges: %w", err)
	}

	nodeSet := make(map[string]bool)
	graphEdges := make([]GraphEdge, 0, len(edges))

	for _, e := range edges {
		nodeSet[e.SourceFQN] = true
		nodeSet[e.TargetFQN] = true

		graphEdges = append(graphEdges, GraphEdge{
			Source:       e.SourceFQN,
			Target:       e.TargetFQN,
			Relationship: e.Relationship,
			Confidence:   e.Confidence,
		})
	}

	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}

	sort.Strings(nodes)

	return &FullGraph{Nodes: nodes, Edges: graphEdges}, nil
}
