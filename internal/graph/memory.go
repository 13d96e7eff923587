package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryGraph is an in-memory GraphQuery used in tests and as a fallback
// when no store is configured. Safe for concurrent use.
type MemoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]map[string]domain.Entity // tenantID -> id -> entity
	edges map[string][]domain.Relationship    // tenantID -> edges
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes: make(map[string]map[string]domain.Entity),
		edges: make(map[string][]domain.Relationship),
	}
}

// AddNode inserts or replaces an entity.
func (g *MemoryGraph) AddNode(tenantID string, e domain.Entity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nodes[tenantID] == nil {
		g.nodes[tenantID] = make(map[string]domain.Entity)
	}
	e.TenantID = tenantID
	g.nodes[tenantID][e.ID] = e
}

// AddEdge inserts a directed edge.
func (g *MemoryGraph) AddEdge(tenantID string, r domain.Relationship) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r.TenantID = tenantID
	g.edges[tenantID] = append(g.edges[tenantID], r)
}

func (g *MemoryGraph) GetNode(ctx context.Context, tenantID string, id string) (*domain.Entity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.nodes[tenantID][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidBusiness, id)
	}
	return &e, nil
}

func (g *MemoryGraph) Traverse(ctx context.Context, tenantID string, spec domain.TraverseSpec) (*domain.Subgraph, error) {
	start, err := g.GetNode(ctx, tenantID, spec.StartID)
	if err != nil {
		return nil, err
	}
	if spec.MaxHops <= 0 {
		spec.MaxHops = 1
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	sub := &domain.Subgraph{Nodes: []domain.Entity{*start}}
	seen := map[string]bool{start.ID: true}
	edgeSeen := map[string]bool{}
	frontier := []string{start.ID}

	for hop := 0; hop < spec.MaxHops && len(frontier) > 0; hop++ {
		inFrontier := map[string]bool{}
		for _, id := range frontier {
			inFrontier[id] = true
		}

		var next []string
		for _, e := range g.edges[tenantID] {
			if !matchType(e.Type, spec.RelTypes) {
				continue
			}
			var hit bool
			switch spec.Direction {
			case domain.DirectionOut:
				hit = inFrontier[e.FromID]
			case domain.DirectionIn:
				hit = inFrontier[e.ToID]
			default:
				hit = inFrontier[e.FromID] || inFrontier[e.ToID]
			}
			if !hit {
				continue
			}

			key := e.FromID + "|" + e.ToID + "|" + string(e.Type)
			if !edgeSeen[key] {
				edgeSeen[key] = true
				sub.Edges = append(sub.Edges, e)
			}
			for _, id := range []string{e.FromID, e.ToID} {
				if seen[id] {
					continue
				}
				seen[id] = true
				next = append(next, id)
				if n, ok := g.nodes[tenantID][id]; ok {
					sub.Nodes = append(sub.Nodes, n)
				}
			}
		}
		frontier = next
	}

	return sub, nil
}

func (g *MemoryGraph) Neighbors(ctx context.Context, tenantID string, id string, types []domain.RelType) (*domain.Subgraph, error) {
	return g.Traverse(ctx, tenantID, domain.TraverseSpec{
		StartID:   id,
		RelTypes:  types,
		Direction: domain.DirectionBoth,
		MaxHops:   1,
	})
}

func (g *MemoryGraph) Ping(ctx context.Context) error { return nil }

func (g *MemoryGraph) Close(ctx context.Context) error { return nil }

func matchType(t domain.RelType, types []domain.RelType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

var _ domain.GraphQuery = (*MemoryGraph)(nil)
