package domain

import (
	"context"
	"time"
)

// Direction constrains edge traversal relative to the start node.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// TraverseSpec describes a bounded traversal from a start entity.
type TraverseSpec struct {
	StartID   string
	RelTypes  []RelType
	Direction Direction
	MaxHops   int
	AsOf      time.Time
}

// Subgraph is the result of a traversal: the nodes reached and the edges
// walked, start node included.
type Subgraph struct {
	Nodes []Entity       `json:"nodes"`
	Edges []Relationship `json:"edges"`
}

// OutEdges returns the edges leaving the given node, filtered to the
// requested relationship types (all types when empty).
func (s *Subgraph) OutEdges(fromID string, types ...RelType) []Relationship {
	var out []Relationship
	for _, e := range s.Edges {
		if e.FromID != fromID {
			continue
		}
		if len(types) == 0 {
			out = append(out, e)
			continue
		}
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Node returns the node with the given id, if present.
func (s *Subgraph) Node(id string) (Entity, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Entity{}, false
}

// GraphQuery is the permission-filtered graph facade the engine depends on.
// Implementations are assumed to already apply tenant and ABAC filtering;
// the engine never bypasses it. Connection-level failures surface as
// ErrUpstreamUnavailable, missing business ids as ErrInvalidBusiness.
type GraphQuery interface {
	// GetNode fetches a single entity by id.
	GetNode(ctx context.Context, tenantID string, id string) (*Entity, error)

	// Traverse walks the graph from spec.StartID up to spec.MaxHops,
	// following only spec.RelTypes edges in spec.Direction.
	Traverse(ctx context.Context, tenantID string, spec TraverseSpec) (*Subgraph, error)

	// Neighbors returns the first-degree subgraph around an entity.
	Neighbors(ctx context.Context, tenantID string, id string, types []RelType) (*Subgraph, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close(ctx context.Context) error
}

// GraphConfig holds configuration for graph facade initialization.
type GraphConfig struct {
	// Backend is the facade implementation: "sql" or "neo4j"
	Backend string

	// Neo4j settings (Pro tier)
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// QueryTimeout bounds each facade call.
	QueryTimeout time.Duration
}
