package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Neo4jGraph implements domain.GraphQuery over a Neo4j instance.
// Used as the Pro tier facade. Entities carry app-level `id` and
// `tenantId` properties; tenant filtering happens in every query.
type Neo4jGraph struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// NewNeo4jGraph connects to Neo4j and verifies connectivity.
func NewNeo4jGraph(cfg domain.GraphConfig) (*Neo4jGraph, error) {
	uri := cfg.Neo4jURI
	if uri == "" {
		uri = "neo4j://localhost:7687"
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Neo4jGraph{
		driver:   driver,
		database: cfg.Neo4jDatabase,
		timeout:  timeout,
	}, nil
}

// GetNode fetches a single entity by app-level id.
func (g *Neo4jGraph) GetNode(ctx context.Context, tenantID string, id string) (*domain.Entity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := neo4j.ExecuteQuery(ctx, g.driver,
		`MATCH (n {id: $id, tenantId: $tenantId}) RETURN n LIMIT 1`,
		map[string]any{"id": id, "tenantId": tenantID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidBusiness, id)
	}

	raw, ok := result.Records[0].Get("n")
	if !ok {
		return nil, fmt.Errorf("%w: malformed record", domain.ErrUpstreamUnavailable)
	}
	node, ok := raw.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected record type %T", domain.ErrUpstreamUnavailable, raw)
	}

	e := nodeToEntity(node)
	return &e, nil
}

// Traverse walks a bounded variable-length pattern from the start node.
func (g *Neo4jGraph) Traverse(ctx context.Context, tenantID string, spec domain.TraverseSpec) (*domain.Subgraph, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if spec.MaxHops <= 0 {
		spec.MaxHops = 1
	}

	// Validate existence first so a missing start id is distinguishable
	// from an empty neighborhood.
	start, err := g.GetNode(ctx, tenantID, spec.StartID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	relPattern := relTypePattern(spec.RelTypes)
	var pattern string
	switch spec.Direction {
	case domain.DirectionOut:
		pattern = fmt.Sprintf("(s {id: $id, tenantId: $tenantId})-[%s*1..%d]->(m)", relPattern, spec.MaxHops)
	case domain.DirectionIn:
		pattern = fmt.Sprintf("(s {id: $id, tenantId: $tenantId})<-[%s*1..%d]-(m)", relPattern, spec.MaxHops)
	default:
		pattern = fmt.Sprintf("(s {id: $id, tenantId: $tenantId})-[%s*1..%d]-(m)", relPattern, spec.MaxHops)
	}

	query := "MATCH p = " + pattern + " WHERE m.tenantId = $tenantId RETURN p"

	result, err := neo4j.ExecuteQuery(ctx, g.driver, query,
		map[string]any{"id": spec.StartID, "tenantId": tenantID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	sub := &domain.Subgraph{Nodes: []domain.Entity{*start}}
	seenNodes := map[string]bool{start.ID: true}
	seenEdges := map[string]bool{}

	for _, rec := range result.Records {
		raw, ok := rec.Get("p")
		if !ok {
			continue
		}
		path, ok := raw.(dbtype.Path)
		if !ok {
			continue
		}

		// Map element ids to app ids so edges can be expressed in app terms.
		elementToApp := make(map[string]string, len(path.Nodes))
		for _, n := range path.Nodes {
			e := nodeToEntity(n)
			elementToApp[n.ElementId] = e.ID
			if !seenNodes[e.ID] {
				seenNodes[e.ID] = true
				sub.Nodes = append(sub.Nodes, e)
			}
		}

		for _, rel := range path.Relationships {
			fromID := elementToApp[rel.StartElementId]
			toID := elementToApp[rel.EndElementId]
			key := fromID + "|" + toID + "|" + rel.Type
			if seenEdges[key] {
				continue
			}
			seenEdges[key] = true
			sub.Edges = append(sub.Edges, domain.Relationship{
				TenantID:   tenantID,
				FromID:     fromID,
				ToID:       toID,
				Type:       domain.RelType(rel.Type),
				Properties: rel.Props,
			})
		}
	}

	return sub, nil
}

// Neighbors returns the first-degree subgraph around an entity.
func (g *Neo4jGraph) Neighbors(ctx context.Context, tenantID string, id string, types []domain.RelType) (*domain.Subgraph, error) {
	return g.Traverse(ctx, tenantID, domain.TraverseSpec{
		StartID:   id,
		RelTypes:  types,
		Direction: domain.DirectionBoth,
		MaxHops:   1,
	})
}

// Ping verifies driver connectivity.
func (g *Neo4jGraph) Ping(ctx context.Context) error {
	if err := g.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

// Close shuts down the driver.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func nodeToEntity(n dbtype.Node) domain.Entity {
	e := domain.Entity{Properties: make(map[string]any, len(n.Props))}
	for k, v := range n.Props {
		switch k {
		case "id":
			if s, ok := v.(string); ok {
				e.ID = s
			}
		case "tenantId":
			if s, ok := v.(string); ok {
				e.TenantID = s
			}
		case "name":
			if s, ok := v.(string); ok {
				e.Name = s
			}
		default:
			e.Properties[k] = v
		}
	}
	if len(n.Labels) > 0 {
		e.Label = domain.EntityLabel(n.Labels[0])
	}
	return e
}

func relTypePattern(types []domain.RelType) string {
	if len(types) == 0 {
		return ""
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return ":" + strings.Join(parts, "|")
}

var _ domain.GraphQuery = (*Neo4jGraph)(nil)
