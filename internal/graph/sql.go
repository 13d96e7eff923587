package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLGraph implements domain.GraphQuery over the relational store's
// entities/relationships tables. Used as the Community tier facade.
// Traversal is a per-level BFS in Go so the SQL stays portable between
// SQLite and PostgreSQL.
type SQLGraph struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
}

// NewSQLGraph creates a SQL-backed graph facade sharing the repository's
// connection pool.
func NewSQLGraph(db *sql.DB, driver string, timeout time.Duration) *SQLGraph {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SQLGraph{db: db, driver: driver, timeout: timeout}
}

// GetNode fetches a single entity. A missing id surfaces as
// ErrInvalidBusiness; connection failures as ErrUpstreamUnavailable.
func (g *SQLGraph) GetNode(ctx context.Context, tenantID string, id string) (*domain.Entity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	query := g.rebind(`
		SELECT id, tenant_id, label, name, properties
		FROM entities
		WHERE tenant_id = ? AND id = ?
	`)

	var e domain.Entity
	var label, props string
	var name sql.NullString

	err := g.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&e.ID, &e.TenantID, &label, &name, &props,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidBusiness, id)
	}
	if err != nil {
		return nil, g.upstreamErr(err)
	}

	e.Label = domain.EntityLabel(label)
	e.Name = name.String
	if props != "" {
		_ = json.Unmarshal([]byte(props), &e.Properties)
	}
	return &e, nil
}

// Traverse walks the graph breadth-first from spec.StartID up to
// spec.MaxHops, following only spec.RelTypes edges in spec.Direction.
func (g *SQLGraph) Traverse(ctx context.Context, tenantID string, spec domain.TraverseSpec) (*domain.Subgraph, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if spec.MaxHops <= 0 {
		spec.MaxHops = 1
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start, err := g.GetNode(ctx, tenantID, spec.StartID)
	if err != nil {
		return nil, err
	}

	sub := &domain.Subgraph{Nodes: []domain.Entity{*start}}
	seen := map[string]bool{start.ID: true}
	frontier := []string{start.ID}
	edgeSeen := map[string]bool{}

	for hop := 0; hop < spec.MaxHops && len(frontier) > 0; hop++ {
		edges, err := g.edgesFrom(ctx, tenantID, frontier, spec.RelTypes, spec.Direction)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, e := range edges {
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
			}
		}

		if len(next) > 0 {
			nodes, err := g.nodesByID(ctx, tenantID, next)
			if err != nil {
				return nil, err
			}
			sub.Nodes = append(sub.Nodes, nodes...)
		}
		frontier = next
	}

	return sub, nil
}

// Neighbors returns the first-degree subgraph around an entity.
func (g *SQLGraph) Neighbors(ctx context.Context, tenantID string, id string, types []domain.RelType) (*domain.Subgraph, error) {
	return g.Traverse(ctx, tenantID, domain.TraverseSpec{
		StartID:   id,
		RelTypes:  types,
		Direction: domain.DirectionBoth,
		MaxHops:   1,
	})
}

func (g *SQLGraph) edgesFrom(ctx context.Context, tenantID string, ids []string, types []domain.RelType, dir domain.Direction) ([]domain.Relationship, error) {
	idPh := placeholders(len(ids))

	var where string
	args := []any{tenantID}
	switch dir {
	case domain.DirectionOut:
		where = "from_id IN (" + idPh + ")"
		args = appendIDs(args, ids)
	case domain.DirectionIn:
		where = "to_id IN (" + idPh + ")"
		args = appendIDs(args, ids)
	default:
		where = "(from_id IN (" + idPh + ") OR to_id IN (" + idPh + "))"
		args = appendIDs(args, ids)
		args = appendIDs(args, ids)
	}

	query := `
		SELECT tenant_id, from_id, to_id, type, properties
		FROM relationships
		WHERE tenant_id = ? AND ` + where

	if len(types) > 0 {
		query += " AND type IN (" + placeholders(len(types)) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}

	rows, err := g.db.QueryContext(ctx, g.rebind(query), args...)
	if err != nil {
		return nil, g.upstreamErr(err)
	}
	defer rows.Close()

	var edges []domain.Relationship
	for rows.Next() {
		var r domain.Relationship
		var typ string
		var props sql.NullString
		if err := rows.Scan(&r.TenantID, &r.FromID, &r.ToID, &typ, &props); err != nil {
			return nil, err
		}
		r.Type = domain.RelType(typ)
		if props.Valid && props.String != "" {
			_ = json.Unmarshal([]byte(props.String), &r.Properties)
		}
		edges = append(edges, r)
	}
	return edges, rows.Err()
}

func (g *SQLGraph) nodesByID(ctx context.Context, tenantID string, ids []string) ([]domain.Entity, error) {
	query := `
		SELECT id, tenant_id, label, name, properties
		FROM entities
		WHERE tenant_id = ? AND id IN (` + placeholders(len(ids)) + `)`

	args := []any{tenantID}
	args = appendIDs(args, ids)

	rows, err := g.db.QueryContext(ctx, g.rebind(query), args...)
	if err != nil {
		return nil, g.upstreamErr(err)
	}
	defer rows.Close()

	var nodes []domain.Entity
	for rows.Next() {
		var e domain.Entity
		var label, props string
		var name sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &label, &name, &props); err != nil {
			return nil, err
		}
		e.Label = domain.EntityLabel(label)
		e.Name = name.String
		if props != "" {
			_ = json.Unmarshal([]byte(props), &e.Properties)
		}
		nodes = append(nodes, e)
	}
	return nodes, rows.Err()
}

// Ping checks database connectivity.
func (g *SQLGraph) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Close is a no-op: the pool belongs to the repository.
func (g *SQLGraph) Close(ctx context.Context) error {
	return nil
}

func (g *SQLGraph) upstreamErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}

func (g *SQLGraph) rebind(query string) string {
	if g.driver != "postgres" {
		return query
	}
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendIDs(args []any, ids []string) []any {
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

var _ domain.GraphQuery = (*SQLGraph)(nil)
