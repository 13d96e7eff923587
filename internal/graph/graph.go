// Package graph provides Graph Query Facade adapters. Every implementation
// is assumed to sit behind tenant and permission filtering; the engine
// talks to the graph only through domain.GraphQuery.
package graph

import (
	"database/sql"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a graph facade based on configuration.
// For Community tier: returns SQLGraph over the relational store.
// For Pro tier: returns Neo4jGraph.
func New(cfg domain.GraphConfig, db *sql.DB, driver string) (domain.GraphQuery, error) {
	switch cfg.Backend {
	case "sql":
		if db == nil {
			return nil, fmt.Errorf("sql graph backend requires a database handle")
		}
		return NewSQLGraph(db, driver, cfg.QueryTimeout), nil

	case "neo4j":
		return NewNeo4jGraph(cfg)

	default:
		return nil, fmt.Errorf("unsupported graph backend: %s", cfg.Backend)
	}
}
