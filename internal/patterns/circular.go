package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// cycleScoreContribution is the finding score for one payment cycle.
const cycleScoreContribution = 35

// CircularDetector finds money routed through a chain of counterparties
// back to the originating business. The search is an iterative depth-first
// walk over the PAYS neighborhood, bounded by CycleMaxDepth.
type CircularDetector struct {
	graph domain.GraphQuery
	cfg   domain.FraudConfig
}

func NewCircularDetector(graph domain.GraphQuery, cfg domain.FraudConfig) *CircularDetector {
	return &CircularDetector{graph: graph, cfg: cfg}
}

func (d *CircularDetector) Pattern() string { return domain.PatternCircularPayments }

func (d *CircularDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	sub, err := d.graph.Traverse(ctx, tenantID, domain.TraverseSpec{
		StartID:   businessID,
		RelTypes:  []domain.RelType{domain.RelPays},
		Direction: domain.DirectionOut,
		MaxHops:   d.cfg.CycleMaxDepth,
		AsOf:      window.To,
	})
	if err != nil {
		return nil, fmt.Errorf("circular payments: %w", err)
	}

	adj := make(map[string][]domain.Relationship)
	for _, e := range sub.Edges {
		adj[e.FromID] = append(adj[e.FromID], e)
	}

	cycles := findCycles(adj, businessID, d.cfg.CycleMaxDepth)

	var findings []domain.FraudFinding
	for _, c := range cycles {
		findings = append(findings, domain.FraudFinding{
			Pattern:           domain.PatternCircularPayments,
			ScoreContribution: cycleScoreContribution,
			Description: fmt.Sprintf("payment cycle through %d counterparties returning to %s",
				len(c.path)-1, businessID),
			Evidence: domain.CycleEvidence{
				Path:        c.path,
				TotalAmount: c.total,
			},
		})
	}
	return capFindings(findings, d.cfg.MaxFindingsPerPattern), nil
}

type cycle struct {
	path  []string
	total float64
}

// findCycles walks the adjacency iteratively with an explicit frame stack,
// collecting simple cycles that return to start within maxDepth edges. Each
// distinct node set is reported once.
func findCycles(adj map[string][]domain.Relationship, start string, maxDepth int) []cycle {
	type frame struct {
		node string
		next int // index of the next edge to try
	}

	var cycles []cycle
	seen := make(map[string]bool) // canonical node-set keys

	stack := []frame{{node: start}}
	path := []string{start}
	amounts := []float64{0}
	onPath := map[string]bool{start: true}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		edges := adj[top.node]

		if top.next >= len(edges) {
			// Exhausted: backtrack.
			stack = stack[:len(stack)-1]
			delete(onPath, top.node)
			path = path[:len(path)-1]
			amounts = amounts[:len(amounts)-1]
			continue
		}

		e := edges[top.next]
		top.next++

		if e.ToID == start {
			// Closed a cycle. Canonicalize by sorted node set.
			nodes := append([]string(nil), path...)
			sort.Strings(nodes)
			key := strings.Join(nodes, "|")
			if !seen[key] {
				seen[key] = true
				full := append(append([]string(nil), path...), start)
				total := edgeAmount(e)
				for _, a := range amounts {
					total += a
				}
				cycles = append(cycles, cycle{path: full, total: total})
			}
			continue
		}

		if onPath[e.ToID] {
			continue
		}
		// Descending would exceed the edge budget for any closing cycle.
		if len(stack) >= maxDepth {
			continue
		}

		onPath[e.ToID] = true
		path = append(path, e.ToID)
		amounts = append(amounts, edgeAmount(e))
		stack = append(stack, frame{node: e.ToID})
	}

	return cycles
}

func edgeAmount(e domain.Relationship) float64 {
	if e.Properties == nil {
		return 0
	}
	switch v := e.Properties["amount"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

var _ Detector = (*CircularDetector)(nil)
