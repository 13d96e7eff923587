package factors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// OwnershipScorer scores structural complexity of the ownership chain above
// a business: depth of the chain, intermediate holding entities, and the
// number of ultimate owners. Flat, directly held businesses score low.
type OwnershipScorer struct {
	graph domain.GraphQuery
	cfg   domain.ScoringConfig
}

func NewOwnershipScorer(graph domain.GraphQuery, cfg domain.ScoringConfig) *OwnershipScorer {
	return &OwnershipScorer{graph: graph, cfg: cfg}
}

func (s *OwnershipScorer) Name() string { return domain.FactorOwnershipComplexity }

func (s *OwnershipScorer) Score(ctx context.Context, tenantID string, businessID string, asOf time.Time) (domain.FactorScore, error) {
	maxHops := s.cfg.OwnershipMaxHops
	if maxHops <= 0 {
		maxHops = 5
	}

	sub, err := s.graph.Traverse(ctx, tenantID, domain.TraverseSpec{
		StartID:   businessID,
		RelTypes:  []domain.RelType{domain.RelOwns},
		Direction: domain.DirectionIn,
		MaxHops:   maxHops,
		AsOf:      asOf,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidBusiness) {
			return domain.FactorScore{}, err
		}
		return domain.FactorScore{}, fmt.Errorf("ownership complexity: %w", err)
	}

	if len(sub.Edges) == 0 {
		return neutral(domain.FactorOwnershipComplexity, asOf), nil
	}

	// owners[child] = direct owners of child, built from the OWNS edges.
	owners := make(map[string][]string)
	for _, e := range sub.Edges {
		owners[e.ToID] = append(owners[e.ToID], e.FromID)
	}

	maxDepth := 0
	ultimate := make(map[string]bool)
	intermediates := make(map[string]bool)

	// BFS up the chain from the business; node set is bounded by the
	// traversal so a cyclic holding structure cannot loop.
	type step struct {
		id    string
		depth int
	}
	visited := map[string]bool{businessID: true}
	queue := []step{{businessID, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		parents := owners[cur.id]
		if len(parents) == 0 && cur.id != businessID {
			ultimate[cur.id] = true
			continue
		}
		if cur.id != businessID {
			intermediates[cur.id] = true
		}
		for _, p := range parents {
			if visited[p] {
				continue
			}
			visited[p] = true
			d := cur.depth + 1
			if d > maxDepth {
				maxDepth = d
			}
			queue = append(queue, step{p, d})
		}
	}

	detail := domain.OwnershipDetail{
		MaxDepth:             maxDepth,
		IntermediateEntities: len(intermediates),
		UltimateOwners:       len(ultimate),
	}

	// Depth dominates; layered intermediates and fragmented ultimate
	// ownership add the rest.
	depthPart := clamp(float64(maxDepth)/float64(maxHops), 0, 1)
	interPart := clamp(float64(len(intermediates))/5.0, 0, 1)
	ownerPart := clamp(float64(len(ultimate)-1)/4.0, 0, 1)
	score := 100 * (0.5*depthPart + 0.3*interPart + 0.2*ownerPart)

	return domain.FactorScore{
		Factor:     domain.FactorOwnershipComplexity,
		Score:      clamp(score, 0, 100),
		Detail:     detail,
		ComputedAt: asOf,
	}, nil
}

var _ Scorer = (*OwnershipScorer)(nil)
