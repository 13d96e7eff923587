// Package factors implements the per-factor risk scorers. Each scorer owns
// one factor name and produces a 0..100 score with a typed detail payload.
// A scorer with no data to work from returns the neutral score with
// InsufficientData set rather than guessing.
package factors

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer computes one risk factor for one business.
type Scorer interface {
	// Name returns the factor name this scorer owns.
	Name() string

	// Score computes the factor as of the given time. Upstream failures
	// surface as errors wrapping domain.ErrUpstreamUnavailable; missing
	// data produces a neutral score with InsufficientData set, not an error.
	Score(ctx context.Context, tenantID string, businessID string, asOf time.Time) (domain.FactorScore, error)
}

// All returns the full scorer set in factor order.
func All(repo domain.Repository, graph domain.GraphQuery, cfg domain.ScoringConfig) []Scorer {
	return []Scorer{
		NewPaymentBehaviorScorer(repo, cfg),
		NewConcentrationScorer(repo, cfg),
		NewOwnershipScorer(graph, cfg),
		NewCashFlowScorer(repo, cfg),
		NewNetworkScorer(repo, graph, cfg),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func neutral(factor string, asOf time.Time) domain.FactorScore {
	return domain.FactorScore{
		Factor:           factor,
		Score:            domain.NeutralScore,
		InsufficientData: true,
		ComputedAt:       asOf,
	}
}
