package factors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// networkRelTypes are the counterparty edges that carry exposure.
var networkRelTypes = []domain.RelType{
	domain.RelPays,
	domain.RelBuysFrom,
	domain.RelOwns,
	domain.RelDirectorOf,
}

// NetworkScorer scores exposure to the first-degree neighborhood: the mean
// of the neighbors' latest composite scores, pulled toward the worst one.
// Neighbors never assessed count as neutral.
type NetworkScorer struct {
	repo  domain.Repository
	graph domain.GraphQuery
	cfg   domain.ScoringConfig
}

func NewNetworkScorer(repo domain.Repository, graph domain.GraphQuery, cfg domain.ScoringConfig) *NetworkScorer {
	return &NetworkScorer{repo: repo, graph: graph, cfg: cfg}
}

func (s *NetworkScorer) Name() string { return domain.FactorNetworkExposure }

func (s *NetworkScorer) Score(ctx context.Context, tenantID string, businessID string, asOf time.Time) (domain.FactorScore, error) {
	sub, err := s.graph.Neighbors(ctx, tenantID, businessID, networkRelTypes)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidBusiness) {
			return domain.FactorScore{}, err
		}
		return domain.FactorScore{}, fmt.Errorf("network exposure: %w", err)
	}

	var scores []float64
	for _, n := range sub.Nodes {
		if n.ID == businessID || n.Label != domain.LabelBusiness {
			continue
		}
		score := domain.NeutralScore
		history, err := s.repo.ListAssessments(ctx, tenantID, n.ID, 1)
		if err != nil {
			return domain.FactorScore{}, fmt.Errorf("network exposure: %w", err)
		}
		if len(history) > 0 {
			score = history[0].CompositeScore
		}
		scores = append(scores, score)
	}

	if len(scores) == 0 {
		return neutral(domain.FactorNetworkExposure, asOf), nil
	}

	var max float64
	for _, sc := range scores {
		if sc > max {
			max = sc
		}
	}
	score := 0.7*mean(scores) + 0.3*max

	return domain.FactorScore{
		Factor: domain.FactorNetworkExposure,
		Score:  clamp(score, 0, 100),
		Detail: domain.NetworkDetail{
			Neighbors:         len(scores),
			MeanNeighborScore: mean(scores),
			MaxNeighborScore:  max,
		},
		ComputedAt: asOf,
	}, nil
}

var _ Scorer = (*NetworkScorer)(nil)
