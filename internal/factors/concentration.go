package factors

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ConcentrationScorer scores supplier dependency via the Herfindahl-Hirschman
// index of outbound spend shares. HHI 1.0 (single supplier) maps to 100.
type ConcentrationScorer struct {
	repo domain.Repository
	cfg  domain.ScoringConfig
}

func NewConcentrationScorer(repo domain.Repository, cfg domain.ScoringConfig) *ConcentrationScorer {
	return &ConcentrationScorer{repo: repo, cfg: cfg}
}

func (s *ConcentrationScorer) Name() string { return domain.FactorSupplierConcentration }

func (s *ConcentrationScorer) Score(ctx context.Context, tenantID string, businessID string, asOf time.Time) (domain.FactorScore, error) {
	since := asOf.AddDate(0, 0, -s.cfg.LookbackDays)

	shares, err := s.repo.SupplierSpend(ctx, tenantID, businessID, since)
	if err != nil {
		return domain.FactorScore{}, fmt.Errorf("supplier concentration: %w", err)
	}

	var total float64
	for _, sp := range shares {
		total += sp.Total
	}
	if len(shares) == 0 || total <= 0 {
		return neutral(domain.FactorSupplierConcentration, asOf), nil
	}

	var hhi, topShare float64
	for _, sp := range shares {
		share := sp.Total / total
		hhi += share * share
		if share > topShare {
			topShare = share
		}
	}

	return domain.FactorScore{
		Factor: domain.FactorSupplierConcentration,
		Score:  clamp(hhi*100, 0, 100),
		Detail: domain.ConcentrationDetail{
			HHI:                  hhi,
			Suppliers:            len(shares),
			TopShare:             topShare,
			SinglePointOfFailure: topShare >= s.cfg.TopSupplierShare,
		},
		ComputedAt: asOf,
	}, nil
}

var _ Scorer = (*ConcentrationScorer)(nil)
