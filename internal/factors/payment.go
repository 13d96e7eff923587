package factors

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// lateRatioWeight and lateSeverityWeight blend how often a business pays
// late with how late it pays.
const (
	lateRatioWeight    = 0.7
	lateSeverityWeight = 0.3

	// severityCapDays is the lateness at which severity saturates.
	severityCapDays = 60.0
)

// PaymentBehaviorScorer scores how reliably a business settles its payables.
type PaymentBehaviorScorer struct {
	repo domain.Repository
	cfg  domain.ScoringConfig
}

func NewPaymentBehaviorScorer(repo domain.Repository, cfg domain.ScoringConfig) *PaymentBehaviorScorer {
	return &PaymentBehaviorScorer{repo: repo, cfg: cfg}
}

func (s *PaymentBehaviorScorer) Name() string { return domain.FactorPaymentBehavior }

func (s *PaymentBehaviorScorer) Score(ctx context.Context, tenantID string, businessID string, asOf time.Time) (domain.FactorScore, error) {
	since := asOf.AddDate(0, 0, -s.cfg.LookbackDays)

	payables, err := s.repo.ListPayables(ctx, tenantID, businessID, since)
	if err != nil {
		return domain.FactorScore{}, fmt.Errorf("payment behavior: %w", err)
	}

	var settled, late int
	var lateDaysTotal float64
	for _, inv := range payables {
		if inv.SettledAt == nil {
			continue
		}
		settled++
		if d := inv.DaysLate(); d > 0 {
			late++
			lateDaysTotal += d
		}
	}

	if settled == 0 {
		return neutral(domain.FactorPaymentBehavior, asOf), nil
	}

	lateRatio := float64(late) / float64(settled)
	var avgDaysLate float64
	if late > 0 {
		avgDaysLate = lateDaysTotal / float64(late)
	}
	severity := clamp(avgDaysLate/severityCapDays, 0, 1)

	score := 100 * (lateRatioWeight*lateRatio + lateSeverityWeight*severity)

	return domain.FactorScore{
		Factor: domain.FactorPaymentBehavior,
		Score:  clamp(score, 0, 100),
		Detail: domain.PaymentBehaviorDetail{
			Settlements: settled,
			Late:        late,
			LateRatio:   lateRatio,
			AvgDaysLate: avgDaysLate,
		},
		ComputedAt: asOf,
	}, nil
}

var _ Scorer = (*PaymentBehaviorScorer)(nil)
