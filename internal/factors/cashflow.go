package factors

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CashFlowScorer scores liquidity risk from the trailing monthly net flow
// series: current balance proxy, burn rate, runway, and trend slope.
type CashFlowScorer struct {
	repo domain.Repository
	cfg  domain.ScoringConfig
}

func NewCashFlowScorer(repo domain.Repository, cfg domain.ScoringConfig) *CashFlowScorer {
	return &CashFlowScorer{repo: repo, cfg: cfg}
}

func (s *CashFlowScorer) Name() string { return domain.FactorCashFlow }

func (s *CashFlowScorer) Score(ctx context.Context, tenantID string, businessID string, asOf time.Time) (domain.FactorScore, error) {
	months := s.cfg.TrailingMonths
	if months <= 0 {
		months = 6
	}

	flows, err := s.repo.MonthlyFlows(ctx, tenantID, businessID, months)
	if err != nil {
		return domain.FactorScore{}, fmt.Errorf("cash flow: %w", err)
	}

	var active bool
	for _, f := range flows {
		if f.Inflow != 0 || f.Outflow != 0 {
			active = true
			break
		}
	}
	if !active {
		return neutral(domain.FactorCashFlow, asOf), nil
	}

	nets := make([]float64, len(flows))
	var balance float64
	for i, f := range flows {
		nets[i] = f.Net()
		balance += f.Net()
	}

	// Average monthly burn over the series; non-positive burn means the
	// business is cash-positive and runway is unbounded.
	avgNet := mean(nets)
	burnRate := -avgNet
	slope := olsSlope(nets)
	negativeTrend := slope < 0

	var runway float64
	unbounded := burnRate <= 0 || balance <= 0
	if !unbounded {
		runway = balance / burnRate
	}

	var score float64
	switch {
	case balance <= 0 && burnRate > 0:
		// Already underwater and still burning.
		score = 95
	case unbounded:
		score = 15
	default:
		// Shorter runway, higher risk; saturates below one month.
		score = clamp(100-runway*12.5, 10, 95)
	}
	if negativeTrend {
		score = clamp(score+10, 0, 100)
	}

	return domain.FactorScore{
		Factor: domain.FactorCashFlow,
		Score:  score,
		Detail: domain.CashFlowDetail{
			Balance:         balance,
			BurnRate:        burnRate,
			RunwayMonths:    runway,
			Slope:           slope,
			NegativeTrend:   negativeTrend,
			UnboundedRunway: unbounded,
		},
		ComputedAt: asOf,
	}, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// olsSlope fits y = a + b*x over x = 0..n-1 and returns b.
func olsSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	xMean := (n - 1) / 2
	yMean := mean(ys)

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

var _ Scorer = (*CashFlowScorer)(nil)
