package patterns

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// roundAmountScore is the finding score for elevated round-amount
	// frequency.
	roundAmountScore = 15

	// roundRatioMultiple is how far above the baseline ratio the window must
	// sit to be flagged.
	roundRatioMultiple = 2.0

	// roundBaselineFloor substitutes for a zero baseline so a business with
	// no history is measured against a population prior instead.
	roundBaselineFloor = 0.1
)

// RoundAmountDetector compares the share of round-amount payments in the
// window against the business's own baseline period.
type RoundAmountDetector struct {
	repo domain.Repository
	cfg  domain.FraudConfig
}

func NewRoundAmountDetector(repo domain.Repository, cfg domain.FraudConfig) *RoundAmountDetector {
	return &RoundAmountDetector{repo: repo, cfg: cfg}
}

func (d *RoundAmountDetector) Pattern() string { return domain.PatternRoundAmounts }

func (d *RoundAmountDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	current, err := d.repo.ListTransactions(ctx, tenantID, businessID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("round amounts: %w", err)
	}
	if len(current) < d.cfg.MinSampleSize {
		return nil, nil
	}

	baselineFrom := window.To.Add(-d.cfg.BaselineWindow)
	baseline, err := d.repo.ListTransactions(ctx, tenantID, businessID, baselineFrom, window.From)
	if err != nil {
		return nil, fmt.Errorf("round amounts: %w", err)
	}

	roundCount := countRound(current, d.cfg.RoundAmountUnit)
	windowRatio := float64(roundCount) / float64(len(current))

	baselineRatio := roundBaselineFloor
	if len(baseline) >= d.cfg.MinSampleSize {
		baselineRatio = math.Max(
			float64(countRound(baseline, d.cfg.RoundAmountUnit))/float64(len(baseline)),
			roundBaselineFloor,
		)
	}

	if windowRatio < roundRatioMultiple*baselineRatio {
		return nil, nil
	}

	return []domain.FraudFinding{{
		Pattern:           domain.PatternRoundAmounts,
		ScoreContribution: roundAmountScore,
		Description: fmt.Sprintf("%.0f%% of payments are round multiples of %.0f against a %.0f%% baseline",
			windowRatio*100, d.cfg.RoundAmountUnit, baselineRatio*100),
		Evidence: domain.RoundAmountEvidence{
			WindowRatio:   windowRatio,
			BaselineRatio: baselineRatio,
			RoundCount:    roundCount,
			SampleSize:    len(current),
		},
	}}, nil
}

func countRound(txs []*domain.Transaction, unit float64) int {
	if unit <= 0 {
		return 0
	}
	var n int
	for _, tx := range txs {
		if math.Mod(tx.Amount, unit) == 0 && tx.Amount > 0 {
			n++
		}
	}
	return n
}

var _ Detector = (*RoundAmountDetector)(nil)
