package patterns

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// anomalyMaxScore is the finding score at full confidence.
	anomalyMaxScore = 30

	// Feature weights of the z-score ensemble.
	velocityWeight = 0.5
	amountWeight   = 0.3
	hourWeight     = 0.2

	// anomalySaturationZ is the z magnitude treated as full deviation.
	anomalySaturationZ = 4.0
)

// OutlierDetector is the catch-all unusual-activity detector: it compares
// window-level behavior (velocity, typical amount, time of day) against the
// business's baseline and emits one finding when the weighted deviation
// clears the confidence bar.
type OutlierDetector struct {
	repo domain.Repository
	cfg  domain.FraudConfig
}

func NewOutlierDetector(repo domain.Repository, cfg domain.FraudConfig) *OutlierDetector {
	return &OutlierDetector{repo: repo, cfg: cfg}
}

func (d *OutlierDetector) Pattern() string { return domain.PatternUnusualActivity }

func (d *OutlierDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	baselineFrom := window.To.Add(-d.cfg.BaselineWindow)
	baseline, err := d.repo.ListTransactions(ctx, tenantID, businessID, baselineFrom, window.From)
	if err != nil {
		return nil, fmt.Errorf("unusual activity: %w", err)
	}
	if len(baseline) < d.cfg.MinSampleSize {
		return nil, nil
	}

	current, err := d.repo.ListTransactions(ctx, tenantID, businessID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("unusual activity: %w", err)
	}
	if len(current) == 0 {
		return nil, nil
	}

	// Velocity: transactions per week, window rate against baseline weekly
	// counts.
	weekly := weeklyCounts(baseline, baselineFrom, window.From)
	windowWeeks := window.Duration().Hours() / (24 * 7)
	if windowWeeks <= 0 {
		windowWeeks = 1
	}
	velocityZ := zScore(float64(len(current))/windowWeeks, weekly)

	// Amount: window mean against baseline amounts.
	baseAmounts := make([]float64, len(baseline))
	for i, tx := range baseline {
		baseAmounts[i] = tx.Amount
	}
	curAmounts := make([]float64, len(current))
	for i, tx := range current {
		curAmounts[i] = tx.Amount
	}
	amountZ := zScore(mean(curAmounts), baseAmounts)

	// Hour of day: window mean hour against baseline hours.
	baseHours := make([]float64, len(baseline))
	for i, tx := range baseline {
		baseHours[i] = float64(tx.Timestamp.Hour())
	}
	curHours := make([]float64, len(current))
	for i, tx := range current {
		curHours[i] = float64(tx.Timestamp.Hour())
	}
	hourZ := zScore(mean(curHours), baseHours)

	deviation := velocityWeight*math.Abs(velocityZ) +
		amountWeight*math.Abs(amountZ) +
		hourWeight*math.Abs(hourZ)
	confidence := clamp(deviation/anomalySaturationZ, 0, 1)

	if confidence < d.cfg.AnomalyConfidence {
		return nil, nil
	}

	return []domain.FraudFinding{{
		Pattern:           domain.PatternUnusualActivity,
		ScoreContribution: anomalyMaxScore * confidence,
		Description: fmt.Sprintf("window behavior deviates from baseline with %.0f%% confidence",
			confidence*100),
		Evidence: domain.AnomalyEvidence{
			VelocityZ:  velocityZ,
			AmountZ:    amountZ,
			HourOfDayZ: hourZ,
			Confidence: confidence,
			SampleSize: len(baseline),
		},
	}}, nil
}

// weeklyCounts buckets baseline transactions into week-long bins.
func weeklyCounts(txs []*domain.Transaction, from, to time.Time) []float64 {
	week := 7 * 24 * time.Hour
	n := int(to.Sub(from)/week) + 1
	if n < 1 {
		n = 1
	}
	counts := make([]float64, n)
	for _, tx := range txs {
		idx := int(tx.Timestamp.Sub(from) / week)
		if idx >= 0 && idx < n {
			counts[idx]++
		}
	}
	return counts
}

var _ Detector = (*OutlierDetector)(nil)
