package patterns

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// invoiceOutlierScore is the base finding score for an amount outlier.
	invoiceOutlierScore = 20

	// fastSettlementBonus is added when the outlier also settled suspiciously
	// fast.
	fastSettlementBonus = 10

	// fastSettlementDays is the settlement time considered suspicious for an
	// outlier-sized invoice.
	fastSettlementDays = 1.0
)

// InvoiceFraudDetector flags invoices whose amount is a statistical outlier
// against the business's own baseline, weighted up when the invoice also
// settled unusually fast.
type InvoiceFraudDetector struct {
	repo domain.Repository
	cfg  domain.FraudConfig
}

func NewInvoiceFraudDetector(repo domain.Repository, cfg domain.FraudConfig) *InvoiceFraudDetector {
	return &InvoiceFraudDetector{repo: repo, cfg: cfg}
}

func (d *InvoiceFraudDetector) Pattern() string { return domain.PatternInvoiceFraud }

func (d *InvoiceFraudDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	baselineFrom := window.To.Add(-d.cfg.BaselineWindow)
	baseline, err := d.repo.ListInvoicesIssued(ctx, tenantID, businessID, baselineFrom, window.From)
	if err != nil {
		return nil, fmt.Errorf("invoice fraud: %w", err)
	}
	if len(baseline) < d.cfg.MinSampleSize {
		return nil, nil
	}

	amounts := make([]float64, len(baseline))
	for i, inv := range baseline {
		amounts[i] = inv.Amount
	}

	current, err := d.repo.ListInvoicesIssued(ctx, tenantID, businessID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("invoice fraud: %w", err)
	}

	var findings []domain.FraudFinding
	for _, inv := range current {
		z := zScore(inv.Amount, amounts)
		if math.Abs(z) < d.cfg.OutlierZThreshold {
			continue
		}

		score := float64(invoiceOutlierScore)
		var settlementDays float64
		if days, ok := inv.SettlementDays(); ok {
			settlementDays = days
			if days <= fastSettlementDays {
				score += fastSettlementBonus
			}
		}

		findings = append(findings, domain.FraudFinding{
			Pattern:           domain.PatternInvoiceFraud,
			ScoreContribution: score,
			Description: fmt.Sprintf("invoice %s amount %.2f is %.1f standard deviations from baseline",
				inv.ID, inv.Amount, z),
			Evidence: domain.InvoiceOutlierEvidence{
				InvoiceID:      inv.ID,
				Amount:         inv.Amount,
				ZScore:         z,
				SettlementDays: settlementDays,
			},
		})
	}

	return capFindings(findings, d.cfg.MaxFindingsPerPattern), nil
}

var _ Detector = (*InvoiceFraudDetector)(nil)
