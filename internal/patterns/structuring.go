package patterns

import (
	"context"
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// structuringScoreContribution is the finding score for one sequence.
const structuringScoreContribution = 35

// StructuringDetector finds sequences of payments to the same counterparty
// sitting just below the reporting threshold within a short window, a
// classic threshold-avoidance signature.
type StructuringDetector struct {
	repo domain.Repository
	cfg  domain.FraudConfig
}

func NewStructuringDetector(repo domain.Repository, cfg domain.FraudConfig) *StructuringDetector {
	return &StructuringDetector{repo: repo, cfg: cfg}
}

func (d *StructuringDetector) Pattern() string { return domain.PatternStructuring }

func (d *StructuringDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	txs, err := d.repo.ListTransactions(ctx, tenantID, businessID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("structuring: %w", err)
	}

	lower := d.cfg.StructuringMargin * d.cfg.ReportingThreshold

	// Sub-threshold outbound payments, grouped per payee.
	perPayee := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		if tx.PayerID != businessID {
			continue
		}
		if tx.Amount >= lower && tx.Amount < d.cfg.ReportingThreshold {
			perPayee[tx.PayeeID] = append(perPayee[tx.PayeeID], tx)
		}
	}

	payees := make([]string, 0, len(perPayee))
	for p := range perPayee {
		payees = append(payees, p)
	}
	sort.Strings(payees)

	var findings []domain.FraudFinding
	for _, payee := range payees {
		seq := perPayee[payee]
		if len(seq) < d.cfg.StructuringMinCount {
			continue
		}
		sort.Slice(seq, func(i, j int) bool { return seq[i].Timestamp.Before(seq[j].Timestamp) })

		// Sliding window: longest run fitting inside StructuringWindow.
		lo := 0
		best := []*domain.Transaction(nil)
		for hi := range seq {
			for seq[hi].Timestamp.Sub(seq[lo].Timestamp) > d.cfg.StructuringWindow {
				lo++
			}
			if run := seq[lo : hi+1]; len(run) > len(best) {
				best = run
			}
		}
		if len(best) < d.cfg.StructuringMinCount {
			continue
		}

		ids := make([]string, len(best))
		var aggregate float64
		for i, tx := range best {
			ids[i] = tx.ID
			aggregate += tx.Amount
		}

		findings = append(findings, domain.FraudFinding{
			Pattern:           domain.PatternStructuring,
			ScoreContribution: structuringScoreContribution,
			Description: fmt.Sprintf("%d payments just below %.0f to %s aggregating %.2f",
				len(best), d.cfg.ReportingThreshold, payee, aggregate),
			Evidence: domain.StructuringEvidence{
				PayerID:   businessID,
				PayeeID:   payee,
				Payments:  ids,
				Aggregate: aggregate,
				Threshold: d.cfg.ReportingThreshold,
				From:      best[0].Timestamp,
				To:        best[len(best)-1].Timestamp,
			},
		})
	}

	return capFindings(findings, d.cfg.MaxFindingsPerPattern), nil
}

var _ Detector = (*StructuringDetector)(nil)
