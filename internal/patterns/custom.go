package patterns

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomRuleDetector evaluates tenant-defined CEL rules against scan-level
// aggregates. It shares a RuleEngine so rule loading and hot-reload are
// visible to in-flight scans.
type CustomRuleDetector struct {
	repo   domain.Repository
	engine *RuleEngine
	cfg    domain.FraudConfig
}

func NewCustomRuleDetector(repo domain.Repository, engine *RuleEngine, cfg domain.FraudConfig) *CustomRuleDetector {
	return &CustomRuleDetector{repo: repo, engine: engine, cfg: cfg}
}

func (d *CustomRuleDetector) Pattern() string { return domain.PatternCustomRule }

func (d *CustomRuleDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	if d.engine.RulesCount(tenantID) == 0 {
		return nil, nil
	}

	txs, err := d.repo.ListTransactions(ctx, tenantID, businessID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("custom rules: %w", err)
	}

	agg := aggregates(businessID, txs, window, d.cfg.RoundAmountUnit)

	triggered, err := d.engine.Evaluate(tenantID, agg)
	if err != nil {
		return nil, fmt.Errorf("custom rules: %w", err)
	}

	var findings []domain.FraudFinding
	for _, rule := range triggered {
		findings = append(findings, domain.FraudFinding{
			Pattern:           domain.PatternCustomRule,
			ScoreContribution: rule.Contribution,
			Description:       fmt.Sprintf("rule %q triggered", rule.Name),
			Evidence: domain.CustomRuleEvidence{
				RuleID:     rule.ID,
				Expression: rule.Expression,
				Value:      rule.Contribution,
			},
		})
	}
	return capFindings(findings, d.cfg.MaxFindingsPerPattern), nil
}

func aggregates(businessID string, txs []*domain.Transaction, window domain.ScanWindow, roundUnit float64) ScanAggregates {
	agg := ScanAggregates{
		TxCount:     int64(len(txs)),
		WindowHours: window.Duration().Hours(),
	}

	counterparties := make(map[string]bool)
	var roundCount int
	for _, tx := range txs {
		agg.TotalVolume += tx.Amount
		if tx.Amount > agg.MaxAmount {
			agg.MaxAmount = tx.Amount
		}
		if tx.PayerID == businessID {
			counterparties[tx.PayeeID] = true
		} else {
			counterparties[tx.PayerID] = true
		}
	}
	roundCount = countRound(txs, roundUnit)
	if len(txs) > 0 {
		agg.RoundRatio = float64(roundCount) / float64(len(txs))
	}
	agg.CounterpartyCount = int64(len(counterparties))
	return agg
}

var _ Detector = (*CustomRuleDetector)(nil)
