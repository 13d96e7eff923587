// Package patterns implements the fraud pattern detectors. Each detector
// owns one pattern name and emits zero or more findings per scan; findings
// are ephemeral and consumed immediately by the fraud scanner.
package patterns

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector examines one business for one fraud pattern within a window.
type Detector interface {
	// Pattern returns the pattern name this detector owns.
	Pattern() string

	// Detect returns the findings for the window. No findings means no
	// error; upstream failures surface as errors wrapping
	// domain.ErrUpstreamUnavailable.
	Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error)
}

// All returns the full detector set in pattern order.
func All(repo domain.Repository, graph domain.GraphQuery, engine *RuleEngine, cfg domain.FraudConfig) []Detector {
	return []Detector{
		NewCircularDetector(graph, cfg),
		NewShellDetector(graph, repo, cfg),
		NewDuplicateInvoiceDetector(repo, cfg),
		NewInvoiceFraudDetector(repo, cfg),
		NewStructuringDetector(repo, cfg),
		NewRoundAmountDetector(repo, cfg),
		NewOutlierDetector(repo, cfg),
		NewCustomRuleDetector(repo, engine, cfg),
	}
}

// capFindings enforces the per-detector findings cap.
func capFindings(findings []domain.FraudFinding, max int) []domain.FraudFinding {
	if max > 0 && len(findings) > max {
		return findings[:max]
	}
	return findings
}
