package patterns

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// shellScoreContribution is the finding score for a shell-company profile.
const shellScoreContribution = 40

// ShellDetector flags businesses with the shell profile: almost no
// structural footprint in the graph while moving significant volume.
type ShellDetector struct {
	graph domain.GraphQuery
	repo  domain.Repository
	cfg   domain.FraudConfig
}

func NewShellDetector(graph domain.GraphQuery, repo domain.Repository, cfg domain.FraudConfig) *ShellDetector {
	return &ShellDetector{graph: graph, repo: repo, cfg: cfg}
}

func (d *ShellDetector) Pattern() string { return domain.PatternShellCompany }

func (d *ShellDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	// Structural footprint: ownership, directors, employment, banking.
	sub, err := d.graph.Neighbors(ctx, tenantID, businessID, []domain.RelType{
		domain.RelOwns,
		domain.RelDirectorOf,
		domain.RelEmploys,
		domain.RelHoldsAccount,
	})
	if err != nil {
		return nil, fmt.Errorf("shell company: %w", err)
	}

	txs, err := d.repo.ListTransactions(ctx, tenantID, businessID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("shell company: %w", err)
	}

	var volume float64
	for _, tx := range txs {
		volume += tx.Amount
	}

	if len(sub.Edges) >= d.cfg.ShellMinRelationships || volume < d.cfg.ShellMinVolume {
		return nil, nil
	}

	return []domain.FraudFinding{{
		Pattern:           domain.PatternShellCompany,
		ScoreContribution: shellScoreContribution,
		Description: fmt.Sprintf("%d structural relationships against %.0f transaction volume in window",
			len(sub.Edges), volume),
		Evidence: domain.ShellEvidence{
			RelationshipCount: len(sub.Edges),
			TransactionCount:  len(txs),
			Volume:            volume,
		},
	}}, nil
}

var _ Detector = (*ShellDetector)(nil)
