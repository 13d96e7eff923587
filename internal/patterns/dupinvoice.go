package patterns

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// duplicateScoreContribution is the finding score for one duplicate group.
const duplicateScoreContribution = 25

// DuplicateInvoiceDetector groups near-identical invoices: same
// counterparty, same amount, issued within DuplicateDateDays of each other.
// One group of any size yields one finding.
type DuplicateInvoiceDetector struct {
	repo domain.Repository
	cfg  domain.FraudConfig
}

func NewDuplicateInvoiceDetector(repo domain.Repository, cfg domain.FraudConfig) *DuplicateInvoiceDetector {
	return &DuplicateInvoiceDetector{repo: repo, cfg: cfg}
}

func (d *DuplicateInvoiceDetector) Pattern() string { return domain.PatternDuplicateInvoices }

func (d *DuplicateInvoiceDetector) Detect(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) ([]domain.FraudFinding, error) {
	invoices, err := d.repo.ListInvoicesIssued(ctx, tenantID, businessID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("duplicate invoices: %w", err)
	}

	// Bucket by (counterparty, amount), then split buckets on date gaps.
	type key struct {
		counterparty string
		amount       float64
	}
	buckets := make(map[key][]*domain.Invoice)
	for _, inv := range invoices {
		k := key{inv.CounterpartyID, inv.Amount}
		buckets[k] = append(buckets[k], inv)
	}

	keys := make([]key, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].counterparty != keys[j].counterparty {
			return keys[i].counterparty < keys[j].counterparty
		}
		return keys[i].amount < keys[j].amount
	})

	proximity := float64(d.cfg.DuplicateDateDays)
	var findings []domain.FraudFinding
	for _, k := range keys {
		group := buckets[k]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].IssuedAt.Before(group[j].IssuedAt) })

		// Chain invoices whose issue dates sit within the proximity of the
		// previous one; a chain of n near-identical invoices is one finding.
		run := []*domain.Invoice{group[0]}
		flush := func() {
			if len(run) < 2 {
				return
			}
			ids := make([]string, len(run))
			for i, inv := range run {
				ids[i] = inv.ID
			}
			findings = append(findings, domain.FraudFinding{
				Pattern:           domain.PatternDuplicateInvoices,
				ScoreContribution: duplicateScoreContribution,
				Description: fmt.Sprintf("%d near-identical invoices of %.2f to %s",
					len(run), k.amount, k.counterparty),
				Evidence: domain.DuplicateInvoiceEvidence{
					InvoiceIDs:     ids,
					CounterpartyID: k.counterparty,
					Amount:         k.amount,
				},
			})
		}
		for _, inv := range group[1:] {
			gap := math.Abs(inv.IssuedAt.Sub(run[len(run)-1].IssuedAt).Hours()) / 24
			if gap <= proximity {
				run = append(run, inv)
				continue
			}
			flush()
			run = []*domain.Invoice{inv}
		}
		flush()
	}

	return capFindings(findings, d.cfg.MaxFindingsPerPattern), nil
}

var _ Detector = (*DuplicateInvoiceDetector)(nil)
