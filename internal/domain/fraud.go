package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pattern names. One detector owns each name.
const (
	PatternCircularPayments  = "circular_payments"
	PatternShellCompany      = "shell_company"
	PatternDuplicateInvoices = "duplicate_invoices"
	PatternInvoiceFraud      = "invoice_fraud"
	PatternStructuring       = "structuring"
	PatternRoundAmounts      = "round_amounts"
	PatternUnusualActivity   = "unusual_activity"
	PatternCustomRule        = "custom_rule"
)

// ScanWindow bounds the period a fraud scan examines.
type ScanWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Duration returns the window length.
func (w ScanWindow) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Evidence is the closed set of per-pattern evidence payloads attached to
// findings. One concrete shape per detector.
type Evidence interface {
	isEvidence()
}

// CycleEvidence records one payment cycle, start node first.
type CycleEvidence struct {
	Path        []string `json:"path"`
	TotalAmount float64  `json:"totalAmount"`
}

// ShellEvidence records the thin-structure/high-volume mismatch.
type ShellEvidence struct {
	RelationshipCount int     `json:"relationshipCount"`
	TransactionCount  int     `json:"transactionCount"`
	Volume            float64 `json:"volume"`
}

// DuplicateInvoiceEvidence records one group of near-identical invoices.
type DuplicateInvoiceEvidence struct {
	InvoiceIDs     []string `json:"invoiceIds"`
	CounterpartyID string   `json:"counterpartyId"`
	Amount         float64  `json:"amount"`
}

// InvoiceOutlierEvidence records a statistically anomalous invoice.
type InvoiceOutlierEvidence struct {
	InvoiceID      string  `json:"invoiceId"`
	Amount         float64 `json:"amount"`
	ZScore         float64 `json:"zScore"`
	SettlementDays float64 `json:"settlementDays"`
}

// StructuringEvidence records a sub-threshold payment sequence.
type StructuringEvidence struct {
	PayerID   string    `json:"payerId"`
	PayeeID   string    `json:"payeeId"`
	Payments  []string  `json:"payments"`
	Aggregate float64   `json:"aggregate"`
	Threshold float64   `json:"threshold"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

// RoundAmountEvidence records an elevated round-amount frequency.
type RoundAmountEvidence struct {
	WindowRatio   float64 `json:"windowRatio"`
	BaselineRatio float64 `json:"baselineRatio"`
	RoundCount    int     `json:"roundCount"`
	SampleSize    int     `json:"sampleSize"`
}

// AnomalyEvidence records the feature z-scores behind an outlier finding.
type AnomalyEvidence struct {
	VelocityZ  float64 `json:"velocityZ"`
	AmountZ    float64 `json:"amountZ"`
	HourOfDayZ float64 `json:"hourOfDayZ"`
	Confidence float64 `json:"confidence"`
	SampleSize int     `json:"sampleSize"`
}

// CustomRuleEvidence records a triggered tenant-defined rule.
type CustomRuleEvidence struct {
	RuleID     string  `json:"ruleId"`
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
}

func (CycleEvidence) isEvidence()            {}
func (ShellEvidence) isEvidence()            {}
func (DuplicateInvoiceEvidence) isEvidence() {}
func (InvoiceOutlierEvidence) isEvidence()   {}
func (StructuringEvidence) isEvidence()      {}
func (RoundAmountEvidence) isEvidence()      {}
func (AnomalyEvidence) isEvidence()          {}
func (CustomRuleEvidence) isEvidence()       {}

// FraudFinding is one piece of evidence from a single detector. Ephemeral;
// consumed immediately by the fraud aggregator.
type FraudFinding struct {
	Pattern           string   `json:"pattern"`
	ScoreContribution float64  `json:"scoreContribution"` // 0..100
	Description       string   `json:"description"`
	Evidence          Evidence `json:"evidence,omitempty"`
}

type fraudFindingJSON struct {
	Pattern           string          `json:"pattern"`
	ScoreContribution float64         `json:"scoreContribution"`
	Description       string          `json:"description"`
	Evidence          json.RawMessage `json:"evidence,omitempty"`
}

// UnmarshalJSON decodes evidence into the concrete shape owned by the
// pattern name.
func (f *FraudFinding) UnmarshalJSON(data []byte) error {
	var raw fraudFindingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Pattern = raw.Pattern
	f.ScoreContribution = raw.ScoreContribution
	f.Description = raw.Description
	f.Evidence = nil

	if len(raw.Evidence) == 0 {
		return nil
	}

	var target Evidence
	switch raw.Pattern {
	case PatternCircularPayments:
		target = &CycleEvidence{}
	case PatternShellCompany:
		target = &ShellEvidence{}
	case PatternDuplicateInvoices:
		target = &DuplicateInvoiceEvidence{}
	case PatternInvoiceFraud:
		target = &InvoiceOutlierEvidence{}
	case PatternStructuring:
		target = &StructuringEvidence{}
	case PatternRoundAmounts:
		target = &RoundAmountEvidence{}
	case PatternUnusualActivity:
		target = &AnomalyEvidence{}
	case PatternCustomRule:
		target = &CustomRuleEvidence{}
	default:
		return fmt.Errorf("unknown pattern %q", raw.Pattern)
	}

	if err := json.Unmarshal(raw.Evidence, target); err != nil {
		return fmt.Errorf("decode %s evidence: %w", raw.Pattern, err)
	}

	switch v := target.(type) {
	case *CycleEvidence:
		f.Evidence = *v
	case *ShellEvidence:
		f.Evidence = *v
	case *DuplicateInvoiceEvidence:
		f.Evidence = *v
	case *InvoiceOutlierEvidence:
		f.Evidence = *v
	case *StructuringEvidence:
		f.Evidence = *v
	case *RoundAmountEvidence:
		f.Evidence = *v
	case *AnomalyEvidence:
		f.Evidence = *v
	case *CustomRuleEvidence:
		f.Evidence = *v
	}

	return nil
}

// Severity of a fraud alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertStatus is the lifecycle state of a fraud alert. The engine only ever
// creates ACTIVE alerts and updates ACTIVE alerts; the other transitions are
// human actions applied outside the engine.
type AlertStatus string

const (
	AlertActive        AlertStatus = "ACTIVE"
	AlertAcknowledged  AlertStatus = "ACKNOWLEDGED"
	AlertFalsePositive AlertStatus = "FALSE_POSITIVE"
	AlertResolved      AlertStatus = "RESOLVED"
)

// FraudAlert is the persisted, stateful aggregation of findings for one
// business. At most one ACTIVE alert exists per business at any time.
type FraudAlert struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	BusinessID     string         `json:"businessId"`
	Severity       Severity       `json:"severity"`
	CompositeScore float64        `json:"compositeScore"`
	Findings       []FraudFinding `json:"findings"`
	Status         AlertStatus    `json:"status"`

	// Version supports optimistic concurrency on upsert.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
