// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// EntityLabel identifies the kind of node in the property graph.
type EntityLabel string

const (
	LabelBusiness    EntityLabel = "Business"
	LabelPerson      EntityLabel = "Person"
	LabelTransaction EntityLabel = "Transaction"
	LabelInvoice     EntityLabel = "Invoice"
	LabelPayment     EntityLabel = "Payment"
	LabelSupplier    EntityLabel = "Supplier"
	LabelCustomer    EntityLabel = "Customer"
	LabelBankAccount EntityLabel = "BankAccount"
	LabelLoan        EntityLabel = "Loan"
	LabelAsset       EntityLabel = "Asset"
)

// RelType identifies the kind of directed edge between two entities.
type RelType string

const (
	RelOwns         RelType = "OWNS"
	RelDirectorOf   RelType = "DIRECTOR_OF"
	RelBuysFrom     RelType = "BUYS_FROM"
	RelIssued       RelType = "ISSUED"
	RelSettles      RelType = "SETTLES"
	RelInvolves     RelType = "INVOLVES"
	RelHoldsAccount RelType = "HOLDS_ACCOUNT"
	RelGrantedTo    RelType = "GRANTED_TO"
	RelPays         RelType = "PAYS"
	RelEmploys      RelType = "EMPLOYS"
)

// Entity is a node in the graph. Identity is immutable; properties are not.
type Entity struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	Label      EntityLabel    `json:"label"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship is a typed, directed edge between two entities, optionally
// carrying properties (percentage, since, role).
type Relationship struct {
	TenantID   string         `json:"tenantId"`
	FromID     string         `json:"fromId"`
	ToID       string         `json:"toId"`
	Type       RelType        `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Percentage returns the ownership percentage carried on an OWNS edge,
// or 0 when absent.
func (r *Relationship) Percentage() float64 {
	if r.Properties == nil {
		return 0
	}
	switch v := r.Properties["percentage"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Transaction is a monetary movement between two parties, used by the
// detectors and the cash-flow scorer.
type Transaction struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Type      string    `json:"type"`
	PayerID   string    `json:"payerId"`
	PayeeID   string    `json:"payeeId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// Invoice is a receivable or payable issued by one business against a
// counterparty. SettledAt is nil while the invoice is open.
type Invoice struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	IssuerID       string     `json:"issuerId"`
	CounterpartyID string     `json:"counterpartyId"`
	Number         string     `json:"number"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	IssuedAt       time.Time  `json:"issuedAt"`
	DueAt          time.Time  `json:"dueAt"`
	SettledAt      *time.Time `json:"settledAt,omitempty"`
}

// SettlementDays returns how long the invoice took to settle, or false
// when it is still open.
func (i *Invoice) SettlementDays() (float64, bool) {
	if i.SettledAt == nil {
		return 0, false
	}
	return i.SettledAt.Sub(i.IssuedAt).Hours() / 24, true
}

// DaysLate returns how many days past due the invoice settled. Zero or
// negative means on time.
func (i *Invoice) DaysLate() float64 {
	if i.SettledAt == nil {
		return 0
	}
	return i.SettledAt.Sub(i.DueAt).Hours() / 24
}

// SpendShare is one supplier's share of a business's outbound spend.
type SpendShare struct {
	SupplierID string  `json:"supplierId"`
	Total      float64 `json:"total"`
}

// MonthlyFlow is one month of aggregated inflow and outflow for a business.
type MonthlyFlow struct {
	Month   time.Time `json:"month"`
	Inflow  float64   `json:"inflow"`
	Outflow float64   `json:"outflow"`
}

// Net returns inflow minus outflow.
func (m MonthlyFlow) Net() float64 {
	return m.Inflow - m.Outflow
}
