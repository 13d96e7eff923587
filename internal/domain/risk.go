package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Factor names. One scorer owns each name.
const (
	FactorPaymentBehavior       = "payment_behavior"
	FactorSupplierConcentration = "supplier_concentration"
	FactorOwnershipComplexity   = "ownership_complexity"
	FactorCashFlow              = "cash_flow"
	FactorNetworkExposure       = "network_exposure"
)

// NeutralScore is returned when a scorer has no data or degraded. Callers
// distinguish "unknown" from "known low risk" via the flags on FactorScore.
const NeutralScore = 50.0

// FactorDetail is the closed set of per-factor detail payloads. Each scorer
// produces exactly one concrete shape so consumers can handle all cases
// exhaustively rather than digging through open maps.
type FactorDetail interface {
	isFactorDetail()
}

// PaymentBehaviorDetail supports the payment_behavior score.
type PaymentBehaviorDetail struct {
	Settlements int     `json:"settlements"`
	Late        int     `json:"late"`
	LateRatio   float64 `json:"lateRatio"`
	AvgDaysLate float64 `json:"avgDaysLate"`
}

// ConcentrationDetail supports the supplier_concentration score.
type ConcentrationDetail struct {
	HHI                  float64 `json:"hhi"`
	Suppliers            int     `json:"suppliers"`
	TopShare             float64 `json:"topShare"`
	SinglePointOfFailure bool    `json:"singlePointOfFailure"`
}

// OwnershipDetail supports the ownership_complexity score.
type OwnershipDetail struct {
	MaxDepth             int `json:"maxDepth"`
	IntermediateEntities int `json:"intermediateEntities"`
	UltimateOwners       int `json:"ultimateOwners"`
}

// CashFlowDetail supports the cash_flow score.
type CashFlowDetail struct {
	Balance       float64 `json:"balance"`
	BurnRate      float64 `json:"burnRate"`
	RunwayMonths  float64 `json:"runwayMonths"`
	Slope         float64 `json:"slope"`
	NegativeTrend bool    `json:"negativeTrend"`
	// UnboundedRunway is set when burn rate is non-positive and runway is
	// therefore not meaningful.
	UnboundedRunway bool `json:"unboundedRunway"`
}

// NetworkDetail supports the network_exposure score.
type NetworkDetail struct {
	Neighbors         int     `json:"neighbors"`
	MeanNeighborScore float64 `json:"meanNeighborScore"`
	MaxNeighborScore  float64 `json:"maxNeighborScore"`
}

func (PaymentBehaviorDetail) isFactorDetail() {}
func (ConcentrationDetail) isFactorDetail()   {}
func (OwnershipDetail) isFactorDetail()       {}
func (CashFlowDetail) isFactorDetail()        {}
func (NetworkDetail) isFactorDetail()         {}

// FactorScore is the output of one factor scorer for one business.
// Immutable once created; recomputation supersedes rather than mutates.
type FactorScore struct {
	Factor string  `json:"factor"`
	Score  float64 `json:"score"` // 0..100

	// InsufficientData marks a neutral score produced for lack of data.
	InsufficientData bool `json:"insufficientData,omitempty"`

	// Degraded marks a neutral score substituted after a scorer failure.
	Degraded bool `json:"degraded,omitempty"`

	Detail     FactorDetail `json:"detail,omitempty"`
	ComputedAt time.Time    `json:"computedAt"`
}

// factorScoreJSON mirrors FactorScore with a raw detail for decoding.
type factorScoreJSON struct {
	Factor           string          `json:"factor"`
	Score            float64         `json:"score"`
	InsufficientData bool            `json:"insufficientData,omitempty"`
	Degraded         bool            `json:"degraded,omitempty"`
	Detail           json.RawMessage `json:"detail,omitempty"`
	ComputedAt       time.Time       `json:"computedAt"`
}

// UnmarshalJSON decodes the detail payload into the concrete shape owned by
// the factor name.
func (f *FactorScore) UnmarshalJSON(data []byte) error {
	var raw factorScoreJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Factor = raw.Factor
	f.Score = raw.Score
	f.InsufficientData = raw.InsufficientData
	f.Degraded = raw.Degraded
	f.ComputedAt = raw.ComputedAt
	f.Detail = nil

	if len(raw.Detail) == 0 {
		return nil
	}

	decode := func(v FactorDetail) error {
		if err := json.Unmarshal(raw.Detail, v); err != nil {
			return fmt.Errorf("decode %s detail: %w", raw.Factor, err)
		}
		return nil
	}

	switch raw.Factor {
	case FactorPaymentBehavior:
		d := &PaymentBehaviorDetail{}
		if err := decode(d); err != nil {
			return err
		}
		f.Detail = *d
	case FactorSupplierConcentration:
		d := &ConcentrationDetail{}
		if err := decode(d); err != nil {
			return err
		}
		f.Detail = *d
	case FactorOwnershipComplexity:
		d := &OwnershipDetail{}
		if err := decode(d); err != nil {
			return err
		}
		f.Detail = *d
	case FactorCashFlow:
		d := &CashFlowDetail{}
		if err := decode(d); err != nil {
			return err
		}
		f.Detail = *d
	case FactorNetworkExposure:
		d := &NetworkDetail{}
		if err := decode(d); err != nil {
			return err
		}
		f.Detail = *d
	default:
		return fmt.Errorf("unknown factor %q", raw.Factor)
	}

	return nil
}

// RiskAssessment is the composite result for one business. Persisted as an
// append-only history record, never updated in place.
type RiskAssessment struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenantId"`
	BusinessID     string        `json:"businessId"`
	CompositeScore float64       `json:"compositeScore"` // 0..100
	Factors        []FactorScore `json:"factors"`
	Explanation    string        `json:"explanation"`
	// Degraded is set when any factor substituted a neutral score.
	Degraded  bool      `json:"degraded,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Factor returns the score for the named factor, if present.
func (a *RiskAssessment) Factor(name string) (FactorScore, bool) {
	for _, f := range a.Factors {
		if f.Factor == name {
			return f, true
		}
	}
	return FactorScore{}, false
}
