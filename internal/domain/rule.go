package domain

// RuleConfig defines a tenant-supplied fraud rule evaluated alongside the
// built-in pattern detectors. The expression is CEL over scan-level
// aggregates and must return bool.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is the CEL source. Available variables: tx_count,
	// total_volume, max_amount, round_ratio, counterparty_count,
	// window_hours.
	Expression string `json:"expression"`

	// Contribution is the finding score added when the rule triggers.
	Contribution float64 `json:"contribution"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}
