package patterns

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleEngine compiles and evaluates tenant-defined CEL rules over scan-level
// aggregates. Rules are keyed per tenant; hot-reload swaps a tenant's set
// atomically.
type RuleEngine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]map[string]*CompiledRule // tenantID -> ruleID -> rule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// ScanAggregates are the variables a custom rule can reference.
type ScanAggregates struct {
	TxCount           int64
	TotalVolume       float64
	MaxAmount         float64
	RoundRatio        float64
	CounterpartyCount int64
	WindowHours       float64
}

// NewRuleEngine creates an engine with the scan-aggregate environment.
func NewRuleEngine() (*RuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx_count", cel.IntType),
		cel.Variable("total_volume", cel.DoubleType),
		cel.Variable("max_amount", cel.DoubleType),
		cel.Variable("round_ratio", cel.DoubleType),
		cel.Variable("counterparty_count", cel.IntType),
		cel.Variable("window_hours", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleEngine{
		env:   env,
		rules: make(map[string]map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *RuleEngine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compile(cfg)
	return err
}

// LoadRule compiles and loads one rule for a tenant.
func (e *RuleEngine) LoadRule(tenantID string, cfg *domain.RuleConfig) error {
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules[tenantID] == nil {
		e.rules[tenantID] = make(map[string]*CompiledRule)
	}
	e.rules[tenantID][cfg.ID] = compiled
	return nil
}

// ReloadRules replaces a tenant's rule set with the given configs. Disabled
// rules are skipped.
func (e *RuleEngine) ReloadRules(tenantID string, configs []*domain.RuleConfig) error {
	next := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[tenantID] = next
	return nil
}

// Evaluate runs every loaded rule for the tenant against the aggregates and
// returns the rules that triggered.
func (e *RuleEngine) Evaluate(tenantID string, agg ScanAggregates) ([]*domain.RuleConfig, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.rules[tenantID]))
	for _, r := range e.rules[tenantID] {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := map[string]any{
		"tx_count":           agg.TxCount,
		"total_volume":       agg.TotalVolume,
		"max_amount":         agg.MaxAmount,
		"round_ratio":        agg.RoundRatio,
		"counterparty_count": agg.CounterpartyCount,
		"window_hours":       agg.WindowHours,
	}

	var triggered []*domain.RuleConfig
	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Config.ID, err)
		}
		if truthy(out) {
			triggered = append(triggered, rule.Config)
		}
	}
	return triggered, nil
}

// RulesCount returns the number of loaded rules for a tenant.
func (e *RuleEngine) RulesCount(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules[tenantID])
}

func (e *RuleEngine) compile(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}
	return &CompiledRule{Config: cfg, Program: program}, nil
}

func truthy(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}
