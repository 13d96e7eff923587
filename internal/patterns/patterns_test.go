package patterns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

// stubRepo serves canned transactions and invoices for detector tests.
type stubRepo struct {
	txs      []*domain.Transaction
	invoices []*domain.Invoice
}

func (r *stubRepo) SaveEntity(ctx context.Context, tenantID string, e *domain.Entity) error {
	return nil
}
func (r *stubRepo) SaveRelationship(ctx context.Context, tenantID string, rel *domain.Relationship) error {
	return nil
}
func (r *stubRepo) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	return nil
}
func (r *stubRepo) ListTransactions(ctx context.Context, tenantID, businessID string, from, to time.Time) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tx := range r.txs {
		if tx.PayerID != businessID && tx.PayeeID != businessID {
			continue
		}
		if tx.Timestamp.Before(from) || tx.Timestamp.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}
func (r *stubRepo) SaveInvoice(ctx context.Context, tenantID string, inv *domain.Invoice) error {
	return nil
}
func (r *stubRepo) ListInvoicesIssued(ctx context.Context, tenantID, businessID string, from, to time.Time) ([]*domain.Invoice, error) {
	var out []*domain.Invoice
	for _, inv := range r.invoices {
		if inv.IssuerID != businessID {
			continue
		}
		if inv.IssuedAt.Before(from) || inv.IssuedAt.After(to) {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}
func (r *stubRepo) ListPayables(ctx context.Context, tenantID, businessID string, since time.Time) ([]*domain.Invoice, error) {
	return nil, nil
}
func (r *stubRepo) SupplierSpend(ctx context.Context, tenantID, businessID string, since time.Time) ([]domain.SpendShare, error) {
	return nil, nil
}
func (r *stubRepo) MonthlyFlows(ctx context.Context, tenantID, businessID string, months int) ([]domain.MonthlyFlow, error) {
	return nil, nil
}
func (r *stubRepo) SaveAssessment(ctx context.Context, tenantID string, a *domain.RiskAssessment) error {
	return nil
}
func (r *stubRepo) ListAssessments(ctx context.Context, tenantID, businessID string, limit int) ([]*domain.RiskAssessment, error) {
	return nil, nil
}
func (r *stubRepo) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	return nil
}
func (r *stubRepo) GetRuleConfig(ctx context.Context, tenantID, ruleID string) (*domain.RuleConfig, error) {
	return nil, nil
}
func (r *stubRepo) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	return nil, nil
}
func (r *stubRepo) Ping(ctx context.Context) error { return nil }
func (r *stubRepo) Close() error                   { return nil }

var _ domain.Repository = (*stubRepo)(nil)

func testFraudConfig() domain.FraudConfig {
	return domain.DefaultConfig().Fraud
}

func testWindow() domain.ScanWindow {
	now := time.Now().UTC()
	return domain.ScanWindow{From: now.Add(-90 * 24 * time.Hour), To: now}
}

func paymentGraph(edges [][2]string) *graph.MemoryGraph {
	g := graph.NewMemoryGraph()
	seen := map[string]bool{}
	for _, e := range edges {
		for _, id := range e {
			if !seen[id] {
				seen[id] = true
				g.AddNode("t1", domain.Entity{ID: id, Label: domain.LabelBusiness})
			}
		}
		g.AddEdge("t1", domain.Relationship{
			FromID: e[0], ToID: e[1], Type: domain.RelPays,
			Properties: map[string]any{"amount": 1000.0},
		})
	}
	return g
}

func TestCircularDetectsTriangle(t *testing.T) {
	g := paymentGraph([][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}})
	d := NewCircularDetector(g, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "A", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected exactly 1 cycle finding, got %d", len(findings))
	}
	ev := findings[0].Evidence.(domain.CycleEvidence)
	want := []string{"A", "B", "C", "A"}
	if len(ev.Path) != len(want) {
		t.Fatalf("expected path %v, got %v", want, ev.Path)
	}
	for i := range want {
		if ev.Path[i] != want[i] {
			t.Fatalf("expected path %v, got %v", want, ev.Path)
		}
	}
	if ev.TotalAmount != 3000 {
		t.Errorf("expected total 3000, got %v", ev.TotalAmount)
	}
}

func TestCircularAcyclicGraphIsClean(t *testing.T) {
	g := paymentGraph([][2]string{{"A", "B"}, {"B", "C"}, {"A", "C"}})
	d := NewCircularDetector(g, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "A", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings for acyclic graph, got %d", len(findings))
	}
}

func TestCircularRespectsDepthBound(t *testing.T) {
	// Cycle of 8 edges; max depth 6 must not reach around it.
	edges := [][2]string{}
	nodes := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for i := range nodes {
		edges = append(edges, [2]string{nodes[i], nodes[(i+1)%len(nodes)]})
	}
	g := paymentGraph(edges)
	d := NewCircularDetector(g, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "A", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("8-hop cycle must be out of reach at depth 6, got %d findings", len(findings))
	}
}

func TestCircularReportsDistinctCyclesOnce(t *testing.T) {
	// Two separate two-party loops through A, each reported once.
	g := paymentGraph([][2]string{
		{"A", "B"}, {"B", "A"},
		{"A", "D"}, {"D", "A"},
	})
	d := NewCircularDetector(g, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "A", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 2 {
		t.Errorf("expected 2 distinct cycles, got %d", len(findings))
	}
}

func TestShellProfile(t *testing.T) {
	now := time.Now().UTC()
	g := graph.NewMemoryGraph()
	g.AddNode("t1", domain.Entity{ID: "shell-1", Label: domain.LabelBusiness})

	repo := &stubRepo{txs: []*domain.Transaction{
		{ID: "t1", PayerID: "x", PayeeID: "shell-1", Amount: 80000, Timestamp: now.Add(-time.Hour)},
		{ID: "t2", PayerID: "shell-1", PayeeID: "y", Amount: 75000, Timestamp: now.Add(-2 * time.Hour)},
	}}
	d := NewShellDetector(g, repo, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "shell-1", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected shell finding, got %d", len(findings))
	}
	ev := findings[0].Evidence.(domain.ShellEvidence)
	if ev.RelationshipCount != 0 || ev.Volume != 155000 {
		t.Errorf("unexpected evidence: %+v", ev)
	}
}

func TestShellIgnoresWellConnectedBusiness(t *testing.T) {
	now := time.Now().UTC()
	g := graph.NewMemoryGraph()
	g.AddNode("t1", domain.Entity{ID: "biz-a", Label: domain.LabelBusiness})
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p-%d", i)
		g.AddNode("t1", domain.Entity{ID: id, Label: domain.LabelPerson})
		g.AddEdge("t1", domain.Relationship{FromID: id, ToID: "biz-a", Type: domain.RelDirectorOf})
	}

	repo := &stubRepo{txs: []*domain.Transaction{
		{ID: "t1", PayerID: "x", PayeeID: "biz-a", Amount: 500000, Timestamp: now.Add(-time.Hour)},
	}}
	d := NewShellDetector(g, repo, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "biz-a", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("connected business must not flag, got %d findings", len(findings))
	}
}

func TestDuplicateInvoicesCollapseToOneFinding(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{invoices: []*domain.Invoice{
		{ID: "i1", IssuerID: "biz-a", CounterpartyID: "c1", Amount: 999, IssuedAt: now.Add(-72 * time.Hour)},
		{ID: "i2", IssuerID: "biz-a", CounterpartyID: "c1", Amount: 999, IssuedAt: now.Add(-60 * time.Hour)},
		{ID: "i3", IssuerID: "biz-a", CounterpartyID: "c1", Amount: 999, IssuedAt: now.Add(-48 * time.Hour)},
		// Different amount stays clean.
		{ID: "i4", IssuerID: "biz-a", CounterpartyID: "c1", Amount: 500, IssuedAt: now.Add(-48 * time.Hour)},
	}}
	d := NewDuplicateInvoiceDetector(repo, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "biz-a", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 collapsed finding, got %d", len(findings))
	}
	ev := findings[0].Evidence.(domain.DuplicateInvoiceEvidence)
	if len(ev.InvoiceIDs) != 3 {
		t.Errorf("expected 3 invoices in group, got %v", ev.InvoiceIDs)
	}
}

func TestDuplicateInvoicesDateGapSplitsGroups(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{invoices: []*domain.Invoice{
		{ID: "i1", IssuerID: "biz-a", CounterpartyID: "c1", Amount: 999, IssuedAt: now.Add(-40 * 24 * time.Hour)},
		{ID: "i2", IssuerID: "biz-a", CounterpartyID: "c1", Amount: 999, IssuedAt: now.Add(-time.Hour)},
	}}
	d := NewDuplicateInvoiceDetector(repo, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "biz-a", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("invoices a month apart are not duplicates, got %d findings", len(findings))
	}
}

func TestStructuringSequence(t *testing.T) {
	now := time.Now().UTC()
	var txs []*domain.Transaction
	for i := 0; i < 4; i++ {
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("s-%d", i), PayerID: "biz-a", PayeeID: "target",
			Amount: 9500, Timestamp: now.Add(-time.Duration(i*10) * time.Hour),
		})
	}
	d := NewStructuringDetector(&stubRepo{txs: txs}, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "biz-a", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected structuring finding, got %d", len(findings))
	}
	ev := findings[0].Evidence.(domain.StructuringEvidence)
	if len(ev.Payments) != 4 || ev.Aggregate != 38000 {
		t.Errorf("unexpected evidence: %+v", ev)
	}
}

func TestStructuringIgnoresNormalAmounts(t *testing.T) {
	now := time.Now().UTC()
	var txs []*domain.Transaction
	for i := 0; i < 5; i++ {
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("n-%d", i), PayerID: "biz-a", PayeeID: "target",
			Amount: 4000, Timestamp: now.Add(-time.Duration(i*10) * time.Hour),
		})
	}
	d := NewStructuringDetector(&stubRepo{txs: txs}, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "biz-a", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("mid-range payments are not structuring, got %d findings", len(findings))
	}
}

func TestRoundAmountsAgainstBaseline(t *testing.T) {
	now := time.Now().UTC()
	window := testWindow()
	var txs []*domain.Transaction

	// Baseline: 40 transactions, 10% round.
	for i := 0; i < 40; i++ {
		amount := 1234.56
		if i%10 == 0 {
			amount = 2000
		}
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("b-%d", i), PayerID: "biz-a", PayeeID: "x",
			Amount: amount, Timestamp: window.From.Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}
	// Window: 20 transactions, 50% round.
	for i := 0; i < 20; i++ {
		amount := 777.77
		if i%2 == 0 {
			amount = 5000
		}
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("w-%d", i), PayerID: "biz-a", PayeeID: "x",
			Amount: amount, Timestamp: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}

	d := NewRoundAmountDetector(&stubRepo{txs: txs}, testFraudConfig())
	findings, err := d.Detect(context.Background(), "t1", "biz-a", window)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected round-amount finding, got %d", len(findings))
	}
	ev := findings[0].Evidence.(domain.RoundAmountEvidence)
	if ev.WindowRatio != 0.5 || ev.BaselineRatio != 0.1 {
		t.Errorf("unexpected ratios: %+v", ev)
	}
}

func TestInvoiceOutlier(t *testing.T) {
	now := time.Now().UTC()
	window := testWindow()
	var invoices []*domain.Invoice

	// Baseline: 25 invoices around 100.
	for i := 0; i < 25; i++ {
		invoices = append(invoices, &domain.Invoice{
			ID: fmt.Sprintf("base-%d", i), IssuerID: "biz-a", CounterpartyID: "c1",
			Amount:   100 + float64(i%5),
			IssuedAt: window.From.Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}
	settled := now.Add(-time.Hour)
	invoices = append(invoices, &domain.Invoice{
		ID: "big", IssuerID: "biz-a", CounterpartyID: "c2",
		Amount:   50000,
		IssuedAt: now.Add(-2 * time.Hour), DueAt: now.Add(30 * 24 * time.Hour),
		SettledAt: &settled,
	})

	d := NewInvoiceFraudDetector(&stubRepo{invoices: invoices}, testFraudConfig())
	findings, err := d.Detect(context.Background(), "t1", "biz-a", window)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 outlier finding, got %d", len(findings))
	}
	ev := findings[0].Evidence.(domain.InvoiceOutlierEvidence)
	if ev.InvoiceID != "big" || ev.ZScore < 3 {
		t.Errorf("unexpected evidence: %+v", ev)
	}
	// Fast settlement bonus applied.
	if findings[0].ScoreContribution != invoiceOutlierScore+fastSettlementBonus {
		t.Errorf("expected fast-settlement bonus, got %v", findings[0].ScoreContribution)
	}
}

func TestUnusualActivityEnsemble(t *testing.T) {
	window := testWindow()
	var txs []*domain.Transaction

	// Baseline: steady small daytime payments over the year before the
	// window, with mild variation.
	for i := 0; i < 60; i++ {
		ts := window.From.Add(-time.Duration(i*3*24) * time.Hour)
		ts = time.Date(ts.Year(), ts.Month(), ts.Day(), 10+(i%3), 0, 0, 0, time.UTC)
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("b-%d", i), PayerID: "biz-a", PayeeID: "x",
			Amount: 90 + float64(i%20), Timestamp: ts,
		})
	}
	// Window: a burst of very large night-time payments.
	for i := 0; i < 30; i++ {
		ts := window.To.Add(-time.Duration(i) * time.Hour)
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("w-%d", i), PayerID: "biz-a", PayeeID: "y",
			Amount: 95000, Timestamp: ts,
		})
	}

	d := NewOutlierDetector(&stubRepo{txs: txs}, testFraudConfig())
	findings, err := d.Detect(context.Background(), "t1", "biz-a", window)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected anomaly finding, got %d", len(findings))
	}
	ev := findings[0].Evidence.(domain.AnomalyEvidence)
	if ev.Confidence < testFraudConfig().AnomalyConfidence {
		t.Errorf("confidence below bar: %+v", ev)
	}
}

func TestUnusualActivityQuietWindow(t *testing.T) {
	window := testWindow()
	var txs []*domain.Transaction
	for i := 0; i < 60; i++ {
		ts := window.From.Add(-time.Duration(i*3*24) * time.Hour)
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("b-%d", i), PayerID: "biz-a", PayeeID: "x",
			Amount: 100, Timestamp: ts,
		})
	}
	// Window mirrors the baseline.
	for i := 0; i < 5; i++ {
		txs = append(txs, &domain.Transaction{
			ID: fmt.Sprintf("w-%d", i), PayerID: "biz-a", PayeeID: "x",
			Amount: 100, Timestamp: window.From.Add(time.Duration(i*15*24) * time.Hour),
		})
	}

	d := NewOutlierDetector(&stubRepo{txs: txs}, testFraudConfig())
	findings, err := d.Detect(context.Background(), "t1", "biz-a", window)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("steady behavior must not flag, got %d findings", len(findings))
	}
}

func TestCustomRuleTriggers(t *testing.T) {
	now := time.Now().UTC()
	engine, err := NewRuleEngine()
	if err != nil {
		t.Fatalf("engine failed: %v", err)
	}
	rule := &domain.RuleConfig{
		ID: "r1", Name: "high volume", Expression: "total_volume > 100000.0",
		Contribution: 20, Enabled: true,
	}
	if err := engine.LoadRule("t1", rule); err != nil {
		t.Fatalf("load rule failed: %v", err)
	}

	repo := &stubRepo{txs: []*domain.Transaction{
		{ID: "t1", PayerID: "biz-a", PayeeID: "x", Amount: 150000, Timestamp: now.Add(-time.Hour)},
	}}
	d := NewCustomRuleDetector(repo, engine, testFraudConfig())

	findings, err := d.Detect(context.Background(), "t1", "biz-a", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected rule finding, got %d", len(findings))
	}
	if findings[0].ScoreContribution != 20 {
		t.Errorf("expected contribution 20, got %v", findings[0].ScoreContribution)
	}
	ev := findings[0].Evidence.(domain.CustomRuleEvidence)
	if ev.RuleID != "r1" {
		t.Errorf("unexpected evidence: %+v", ev)
	}

	// Other tenants are isolated from the rule.
	findings, err = d.Detect(context.Background(), "t2", "biz-a", testWindow())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("rule must not leak across tenants, got %d findings", len(findings))
	}
}

func TestRuleEngineRejectsNonBool(t *testing.T) {
	engine, err := NewRuleEngine()
	if err != nil {
		t.Fatalf("engine failed: %v", err)
	}
	err = engine.ValidateRule(&domain.RuleConfig{ID: "bad", Expression: "total_volume + 1.0"})
	if err == nil {
		t.Error("expected non-bool expression rejected")
	}
}

func TestRuleEngineReload(t *testing.T) {
	engine, err := NewRuleEngine()
	if err != nil {
		t.Fatalf("engine failed: %v", err)
	}
	if err := engine.LoadRule("t1", &domain.RuleConfig{ID: "old", Expression: "tx_count > 0", Enabled: true}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	err = engine.ReloadRules("t1", []*domain.RuleConfig{
		{ID: "new", Expression: "max_amount > 500.0", Enabled: true},
		{ID: "off", Expression: "tx_count > 100", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount("t1") != 1 {
		t.Errorf("expected 1 rule after reload, got %d", engine.RulesCount("t1"))
	}
}
