//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel risk and
// fraud intelligence engine.
//
// These tests run the COMPLETE in-process pipeline on the Community stack
// (SQLite repository, SQL graph, LRU cache, channel bus):
//
//	Seed data → HTTP API → Assessor / Scanner → Alert store → Event bus
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/worker"
)

const tenantID = "tenant-e2e"

// stack wires the full Community tier in process.
type stack struct {
	repo    *repository.SQLRepository
	cache   domain.Cache
	bus     domain.EventBus
	alerts  domain.AlertStore
	engine  *patterns.RuleEngine
	server  *api.Server
	scanner *fraud.Scanner
	worker  *worker.Worker
}

func newStack(t *testing.T) *stack {
	t.Helper()

	cfg := domain.DefaultConfig()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-e2e.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	g, err := graph.New(cfg.Graph, repo.DB(), repo.Driver())
	if err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}

	c := cache.NewLRUCache(1000)
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	store := alerts.NewSQLStore(repo.DB(), repo.Driver())

	engine, err := patterns.NewRuleEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	assessor := risk.NewAssessor(
		factors.All(repo, g, cfg.Scoring),
		g, repo, c, cfg.Scoring, time.Minute, nil,
	)
	scanner := fraud.NewScanner(
		patterns.All(repo, g, engine, cfg.Fraud),
		g, store, c, b, cfg.Fraud, time.Minute, nil,
	)

	w := worker.NewWorker(b, c, scanner, nil)
	if err := w.Start(worker.Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	srv := api.NewServer(cfg.Server, repo, c, b, store, assessor, scanner, engine, "e2e")

	return &stack{
		repo:    repo,
		cache:   c,
		bus:     b,
		alerts:  store,
		engine:  engine,
		server:  srv,
		scanner: scanner,
		worker:  w,
	}
}

func (s *stack) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, tenantID)

	rec := httptest.NewRecorder()
	s.server.Router().ServeHTTP(rec, req)
	return rec
}

// seedHealthyBusiness creates a business with an owner, three suppliers,
// on-time settlements, and positive cash flow.
func seedHealthyBusiness(t *testing.T, s *stack, bizID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	must(s.repo.SaveEntity(ctx, tenantID, &domain.Entity{
		ID: bizID, Label: domain.LabelBusiness, Name: "Healthy GmbH",
	}))
	must(s.repo.SaveEntity(ctx, tenantID, &domain.Entity{
		ID: bizID + "-owner", Label: domain.LabelPerson, Name: "Sole Owner",
	}))
	must(s.repo.SaveRelationship(ctx, tenantID, &domain.Relationship{
		FromID: bizID + "-owner", ToID: bizID, Type: domain.RelOwns,
		Properties: map[string]any{"percentage": 100.0},
	}))

	for i := 0; i < 3; i++ {
		supID := bizID + "-sup-" + string(rune('a'+i))
		must(s.repo.SaveEntity(ctx, tenantID, &domain.Entity{
			ID: supID, Label: domain.LabelBusiness, Name: "Supplier " + supID,
		}))
		must(s.repo.SaveRelationship(ctx, tenantID, &domain.Relationship{
			FromID: bizID, ToID: supID, Type: domain.RelBuysFrom,
		}))

		for m := 0; m < 6; m++ {
			at := now.AddDate(0, -m, -3)
			must(s.repo.SaveTransaction(ctx, tenantID, &domain.Transaction{
				ID: bizID + "-tx-" + supID + "-" + string(rune('0'+m)), Type: "payment",
				PayerID: bizID, PayeeID: supID,
				Amount: 5000, Currency: "EUR", Timestamp: at,
			}))

			issued := at.AddDate(0, 0, -25)
			due := issued.AddDate(0, 0, 30)
			settled := due.AddDate(0, 0, -2)
			must(s.repo.SaveInvoice(ctx, tenantID, &domain.Invoice{
				ID:       bizID + "-inv-" + supID + "-" + string(rune('0'+m)),
				IssuerID: supID, CounterpartyID: bizID,
				Number: "INV-" + supID + "-" + string(rune('0'+m)),
				Amount: 5000, Currency: "EUR",
				IssuedAt: issued, DueAt: due, SettledAt: &settled,
			}))
		}
	}

	// Monthly customer inflow keeps the runway positive.
	for m := 0; m < 6; m++ {
		must(s.repo.SaveTransaction(ctx, tenantID, &domain.Transaction{
			ID: bizID + "-in-" + string(rune('0'+m)), Type: "payment",
			PayerID: bizID + "-cust", PayeeID: bizID,
			Amount: 50000, Currency: "EUR", Timestamp: now.AddDate(0, -m, -1),
		}))
	}
}

// seedStructuring creates a business making repeated just-below-threshold
// payments to one payee inside three days.
func seedStructuring(t *testing.T, s *stack, bizID string) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().AddDate(0, 0, -4)

	if err := s.repo.SaveEntity(ctx, tenantID, &domain.Entity{
		ID: bizID, Label: domain.LabelBusiness, Name: "Structurer Ltd",
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		tx := &domain.Transaction{
			ID: bizID + "-tx-" + string(rune('0'+i)), Type: "payment",
			PayerID: bizID, PayeeID: "offshore-1",
			Amount: 9300 + float64(i)*150, Currency: "EUR",
			Timestamp: base.Add(time.Duration(i*8) * time.Hour),
		}
		if err := s.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestRiskAssessmentEndToEnd(t *testing.T) {
	s := newStack(t)
	seedHealthyBusiness(t, s, "healthy-1")

	rec := s.request(t, http.MethodGet, "/businesses/healthy-1/risk", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var assessment domain.RiskAssessment
	if err := json.Unmarshal(rec.Body.Bytes(), &assessment); err != nil {
		t.Fatalf("failed to decode assessment: %v", err)
	}

	if len(assessment.Factors) != 5 {
		t.Fatalf("expected 5 factors, got %d", len(assessment.Factors))
	}
	if assessment.Degraded {
		t.Error("assessment should not be degraded with full data")
	}

	// On-time settlements keep payment behavior at the floor.
	if f, ok := assessment.Factor(domain.FactorPaymentBehavior); !ok || f.Score != 0 {
		t.Errorf("expected payment behavior score 0, got %+v", f)
	}

	// A healthy business stays out of the high bands.
	if assessment.CompositeScore >= 50 {
		t.Errorf("expected composite below 50 for a healthy business, got %v", assessment.CompositeScore)
	}

	// History has the record.
	rec = s.request(t, http.MethodGet, "/businesses/healthy-1/risk/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history failed: %d", rec.Code)
	}
	var history struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &history)
	if history.Count != 1 {
		t.Errorf("expected 1 history record, got %d", history.Count)
	}
}

func TestFraudScanOpensAndUpdatesAlert(t *testing.T) {
	s := newStack(t)
	seedStructuring(t, s, "structurer-1")

	rec := s.request(t, http.MethodPost, "/businesses/structurer-1/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var result fraud.ScanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}

	if result.CompositeScore < 35 {
		t.Errorf("expected structuring to score at least 35, got %v", result.CompositeScore)
	}
	if result.Alert == nil {
		t.Fatal("expected an alert above the reporting floor")
	}
	if result.Alert.Status != domain.AlertActive {
		t.Errorf("expected ACTIVE alert, got %s", result.Alert.Status)
	}
	firstID := result.Alert.ID
	firstVersion := result.Alert.Version

	// The active alert is retrievable.
	rec = s.request(t, http.MethodGet, "/businesses/structurer-1/alerts/active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for active alert, got %d", rec.Code)
	}

	// A rescan on fresh data updates the same alert, never opens a second.
	if err := s.cache.Invalidate(context.Background(), tenantID, domain.ScanKey("structurer-1")); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	rec = s.request(t, http.MethodPost, "/businesses/structurer-1/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rescan failed: %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode rescan result: %v", err)
	}
	if result.Alert == nil {
		t.Fatal("expected alert to persist across rescans")
	}
	if result.Alert.ID != firstID {
		t.Errorf("rescan opened a new alert: %s != %s", result.Alert.ID, firstID)
	}
	if result.Alert.Version <= firstVersion {
		t.Errorf("expected version bump, got %d -> %d", firstVersion, result.Alert.Version)
	}
}

func TestCustomRuleFiresInScan(t *testing.T) {
	s := newStack(t)
	seedStructuring(t, s, "structurer-2")

	rec := s.request(t, http.MethodPost, "/rules", api.CreateRuleRequest{
		ID:           "many-payments",
		Name:         "Many Payments",
		Expression:   "tx_count >= 3",
		Contribution: 40,
		Enabled:      true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("rule create failed: %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = s.request(t, http.MethodPost, "/businesses/structurer-2/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan failed: %d", rec.Code)
	}

	var result fraud.ScanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}

	var found bool
	for _, f := range result.Findings {
		if f.Pattern == domain.PatternCustomRule {
			found = true
		}
	}
	if !found {
		t.Error("expected a custom_rule finding in scan results")
	}
}

func TestEntityUpdateInvalidatesAssessment(t *testing.T) {
	s := newStack(t)
	seedHealthyBusiness(t, s, "healthy-2")
	ctx := context.Background()

	rec := s.request(t, http.MethodGet, "/businesses/healthy-2/risk", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("assess failed: %d", rec.Code)
	}
	var first domain.RiskAssessment
	json.Unmarshal(rec.Body.Bytes(), &first)

	// Cached: same assessment comes back.
	rec = s.request(t, http.MethodGet, "/businesses/healthy-2/risk", nil)
	var cached domain.RiskAssessment
	json.Unmarshal(rec.Body.Bytes(), &cached)
	if cached.ID != first.ID {
		t.Fatalf("expected cached assessment %s, got %s", first.ID, cached.ID)
	}

	// Ingestion announces a change; the worker drops the cached artifacts.
	payload, _ := json.Marshal(domain.EntityUpdatedEvent{BusinessID: "healthy-2", Source: "ingestion"})
	if err := s.bus.Publish(ctx, tenantID, domain.TopicEntityUpdated, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := s.cache.Get(ctx, tenantID, domain.AssessmentKey("healthy-2")); v == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = s.request(t, http.MethodGet, "/businesses/healthy-2/risk", nil)
	var fresh domain.RiskAssessment
	json.Unmarshal(rec.Body.Bytes(), &fresh)
	if fresh.ID == first.ID {
		t.Error("expected a recomputed assessment after invalidation")
	}
}

func TestUnknownBusinessIs404(t *testing.T) {
	s := newStack(t)

	if rec := s.request(t, http.MethodGet, "/businesses/ghost/risk", nil); rec.Code != http.StatusNotFound {
		t.Errorf("risk: expected 404, got %d", rec.Code)
	}
	if rec := s.request(t, http.MethodPost, "/businesses/ghost/scan", nil); rec.Code != http.StatusNotFound {
		t.Errorf("scan: expected 404, got %d", rec.Code)
	}
}
