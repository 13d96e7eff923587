package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
)

const testTenant = "tenant-001"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	g := graph.NewMemoryGraph()
	g.AddNode(testTenant, domain.Entity{ID: "biz-a", Label: domain.LabelBusiness, Name: "Acme GmbH"})

	c := cache.NewLRUCache(1000)
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	store := alerts.NewMemoryStore()

	engine, err := patterns.NewRuleEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	cfg := domain.DefaultConfig()

	assessor := risk.NewAssessor(
		factors.All(repo, g, cfg.Scoring),
		g, repo, c, cfg.Scoring, time.Minute, nil,
	)
	scanner := fraud.NewScanner(
		patterns.All(repo, g, engine, cfg.Fraud),
		g, store, c, b, cfg.Fraud, time.Minute, nil,
	)

	return NewServer(cfg.Server, repo, c, b, store, assessor, scanner, engine, "test")
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %s", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("expected version test, got %s", body["version"])
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/businesses/biz-a/risk", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without tenant header, got %d", rec.Code)
	}
}

func TestGetRisk(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/businesses/biz-a/risk", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var assessment domain.RiskAssessment
	decodeBody(t, rec, &assessment)

	if assessment.BusinessID != "biz-a" {
		t.Errorf("expected businessId biz-a, got %s", assessment.BusinessID)
	}
	if len(assessment.Factors) != 5 {
		t.Errorf("expected 5 factor scores, got %d", len(assessment.Factors))
	}
	if assessment.CompositeScore < 0 || assessment.CompositeScore > 100 {
		t.Errorf("composite score out of range: %v", assessment.CompositeScore)
	}
	if assessment.Explanation == "" {
		t.Error("expected non-empty explanation")
	}
}

func TestGetRiskUnknownBusiness(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/businesses/no-such-biz/risk", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown business, got %d", rec.Code)
	}
}

func TestRiskHistory(t *testing.T) {
	srv := newTestServer(t)

	// Assessing persists a history record.
	rec := doRequest(t, srv, http.MethodGet, "/businesses/biz-a/risk", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("assess failed: %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/businesses/biz-a/risk/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Count       int                     `json:"count"`
		Assessments []domain.RiskAssessment `json:"assessments"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 1 {
		t.Errorf("expected 1 history entry, got %d", body.Count)
	}

	rec = doRequest(t, srv, http.MethodGet, "/businesses/biz-a/risk/history?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-positive limit, got %d", rec.Code)
	}
}

func TestScanCleanBusiness(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/businesses/biz-a/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var result fraud.ScanResult
	decodeBody(t, rec, &result)
	if result.CompositeScore != 0 {
		t.Errorf("expected score 0 for empty business, got %v", result.CompositeScore)
	}
	if result.Alert != nil {
		t.Error("expected no alert below reporting floor")
	}

	// No active alert to fetch.
	rec = doRequest(t, srv, http.MethodGet, "/businesses/biz-a/alerts/active", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for no active alert, got %d", rec.Code)
	}
}

func TestScanUnknownBusiness(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/businesses/ghost/scan", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestScanAsyncQueues(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/businesses/biz-a/scan", ScanRequest{Async: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "queued" {
		t.Errorf("expected queued status, got %s", body["status"])
	}
}

func TestScanWindowValidation(t *testing.T) {
	srv := newTestServer(t)

	now := time.Now().UTC()

	rec := doRequest(t, srv, http.MethodPost, "/businesses/biz-a/scan", ScanRequest{From: now})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for half-open window, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/businesses/biz-a/scan", ScanRequest{
		From: now,
		To:   now.Add(-time.Hour),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted window, got %d", rec.Code)
	}
}

func TestGetAlertNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/alerts/no-such-alert", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// Create a valid rule.
	rec := doRequest(t, srv, http.MethodPost, "/rules", CreateRuleRequest{
		ID:           "high-volume",
		Name:         "High Volume",
		Expression:   "total_volume > 100000.0",
		Contribution: 30,
		Enabled:      true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Listed and loaded.
	rec = doRequest(t, srv, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Count  int `json:"count"`
		Loaded int `json:"loaded"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("expected 1 rule, got %d", list.Count)
	}
	if list.Loaded != 1 {
		t.Errorf("expected 1 loaded rule, got %d", list.Loaded)
	}

	// Fetch by id.
	rec = doRequest(t, srv, http.MethodGet, "/rules/high-volume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rule domain.RuleConfig
	decodeBody(t, rec, &rule)
	if rule.Expression != "total_volume > 100000.0" {
		t.Errorf("unexpected expression: %s", rule.Expression)
	}

	// Reload keeps the engine in sync with the database.
	rec = doRequest(t, srv, http.MethodPost, "/rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var reload struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &reload)
	if reload.Count != 1 {
		t.Errorf("expected 1 reloaded rule, got %d", reload.Count)
	}
}

func TestCreateRuleRejectsBadExpression(t *testing.T) {
	srv := newTestServer(t)

	// Non-boolean expression.
	rec := doRequest(t, srv, http.MethodPost, "/rules", CreateRuleRequest{
		ID:         "bad-type",
		Name:       "Bad Type",
		Expression: "total_volume + 1.0",
		Enabled:    true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-bool expression, got %d", rec.Code)
	}

	// Unknown variable.
	rec = doRequest(t, srv, http.MethodPost, "/rules", CreateRuleRequest{
		ID:         "bad-var",
		Name:       "Bad Var",
		Expression: "no_such_var > 1.0",
		Enabled:    true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown variable, got %d", rec.Code)
	}

	// Missing required fields.
	rec = doRequest(t, srv, http.MethodPost, "/rules", CreateRuleRequest{ID: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", rec.Code)
	}

	// Nothing was persisted.
	rec = doRequest(t, srv, http.MethodGet, "/rules", nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 0 {
		t.Errorf("expected 0 rules, got %d", list.Count)
	}
}

func TestGetRuleNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/rules/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
