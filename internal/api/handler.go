package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	alerts   domain.AlertStore
	assessor *risk.Assessor
	scanner  *fraud.Scanner
	engine   *patterns.RuleEngine
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	alerts domain.AlertStore,
	assessor *risk.Assessor,
	scanner *fraud.Scanner,
	engine *patterns.RuleEngine,
	version string,
) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		alerts:   alerts,
		assessor: assessor,
		scanner:  scanner,
		engine:   engine,
		version:  version,
	}
}

// GetRisk handles GET /businesses/{id}/risk.
// Returns the cached assessment when fresh, otherwise computes one.
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	businessID := chi.URLParam(r, "id")

	if businessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "business id is required",
		})
		return
	}

	assessment, err := h.assessor.Assess(ctx, tenantID, businessID)
	if err != nil {
		writeDomainError(w, err, "assessment failed")
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// GetRiskHistory handles GET /businesses/{id}/risk/history.
// Returns past assessments, newest first.
func (h *Handler) GetRiskHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	businessID := chi.URLParam(r, "id")

	if businessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "business id is required",
		})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	history, err := h.assessor.History(ctx, tenantID, businessID, limit)
	if err != nil {
		writeDomainError(w, err, "history lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"businessId":  businessID,
		"assessments": history,
		"count":       len(history),
	})
}

// ScanRequest is the optional request body for POST /businesses/{id}/scan.
type ScanRequest struct {
	// From and To bound the scan window. Both must be set to override the
	// default trailing window.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`

	// Async queues the scan on the event bus instead of running inline.
	Async bool `json:"async,omitempty"`
}

// Scan handles POST /businesses/{id}/scan.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	businessID := chi.URLParam(r, "id")

	if businessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "business id is required",
		})
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.From.IsZero() != req.To.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "from and to must be provided together",
		})
		return
	}
	if !req.From.IsZero() && !req.From.Before(req.To) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "from must precede to",
		})
		return
	}

	if req.Async {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		payload, _ := json.Marshal(domain.ScanRequestEvent{
			BusinessID: businessID,
			TraceID:    GetTraceID(ctx),
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicScanRequest, payload); err != nil {
			slog.Error("failed to queue scan", "business_id", businessID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue scan",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "queued",
			"businessId": businessID,
		})
		return
	}

	var result *fraud.ScanResult
	var err error
	if req.From.IsZero() {
		result, err = h.scanner.Scan(ctx, tenantID, businessID)
	} else {
		result, err = h.scanner.ScanWindow(ctx, tenantID, businessID, domain.ScanWindow{
			From: req.From.UTC(),
			To:   req.To.UTC(),
		})
	}
	if err != nil {
		writeDomainError(w, err, "scan failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetActiveAlert handles GET /businesses/{id}/alerts/active.
func (h *Handler) GetActiveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	businessID := chi.URLParam(r, "id")

	if businessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "business id is required",
		})
		return
	}

	alert, err := h.alerts.FindActive(ctx, tenantID, businessID)
	if err != nil {
		writeDomainError(w, err, "alert lookup failed")
		return
	}
	if alert == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no active alert for business",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	alert, err := h.alerts.Get(ctx, tenantID, alertID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidBusiness) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		writeDomainError(w, err, "alert lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// ListRules returns the tenant's custom rules from the database.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.engine.RulesCount(tenantID),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	rule, err := h.repo.GetRuleConfig(ctx, tenantID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Expression   string  `json:"expression"`
	Contribution float64 `json:"contribution"`
	Enabled      bool    `json:"enabled"`
}

// CreateRule validates, persists, and hot-loads a tenant custom rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Contribution < 0 || req.Contribution > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "contribution must be between 0 and 100",
		})
		return
	}

	rule := &domain.RuleConfig{
		ID:           req.ID,
		TenantID:     tenantID,
		Name:         req.Name,
		Description:  req.Description,
		Version:      "1.0.0",
		Expression:   req.Expression,
		Contribution: req.Contribution,
		Enabled:      req.Enabled,
	}

	// Compile first so a broken expression never reaches the database.
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	if rule.Enabled {
		if err := h.engine.LoadRule(tenantID, rule); err != nil {
			slog.Error("failed to load rule into engine", "id", rule.ID, "error", err)
		}
	}

	slog.Info("rule created", "tenant_id", tenantID, "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules reloads the tenant's rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(tenantID, rules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "tenant_id", tenantID, "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses:
// unknown business is 404, upstream outage is 503, anything else is 500.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrInvalidBusiness):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "business not found",
		})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "upstream dependency unavailable",
		})
	default:
		slog.Error(fallback, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fallback,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
