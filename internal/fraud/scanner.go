// Package fraud runs the pattern detectors and manages the resulting
// alerts. The scanner owns the one-active-alert-per-business invariant at
// the application level; the alert store backs it up with a partial unique
// index.
package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

const (
	// maxConcurrentDetectors bounds the detector fan-out per scan.
	maxConcurrentDetectors = 4

	// alertStripes sizes the per-business lock table.
	alertStripes = 64
)

// ScanResult is the outcome of one fraud scan.
type ScanResult struct {
	TenantID       string                `json:"tenantId"`
	BusinessID     string                `json:"businessId"`
	Window         domain.ScanWindow     `json:"window"`
	CompositeScore float64               `json:"compositeScore"`
	Severity       domain.Severity       `json:"severity"`
	Findings       []domain.FraudFinding `json:"findings"`

	// Alert is the ACTIVE alert after the scan, nil when the score stayed
	// below the reporting floor and no alert was open.
	Alert *domain.FraudAlert `json:"alert,omitempty"`

	// Degraded is set when one or more detectors were skipped.
	Degraded  bool      `json:"degraded,omitempty"`
	ScannedAt time.Time `json:"scannedAt"`
}

// Scanner fans the detector set out over a business and aggregates findings
// into an alert.
type Scanner struct {
	detectors []patterns.Detector
	graph     domain.GraphQuery
	store     domain.AlertStore
	cache     domain.Cache
	bus       domain.EventBus
	cfg       domain.FraudConfig
	ttl       time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer

	// stripes serialize scans of the same business within this process.
	stripes [alertStripes]sync.Mutex
}

// NewScanner creates a scanner over the given detector set. The bus is
// optional; when present, alert changes are published on TopicAlertRaised.
func NewScanner(
	detectors []patterns.Detector,
	graph domain.GraphQuery,
	store domain.AlertStore,
	cache domain.Cache,
	bus domain.EventBus,
	cfg domain.FraudConfig,
	ttl time.Duration,
	logger *slog.Logger,
) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		detectors: detectors,
		graph:     graph,
		store:     store,
		cache:     cache,
		bus:       bus,
		cfg:       cfg,
		ttl:       ttl,
		logger:    logger,
		tracer:    otel.Tracer("kestrel.fraud"),
	}
}

// Scan runs every detector for the business over the default window ending
// now, aggregates the findings, and reconciles the active alert. Only
// default-window results are memoized.
func (s *Scanner) Scan(ctx context.Context, tenantID string, businessID string) (*ScanResult, error) {
	now := time.Now().UTC()
	return s.scan(ctx, tenantID, businessID, domain.ScanWindow{
		From: now.Add(-s.cfg.ScanWindow),
		To:   now,
	}, true)
}

// ScanWindow is Scan with an explicit window. The scan and per-pattern
// cache keys carry only the business id, so explicit windows bypass both
// caches rather than serve a result computed for a different period.
func (s *Scanner) ScanWindow(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow) (*ScanResult, error) {
	return s.scan(ctx, tenantID, businessID, window, false)
}

func (s *Scanner) scan(ctx context.Context, tenantID string, businessID string, window domain.ScanWindow, useCache bool) (*ScanResult, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.scan",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("business.id", businessID),
		))
	defer span.End()

	if _, err := s.graph.GetNode(ctx, tenantID, businessID); err != nil {
		return nil, err
	}

	stripe := &s.stripes[stripeFor(tenantID, businessID)]
	stripe.Lock()
	defer stripe.Unlock()

	if useCache {
		if cached := s.cachedResult(ctx, tenantID, businessID); cached != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	findings, degraded, err := s.runDetectors(ctx, tenantID, businessID, window, useCache)
	if err != nil {
		return nil, err
	}

	var score float64
	for _, f := range findings {
		score += f.ScoreContribution
	}
	score = min100(score)

	result := &ScanResult{
		TenantID:       tenantID,
		BusinessID:     businessID,
		Window:         window,
		CompositeScore: score,
		Severity:       s.cfg.SeverityFor(score),
		Findings:       findings,
		Degraded:       degraded,
		ScannedAt:      time.Now().UTC(),
	}

	alert, err := s.reconcileAlert(ctx, tenantID, businessID, result)
	if err != nil {
		return nil, err
	}
	result.Alert = alert

	// A degraded result is served but never cached, so a transient detector
	// failure cannot pin an understated score for a full TTL.
	if useCache && !result.Degraded {
		s.cacheResult(ctx, tenantID, result)
	}

	s.logger.InfoContext(ctx, "fraud scan completed",
		"tenant_id", tenantID,
		"business_id", businessID,
		"score", score,
		"findings", len(findings),
		"alert_open", alert != nil,
	)
	return result, nil
}

// runDetectors fans out the detectors and concatenates findings in detector
// order. A detector failing with a non-fatal error is skipped.
func (s *Scanner) runDetectors(ctx context.Context, tenantID, businessID string, window domain.ScanWindow, useCache bool) ([]domain.FraudFinding, bool, error) {
	perDetector := make([][]domain.FraudFinding, len(s.detectors))
	skipped := make([]bool, len(s.detectors))
	errs := make([]error, len(s.detectors))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentDetectors)

	for i, det := range s.detectors {
		wg.Add(1)
		go func(i int, det patterns.Detector) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			perDetector[i], skipped[i], errs[i] = s.runOne(ctx, det, tenantID, businessID, window, useCache)
		}(i, det)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, false, err
		}
	}

	var findings []domain.FraudFinding
	var degraded bool
	for i := range perDetector {
		findings = append(findings, perDetector[i]...)
		degraded = degraded || skipped[i]
	}
	return findings, degraded, nil
}

func (s *Scanner) runOne(ctx context.Context, det patterns.Detector, tenantID, businessID string, window domain.ScanWindow, useCache bool) ([]domain.FraudFinding, bool, error) {
	key := domain.PatternKey(businessID, det.Pattern())
	if useCache {
		if data, err := s.cache.Get(ctx, tenantID, key); err == nil && data != nil {
			var findings []domain.FraudFinding
			if err := json.Unmarshal(data, &findings); err == nil {
				return findings, false, nil
			}
		}
	}

	detectCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.DetectorTimeout > 0 {
		detectCtx, cancel = context.WithTimeout(ctx, s.cfg.DetectorTimeout)
		defer cancel()
	}

	findings, err := det.Detect(detectCtx, tenantID, businessID, window)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidBusiness),
			errors.Is(err, domain.ErrUpstreamUnavailable):
			return nil, false, err
		default:
			s.logger.WarnContext(ctx, "detector skipped",
				"pattern", det.Pattern(),
				"business_id", businessID,
				"error", err,
			)
			return nil, true, nil
		}
	}

	if useCache {
		if data, err := json.Marshal(findings); err == nil {
			_ = s.cache.Set(ctx, tenantID, key, data, s.ttl)
		}
	}
	return findings, false, nil
}

// reconcileAlert applies the scan outcome to the alert state: open a new
// ACTIVE alert above the reporting floor, refresh an existing one, or leave
// everything untouched below the floor. A concurrent writer is retried once
// against the fresh version.
func (s *Scanner) reconcileAlert(ctx context.Context, tenantID, businessID string, result *ScanResult) (*domain.FraudAlert, error) {
	upsert := func() (*domain.FraudAlert, error) {
		active, err := s.store.FindActive(ctx, tenantID, businessID)
		if err != nil {
			return nil, fmt.Errorf("find active alert: %w", err)
		}

		if result.CompositeScore < s.cfg.ReportingFloor {
			// Below the floor nothing opens; an existing alert stays for a
			// human to close.
			return active, nil
		}

		if active == nil {
			// RESOLVED and FALSE_POSITIVE alerts are never resurrected: a
			// recurrence opens a fresh alert under a new id.
			return s.store.Upsert(ctx, tenantID, &domain.FraudAlert{
				ID:             uuid.New().String(),
				BusinessID:     businessID,
				Severity:       result.Severity,
				CompositeScore: result.CompositeScore,
				Findings:       result.Findings,
				Status:         domain.AlertActive,
			})
		}

		active.Severity = result.Severity
		active.CompositeScore = result.CompositeScore
		active.Findings = result.Findings
		return s.store.Upsert(ctx, tenantID, active)
	}

	alert, err := upsert()
	if errors.Is(err, domain.ErrAlertConflict) {
		// Lost a race with a concurrent scan or a human action; re-read and
		// try once more.
		alert, err = upsert()
	}
	if err != nil {
		return nil, err
	}

	if alert != nil && s.bus != nil {
		if data, merr := json.Marshal(alert); merr == nil {
			if perr := s.bus.Publish(ctx, tenantID, domain.TopicAlertRaised, data); perr != nil {
				s.logger.WarnContext(ctx, "failed to publish alert event",
					"alert_id", alert.ID, "error", perr)
			}
		}
	}
	return alert, nil
}

func (s *Scanner) cachedResult(ctx context.Context, tenantID, businessID string) *ScanResult {
	data, err := s.cache.Get(ctx, tenantID, domain.ScanKey(businessID))
	if err != nil || data == nil {
		return nil
	}
	var result ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}

func (s *Scanner) cacheResult(ctx context.Context, tenantID string, result *ScanResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, tenantID, domain.ScanKey(result.BusinessID), data, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "failed to cache scan result",
			"business_id", result.BusinessID, "error", err)
	}
}

func stripeFor(tenantID, businessID string) int {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(businessID))
	return int(h.Sum32() % alertStripes)
}

func min100(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}
