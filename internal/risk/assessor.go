// Package risk composes the per-factor scorers into an explainable
// composite risk assessment.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/factors"
)

// maxConcurrentScorers bounds the scorer fan-out per assessment.
const maxConcurrentScorers = 5

// Assessor runs the scorer set concurrently and aggregates the weighted
// composite. Scorer failures on non-critical paths degrade to the neutral
// score; upstream outages and unknown businesses fail the assessment.
type Assessor struct {
	scorers []factors.Scorer
	graph   domain.GraphQuery
	repo    domain.Repository
	cache   domain.Cache
	cfg     domain.ScoringConfig
	ttl     time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewAssessor creates an assessor over the given scorer set.
func NewAssessor(
	scorers []factors.Scorer,
	graph domain.GraphQuery,
	repo domain.Repository,
	cache domain.Cache,
	cfg domain.ScoringConfig,
	ttl time.Duration,
	logger *slog.Logger,
) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{
		scorers: scorers,
		graph:   graph,
		repo:    repo,
		cache:   cache,
		cfg:     cfg,
		ttl:     ttl,
		logger:  logger,
		tracer:  otel.Tracer("kestrel.risk"),
	}
}

// Assess computes (or returns the cached) composite risk assessment for a
// business. The result is appended to the assessment history.
func (a *Assessor) Assess(ctx context.Context, tenantID string, businessID string) (*domain.RiskAssessment, error) {
	ctx, span := a.tracer.Start(ctx, "risk.assess",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("business.id", businessID),
		))
	defer span.End()

	if cached := a.cachedAssessment(ctx, tenantID, businessID); cached != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	// Reject unknown businesses before spending scorer work on them.
	if _, err := a.graph.GetNode(ctx, tenantID, businessID); err != nil {
		return nil, err
	}

	asOf := time.Now().UTC()
	scores, err := a.runScorers(ctx, tenantID, businessID, asOf)
	if err != nil {
		return nil, err
	}

	var composite float64
	var degraded bool
	for _, fs := range scores {
		composite += a.cfg.Weights[fs.Factor] * fs.Score
		if fs.Degraded {
			degraded = true
		}
	}

	assessment := &domain.RiskAssessment{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		BusinessID:     businessID,
		CompositeScore: clamp(composite, 0, 100),
		Factors:        scores,
		Explanation:    buildExplanation(scores, a.cfg.Weights),
		Degraded:       degraded,
		Timestamp:      asOf,
	}

	if err := a.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	// A degraded composite is served but never cached, so a transient
	// outage cannot pin neutral substitutes for a full TTL.
	if !degraded {
		a.cacheAssessment(ctx, tenantID, assessment)
	}

	a.logger.InfoContext(ctx, "risk assessment computed",
		"tenant_id", tenantID,
		"business_id", businessID,
		"composite_score", assessment.CompositeScore,
		"degraded", degraded,
	)
	return assessment, nil
}

// History returns the most recent assessments, newest first.
func (a *Assessor) History(ctx context.Context, tenantID string, businessID string, limit int) ([]*domain.RiskAssessment, error) {
	if limit <= 0 {
		limit = 20
	}
	return a.repo.ListAssessments(ctx, tenantID, businessID, limit)
}

// runScorers fans the scorer set out under a concurrency bound and collects
// one FactorScore per scorer, in scorer order.
func (a *Assessor) runScorers(ctx context.Context, tenantID string, businessID string, asOf time.Time) ([]domain.FactorScore, error) {
	results := make([]domain.FactorScore, len(a.scorers))
	errs := make([]error, len(a.scorers))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentScorers)

	for i, sc := range a.scorers {
		wg.Add(1)
		go func(i int, sc factors.Scorer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i], errs[i] = a.runOne(ctx, sc, tenantID, businessID, asOf)
		}(i, sc)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// runOne executes a single scorer with memoization and the degradation
// policy: timeouts and missing data substitute the neutral score, upstream
// outages and invalid businesses abort the whole assessment.
func (a *Assessor) runOne(ctx context.Context, sc factors.Scorer, tenantID, businessID string, asOf time.Time) (domain.FactorScore, error) {
	key := domain.FactorKey(businessID, sc.Name())
	if data, err := a.cache.Get(ctx, tenantID, key); err == nil && data != nil {
		var fs domain.FactorScore
		if err := json.Unmarshal(data, &fs); err == nil {
			return fs, nil
		}
	}

	scoreCtx := ctx
	var cancel context.CancelFunc
	if a.cfg.ScorerTimeout > 0 {
		scoreCtx, cancel = context.WithTimeout(ctx, a.cfg.ScorerTimeout)
		defer cancel()
	}

	fs, err := sc.Score(scoreCtx, tenantID, businessID, asOf)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidBusiness),
			errors.Is(err, domain.ErrUpstreamUnavailable):
			return domain.FactorScore{}, err
		case errors.Is(err, domain.ErrDataUnavailable),
			errors.Is(err, context.DeadlineExceeded):
			a.logger.WarnContext(ctx, "scorer degraded to neutral",
				"factor", sc.Name(),
				"business_id", businessID,
				"error", err,
			)
			return domain.FactorScore{
				Factor:     sc.Name(),
				Score:      domain.NeutralScore,
				Degraded:   true,
				ComputedAt: asOf,
			}, nil
		default:
			return domain.FactorScore{}, fmt.Errorf("scorer %s: %w", sc.Name(), err)
		}
	}

	// Degraded substitutes are not worth caching; real scores are.
	if data, err := json.Marshal(fs); err == nil {
		_ = a.cache.Set(ctx, tenantID, key, data, a.ttl)
	}
	return fs, nil
}

func (a *Assessor) cachedAssessment(ctx context.Context, tenantID, businessID string) *domain.RiskAssessment {
	data, err := a.cache.Get(ctx, tenantID, domain.AssessmentKey(businessID))
	if err != nil || data == nil {
		return nil
	}
	var assessment domain.RiskAssessment
	if err := json.Unmarshal(data, &assessment); err != nil {
		return nil
	}
	return &assessment
}

func (a *Assessor) cacheAssessment(ctx context.Context, tenantID string, assessment *domain.RiskAssessment) {
	data, err := json.Marshal(assessment)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, tenantID, domain.AssessmentKey(assessment.BusinessID), data, a.ttl); err != nil {
		a.logger.WarnContext(ctx, "failed to cache assessment",
			"business_id", assessment.BusinessID, "error", err)
	}
}

// buildExplanation names the heaviest weighted contributors so the composite
// is auditable at a glance.
func buildExplanation(scores []domain.FactorScore, weights map[string]float64) string {
	type contrib struct {
		factor string
		value  float64
		score  float64
	}
	contribs := make([]contrib, 0, len(scores))
	for _, fs := range scores {
		contribs = append(contribs, contrib{
			factor: fs.Factor,
			value:  weights[fs.Factor] * fs.Score,
			score:  fs.Score,
		})
	}
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].value > contribs[j].value })

	if len(contribs) == 0 {
		return "no factors computed"
	}

	top := contribs[0]
	out := fmt.Sprintf("driven primarily by %s (score %.0f, weight %.0f%%)",
		top.factor, top.score, weights[top.factor]*100)
	if len(contribs) > 1 && contribs[1].value > 0 {
		second := contribs[1]
		out += fmt.Sprintf(", then %s (score %.0f, weight %.0f%%)",
			second.factor, second.score, weights[second.factor]*100)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
