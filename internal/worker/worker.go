// Package worker runs the async side of the pipeline: cache invalidation on
// ingestion events and background fraud scans requested over the bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
)

// Worker subscribes to the pipeline topics for a set of tenants.
type Worker struct {
	bus     domain.EventBus
	cache   domain.Cache
	scanner *fraud.Scanner
	logger  *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a worker over the bus, cache, and scanner.
func NewWorker(bus domain.EventBus, cache domain.Cache, scanner *fraud.Scanner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		cache:   cache,
		scanner: scanner,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes the worker for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenant(tenantID); err != nil {
			w.logger.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	w.logger.Info("workers started", "tenant_count", len(cfg.TenantIDs))
	return nil
}

func (w *Worker) startTenant(tenantID string) error {
	entitySub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEntityUpdated, func(ctx context.Context, msg *domain.Message) error {
		return w.handleEntityUpdated(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, entitySub)

	scanSub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicScanRequest, func(ctx context.Context, msg *domain.Message) error {
		return w.handleScanRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, scanSub)

	w.logger.Info("tenant worker started", "tenant_id", tenantID)
	return nil
}

// handleEntityUpdated drops every cached artifact for the changed business
// so the next read recomputes against fresh data.
func (w *Worker) handleEntityUpdated(ctx context.Context, tenantID string, msg *domain.Message) error {
	var event domain.EntityUpdatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.logger.Error("failed to parse entity event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.BusinessID == "" {
		return nil
	}

	for _, pattern := range domain.BusinessKeyPatterns(event.BusinessID) {
		if err := w.cache.Invalidate(ctx, tenantID, pattern); err != nil {
			w.logger.Error("cache invalidation failed",
				"business_id", event.BusinessID,
				"pattern", pattern,
				"error", err,
			)
			return err
		}
	}

	w.logger.Debug("cache invalidated",
		"tenant_id", tenantID,
		"business_id", event.BusinessID,
		"source", event.Source,
	)
	return nil
}

// handleScanRequest runs a background fraud scan and publishes the outcome.
func (w *Worker) handleScanRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	var event domain.ScanRequestEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.logger.Error("failed to parse scan request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.BusinessID == "" {
		return nil
	}

	start := time.Now()
	result, err := w.scanner.Scan(ctx, tenantID, event.BusinessID)
	if err != nil {
		w.logger.Error("background scan failed",
			"tenant_id", tenantID,
			"business_id", event.BusinessID,
			"error", err,
		)
		return err
	}

	payload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicScanCompleted, payload); err != nil {
		w.logger.Error("failed to publish scan completion",
			"business_id", event.BusinessID,
			"error", err,
		)
	}

	w.logger.Info("background scan completed",
		"tenant_id", tenantID,
		"business_id", event.BusinessID,
		"score", result.CompositeScore,
		"alert_open", result.Alert != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
