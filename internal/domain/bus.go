package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the intelligence pipeline.
const (
	// TopicEntityUpdated is published by ingestion when graph data for a
	// business changed; the worker invalidates cached scores for it.
	TopicEntityUpdated = "kestrel.entity.updated"

	// TopicScanRequest asks the worker to run an async fraud scan.
	TopicScanRequest = "kestrel.scan.request"

	// TopicScanCompleted carries the result of an async scan.
	TopicScanCompleted = "kestrel.scan.completed"

	// TopicAlertRaised is published when a scan opens or updates an alert.
	TopicAlertRaised = "kestrel.alert.raised"
)

// EntityUpdatedEvent is the payload on TopicEntityUpdated.
type EntityUpdatedEvent struct {
	BusinessID string `json:"businessId"`
	Source     string `json:"source,omitempty"`
}

// ScanRequestEvent is the payload on TopicScanRequest.
type ScanRequestEvent struct {
	BusinessID string `json:"businessId"`
	TraceID    string `json:"traceId,omitempty"`
}
