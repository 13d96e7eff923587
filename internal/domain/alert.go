package domain

import "context"

// AlertStore persists fraud alerts. The engine constructs and updates the
// in-memory representation and issues upserts; the store owns durability.
//
// Upsert is optimistic: the alert's Version must match the stored version
// (0 for a new alert) or the store returns ErrAlertConflict. On success the
// returned alert carries the incremented version.
type AlertStore interface {
	// FindActive returns the single ACTIVE alert for a business, or
	// nil, nil when none exists.
	FindActive(ctx context.Context, tenantID string, businessID string) (*FraudAlert, error)

	// Upsert creates or updates an alert, enforcing at-most-one ACTIVE
	// alert per business.
	Upsert(ctx context.Context, tenantID string, alert *FraudAlert) (*FraudAlert, error)

	// Get returns an alert by id.
	Get(ctx context.Context, tenantID string, alertID string) (*FraudAlert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
