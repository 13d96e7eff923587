package domain

import (
	"context"
	"time"
)

// Repository is the relational store behind the engine: transactions,
// invoices, assessment history, and tenant rule configs. All methods
// require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Entity and relationship rows back the SQL graph facade and seeding.
	SaveEntity(ctx context.Context, tenantID string, e *Entity) error
	SaveRelationship(ctx context.Context, tenantID string, r *Relationship) error

	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	ListTransactions(ctx context.Context, tenantID string, businessID string, from, to time.Time) ([]*Transaction, error)

	// Invoice operations
	SaveInvoice(ctx context.Context, tenantID string, inv *Invoice) error
	// ListInvoicesIssued returns invoices the business issued in the period.
	ListInvoicesIssued(ctx context.Context, tenantID string, businessID string, from, to time.Time) ([]*Invoice, error)
	// ListPayables returns invoices issued against the business since the
	// given time, settled or not.
	ListPayables(ctx context.Context, tenantID string, businessID string, since time.Time) ([]*Invoice, error)

	// SupplierSpend aggregates the business's outbound spend per payee.
	SupplierSpend(ctx context.Context, tenantID string, businessID string, since time.Time) ([]SpendShare, error)

	// MonthlyFlows returns per-month inflow/outflow aggregates for the
	// trailing number of months, oldest first.
	MonthlyFlows(ctx context.Context, tenantID string, businessID string, months int) ([]MonthlyFlow, error)

	// Assessment history: append-only, ordered by timestamp.
	SaveAssessment(ctx context.Context, tenantID string, a *RiskAssessment) error
	ListAssessments(ctx context.Context, tenantID string, businessID string, limit int) ([]*RiskAssessment, error)

	// Tenant rule configuration (custom fraud rules)
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
