// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying handle so sibling stores (SQL graph facade,
// alert store) can share one connection pool and schema.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// Driver returns the configured driver name.
func (r *SQLRepository) Driver() string {
	return r.driver
}

// SaveEntity stores a graph node row with tenant isolation.
func (r *SQLRepository) SaveEntity(ctx context.Context, tenantID string, e *domain.Entity) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	props, _ := json.Marshal(e.Properties)

	query := `
		INSERT INTO entities (id, tenant_id, label, name, properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			label = excluded.label,
			name = excluded.name,
			properties = excluded.properties
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, tenantID, string(e.Label), e.Name, string(props),
	)
	return err
}

// SaveRelationship stores a graph edge row with tenant isolation.
func (r *SQLRepository) SaveRelationship(ctx context.Context, tenantID string, rel *domain.Relationship) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	props, _ := json.Marshal(rel.Properties)

	query := `
		INSERT INTO relationships (tenant_id, from_id, to_id, type, properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, from_id, to_id, type) DO UPDATE SET
			properties = excluded.properties
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, rel.FromID, rel.ToID, string(rel.Type), string(props),
	)
	return err
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (id, tenant_id, type, payer_id, payee_id, amount, currency, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.Type, tx.PayerID, tx.PayeeID,
		tx.Amount, tx.Currency, tx.Timestamp,
	)
	return err
}

// ListTransactions returns transactions where the business is either party,
// newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string, businessID string, from, to time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, type, payer_id, payee_id, amount, currency, timestamp
		FROM transactions
		WHERE tenant_id = ?
		  AND (payer_id = ? OR payee_id = ?)
		  AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, businessID, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.Type, &tx.PayerID, &tx.PayeeID,
			&tx.Amount, &tx.Currency, &tx.Timestamp,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveInvoice stores an invoice with tenant isolation.
func (r *SQLRepository) SaveInvoice(ctx context.Context, tenantID string, inv *domain.Invoice) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO invoices (id, tenant_id, issuer_id, counterparty_id, number, amount, currency, issued_at, due_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, tenantID, inv.IssuerID, inv.CounterpartyID, inv.Number,
		inv.Amount, inv.Currency, inv.IssuedAt, inv.DueAt, inv.SettledAt,
	)
	return err
}

// ListInvoicesIssued returns invoices the business issued in the period,
// oldest first.
func (r *SQLRepository) ListInvoicesIssued(ctx context.Context, tenantID string, businessID string, from, to time.Time) ([]*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, issuer_id, counterparty_id, number, amount, currency, issued_at, due_at, settled_at
		FROM invoices
		WHERE tenant_id = ? AND issuer_id = ?
		  AND issued_at >= ? AND issued_at < ?
		ORDER BY issued_at
	`

	return r.scanInvoices(ctx, r.rebind(query), tenantID, businessID, from, to)
}

// ListPayables returns invoices issued against the business since the given
// time, settled or not, oldest first.
func (r *SQLRepository) ListPayables(ctx context.Context, tenantID string, businessID string, since time.Time) ([]*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, issuer_id, counterparty_id, number, amount, currency, issued_at, due_at, settled_at
		FROM invoices
		WHERE tenant_id = ? AND counterparty_id = ?
		  AND issued_at >= ?
		ORDER BY issued_at
	`

	return r.scanInvoices(ctx, r.rebind(query), tenantID, businessID, since)
}

func (r *SQLRepository) scanInvoices(ctx context.Context, query string, args ...any) ([]*domain.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		var settled sql.NullTime
		if err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.IssuerID, &inv.CounterpartyID, &inv.Number,
			&inv.Amount, &inv.Currency, &inv.IssuedAt, &inv.DueAt, &settled,
		); err != nil {
			return nil, err
		}
		if settled.Valid {
			t := settled.Time
			inv.SettledAt = &t
		}
		invoices = append(invoices, &inv)
	}

	return invoices, rows.Err()
}

// SupplierSpend aggregates outbound spend per payee, largest first.
func (r *SQLRepository) SupplierSpend(ctx context.Context, tenantID string, businessID string, since time.Time) ([]domain.SpendShare, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payee_id, SUM(amount) AS total
		FROM transactions
		WHERE tenant_id = ? AND payer_id = ? AND timestamp >= ?
		GROUP BY payee_id
		ORDER BY total DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, businessID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []domain.SpendShare
	for rows.Next() {
		var s domain.SpendShare
		if err := rows.Scan(&s.SupplierID, &s.Total); err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}

	return shares, rows.Err()
}

// MonthlyFlows aggregates per-month inflow/outflow for the trailing number
// of months, oldest first. Aggregation happens in Go so the query stays
// portable across SQLite and PostgreSQL date functions.
func (r *SQLRepository) MonthlyFlows(ctx context.Context, tenantID string, businessID string, months int) ([]domain.MonthlyFlow, error) {
	if months <= 0 {
		months = 6
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	txs, err := r.ListTransactions(ctx, tenantID, businessID, start, now)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[time.Time]*domain.MonthlyFlow)
	for _, tx := range txs {
		m := time.Date(tx.Timestamp.Year(), tx.Timestamp.Month(), 1, 0, 0, 0, 0, time.UTC)
		flow, ok := byMonth[m]
		if !ok {
			flow = &domain.MonthlyFlow{Month: m}
			byMonth[m] = flow
		}
		if tx.PayeeID == businessID {
			flow.Inflow += tx.Amount
		}
		if tx.PayerID == businessID {
			flow.Outflow += tx.Amount
		}
	}

	// Emit a row for every month in range, zero-filled where quiet.
	flows := make([]domain.MonthlyFlow, 0, months)
	for i := 0; i < months; i++ {
		m := start.AddDate(0, i, 0)
		if flow, ok := byMonth[m]; ok {
			flows = append(flows, *flow)
		} else {
			flows = append(flows, domain.MonthlyFlow{Month: m})
		}
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].Month.Before(flows[j].Month) })
	return flows, nil
}

// SaveAssessment appends an assessment to the history. Never updates.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.RiskAssessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}

	degraded := 0
	if a.Degraded {
		degraded = 1
	}

	query := `
		INSERT INTO risk_assessments (id, tenant_id, business_id, composite_score, factors, explanation, degraded, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.BusinessID, a.CompositeScore,
		string(factors), a.Explanation, degraded, a.Timestamp,
	)
	return err
}

// ListAssessments returns assessment history for a business, newest first.
func (r *SQLRepository) ListAssessments(ctx context.Context, tenantID string, businessID string, limit int) ([]*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, business_id, composite_score, factors, explanation, degraded, timestamp
		FROM risk_assessments
		WHERE tenant_id = ? AND business_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.RiskAssessment
	for rows.Next() {
		var a domain.RiskAssessment
		var factors string
		var degraded int

		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.BusinessID, &a.CompositeScore,
			&factors, &a.Explanation, &degraded, &a.Timestamp,
		); err != nil {
			return nil, err
		}

		a.Degraded = degraded == 1
		if err := json.Unmarshal([]byte(factors), &a.Factors); err != nil {
			return nil, fmt.Errorf("failed to parse factors for %s: %w", a.ID, err)
		}
		assessments = append(assessments, &a)
	}

	return assessments, rows.Err()
}

// SaveRuleConfig stores a custom rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (id, tenant_id, name, description, version, expression, contribution, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			contribution = excluded.contribution,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Contribution, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, contribution, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.Contribution, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, contribution, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &cfg.Contribution, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

var _ domain.Repository = (*SQLRepository)(nil)
