// Package alerts persists fraud alerts with optimistic concurrency. The
// partial unique index on (tenant_id, business_id) WHERE status = 'ACTIVE'
// is the hard backstop for the one-active-alert invariant; the version
// column catches concurrent writers before they reach it.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLStore implements domain.AlertStore over the repository's database.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates an alert store sharing the repository's pool.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// FindActive returns the single ACTIVE alert for a business, or nil when
// none exists.
func (s *SQLStore) FindActive(ctx context.Context, tenantID string, businessID string) (*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	query := s.rebind(`
		SELECT id, tenant_id, business_id, severity, composite_score, findings,
		       status, version, created_at, updated_at
		FROM fraud_alerts
		WHERE tenant_id = ? AND business_id = ? AND status = ?
	`)

	alert, err := s.scanOne(s.db.QueryRowContext(ctx, query, tenantID, businessID, string(domain.AlertActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return alert, err
}

// Get returns an alert by id.
func (s *SQLStore) Get(ctx context.Context, tenantID string, alertID string) (*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	query := s.rebind(`
		SELECT id, tenant_id, business_id, severity, composite_score, findings,
		       status, version, created_at, updated_at
		FROM fraud_alerts
		WHERE tenant_id = ? AND id = ?
	`)

	alert, err := s.scanOne(s.db.QueryRowContext(ctx, query, tenantID, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", alertID, domain.ErrInvalidBusiness)
	}
	return alert, err
}

// Upsert inserts a new alert (Version 0) or updates an existing one whose
// stored version matches. A lost race surfaces as ErrAlertConflict.
func (s *SQLStore) Upsert(ctx context.Context, tenantID string, alert *domain.FraudAlert) (*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	findings, err := json.Marshal(alert.Findings)
	if err != nil {
		return nil, fmt.Errorf("marshal findings: %w", err)
	}
	now := time.Now().UTC()

	if alert.Version == 0 {
		query := s.rebind(`
			INSERT INTO fraud_alerts (id, tenant_id, business_id, severity,
				composite_score, findings, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`)
		_, err := s.db.ExecContext(ctx, query,
			alert.ID, tenantID, alert.BusinessID, string(alert.Severity),
			alert.CompositeScore, string(findings), string(alert.Status), now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("active alert exists for %s: %w", alert.BusinessID, domain.ErrAlertConflict)
			}
			return nil, fmt.Errorf("insert alert: %w", err)
		}

		out := *alert
		out.TenantID = tenantID
		out.Version = 1
		out.CreatedAt = now
		out.UpdatedAt = now
		return &out, nil
	}

	query := s.rebind(`
		UPDATE fraud_alerts
		SET severity = ?, composite_score = ?, findings = ?, status = ?,
		    version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?
	`)
	res, err := s.db.ExecContext(ctx, query,
		string(alert.Severity), alert.CompositeScore, string(findings),
		string(alert.Status), now, tenantID, alert.ID, alert.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("alert %s version %d: %w", alert.ID, alert.Version, domain.ErrAlertConflict)
	}

	out := *alert
	out.TenantID = tenantID
	out.Version = alert.Version + 1
	out.UpdatedAt = now
	return &out, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op: the pool belongs to the repository.
func (s *SQLStore) Close() error {
	return nil
}

func (s *SQLStore) scanOne(row *sql.Row) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var severity, status, findings string

	err := row.Scan(&a.ID, &a.TenantID, &a.BusinessID, &severity, &a.CompositeScore,
		&findings, &status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	if err := json.Unmarshal([]byte(findings), &a.Findings); err != nil {
		return nil, fmt.Errorf("decode findings for alert %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
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

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "constraint failed: UNIQUE") || // modernc wording
		strings.Contains(msg, "duplicate key value") // postgres
}

var _ domain.AlertStore = (*SQLStore)(nil)
