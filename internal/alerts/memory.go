package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryStore is an in-memory AlertStore with the same optimistic-upsert
// semantics as the SQL store. Used in tests.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]map[string]*domain.FraudAlert // tenantID -> alertID -> alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]map[string]*domain.FraudAlert)}
}

func (s *MemoryStore) FindActive(ctx context.Context, tenantID string, businessID string) (*domain.FraudAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts[tenantID] {
		if a.BusinessID == businessID && a.Status == domain.AlertActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID string, alertID string) (*domain.FraudAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[tenantID][alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", alertID, domain.ErrInvalidBusiness)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, tenantID string, alert *domain.FraudAlert) (*domain.FraudAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alerts[tenantID] == nil {
		s.alerts[tenantID] = make(map[string]*domain.FraudAlert)
	}
	now := time.Now().UTC()

	if alert.Version == 0 {
		if _, exists := s.alerts[tenantID][alert.ID]; exists {
			return nil, fmt.Errorf("alert %s exists: %w", alert.ID, domain.ErrAlertConflict)
		}
		if alert.Status == domain.AlertActive {
			for _, a := range s.alerts[tenantID] {
				if a.BusinessID == alert.BusinessID && a.Status == domain.AlertActive {
					return nil, fmt.Errorf("active alert exists for %s: %w", alert.BusinessID, domain.ErrAlertConflict)
				}
			}
		}
		cp := *alert
		cp.TenantID = tenantID
		cp.Version = 1
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.alerts[tenantID][cp.ID] = &cp
		out := cp
		return &out, nil
	}

	stored, ok := s.alerts[tenantID][alert.ID]
	if !ok || stored.Version != alert.Version {
		return nil, fmt.Errorf("alert %s version %d: %w", alert.ID, alert.Version, domain.ErrAlertConflict)
	}
	cp := *alert
	cp.TenantID = tenantID
	cp.Version = alert.Version + 1
	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = now
	s.alerts[tenantID][cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ domain.AlertStore = (*MemoryStore)(nil)
