package domain

import (
	"context"
	"fmt"
	"time"
)

// Cache is the time-bounded memoization layer for scorer and detector
// outputs. Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
// Writes are idempotent overwrites; invalidation is explicit (driven by
// ingestion events) on top of TTL expiry.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, tenantID string, key string) error

	// Invalidate removes all keys matching a pattern. A trailing '*' acts
	// as a prefix glob; anything else is an exact match.
	Invalidate(ctx context.Context, tenantID string, pattern string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache key layout. One key per (business, factor-or-pattern), plus one for
// each composed artifact.

// FactorKey is the cache key for one factor score.
func FactorKey(businessID, factor string) string {
	return fmt.Sprintf("risk:factor:%s:%s", businessID, factor)
}

// PatternKey is the cache key for one detector's findings.
func PatternKey(businessID, pattern string) string {
	return fmt.Sprintf("fraud:pattern:%s:%s", businessID, pattern)
}

// AssessmentKey is the cache key for a composed risk assessment.
func AssessmentKey(businessID string) string {
	return fmt.Sprintf("risk:assessment:%s", businessID)
}

// ScanKey is the cache key for a composed fraud scan result.
func ScanKey(businessID string) string {
	return fmt.Sprintf("fraud:scan:%s", businessID)
}

// BusinessKeyPatterns returns the invalidation patterns covering every
// cached artifact for one business.
func BusinessKeyPatterns(businessID string) []string {
	return []string{
		"risk:factor:" + businessID + ":*",
		"fraud:pattern:" + businessID + ":*",
		AssessmentKey(businessID),
		ScanKey(businessID),
	}
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// TTL applied to scorer and detector entries.
	TTL time.Duration

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
