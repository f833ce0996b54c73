// Package quota meters free-tier validation usage.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// usageKey is the cache counter key for a tenant's rolling usage window.
const usageKey = "quota:free_checks"

// Service tracks free checks per tenant in a rolling window, backed by
// the cache's atomic counters (local LRU in Community, Redis in Pro).
type Service struct {
	cache  domain.Cache
	limit  int
	window time.Duration
}

// NewService creates a quota service from the deployment configuration.
func NewService(cache domain.Cache, cfg domain.QuotaConfig) *Service {
	limit := cfg.FreeCheckLimit
	if limit <= 0 {
		limit = 10
	}
	window := cfg.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Service{
		cache:  cache,
		limit:  limit,
		window: window,
	}
}

// Limit returns the configured free checks per window.
func (s *Service) Limit() int {
	return s.limit
}

// Remaining returns how many free checks the tenant has left in the
// current window. Never negative.
func (s *Service) Remaining(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	used, err := s.used(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	remaining := s.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Record counts one consumed free check.
func (s *Service) Record(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	_, err := s.cache.IncrementCounter(ctx, tenantID, usageKey, s.window)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// used reads the current usage count without consuming a check.
func (s *Service) used(ctx context.Context, tenantID string) (int, error) {
	count, err := s.cache.GetCounter(ctx, tenantID, usageKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return int(count), nil
}
