package cache

import (
	"context"
	"time"

	"grocerp/backend/internal/domain"
)

// DashboardCache stores computed dashboard summaries per scope. A miss or a
// cache error never fails the caller; the summary is recomputed.
type DashboardCache interface {
	Get(ctx context.Context, key string) (*domain.DashboardSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.DashboardSummary, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// DashboardKey is the cache key for one dashboard scope ("all" or a branch id).
func DashboardKey(scope string) string {
	return "grocerp:dashboard:" + scope
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*domain.DashboardSummary, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *domain.DashboardSummary, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
