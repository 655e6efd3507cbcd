package cache

import (
	"context"
	"time"

	"posledger/backend/internal/domain"
)

// SummaryCache holds per-customer BNPL summaries. Writers invalidate the
// customer's entry after every committed change to their trackers.
type SummaryCache interface {
	Get(ctx context.Context, customerID string) (*domain.BnplSummary, bool, error)
	Set(ctx context.Context, customerID string, value *domain.BnplSummary, ttl time.Duration) error
	Delete(ctx context.Context, customerID string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.BnplSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.BnplSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Delete(_ context.Context, _ string) error {
	return nil
}

func summaryKey(customerID string) string {
	return "posledger:bnpl-summary:" + customerID
}
