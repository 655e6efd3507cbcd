package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
)

// Reconcile compares the ledger's denormalised totals against their
// sources and reports every mismatch. It never repairs anything.
func (s *Service) Reconcile(ctx context.Context) (domain.ReconciliationReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ReconciliationReport{}, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	issues := ledger.Reconcile(snap)
	if issues == nil {
		issues = []domain.ConsistencyIssue{}
	}
	report := domain.ReconciliationReport{
		CheckedAt:  s.now(),
		Consistent: len(issues) == 0,
		Issues:     issues,
	}
	if !report.Consistent {
		s.logger.Warn("ledger reconciliation found issues", zap.Int("issues", len(issues)))
	}
	s.logAudit(ctx, "ledger_reconcile", "ledger", "all", fmt.Sprintf("issues=%d", len(issues)))
	return report, nil
}
