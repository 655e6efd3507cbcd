package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/loyalty"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// EnsureLoyaltyRule installs the configured rule as version 1 when no rule
// is active yet. An existing active rule is left untouched.
func (s *Service) EnsureLoyaltyRule(ctx context.Context, pointsPerCurrency string, minPurchaseCents int64) (domain.LoyaltyRule, error) {
	rate, err := loyalty.ParseRate(pointsPerCurrency)
	if err != nil {
		return domain.LoyaltyRule{}, store.ErrInvalidRequest.WithMessage("%v", err)
	}
	if minPurchaseCents < 0 {
		return domain.LoyaltyRule{}, store.ErrInvalidRequest.WithMessage("min_purchase_cents must not be negative")
	}

	var rule domain.LoyaltyRule
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		active, err := tx.ActiveLoyaltyRule()
		if err == nil {
			rule = *active
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		rule, err = tx.InsertLoyaltyRule(domain.LoyaltyRule{
			PointsPerCurrency: rate,
			MinPurchaseCents:  minPurchaseCents,
			Active:            true,
			CreatedAt:         s.now(),
		})
		return err
	})
	return rule, err
}

// CreateLoyaltyRule publishes a new rule version. Sales already awarded
// keep the version and rate they earned under.
func (s *Service) CreateLoyaltyRule(ctx context.Context, req domain.LoyaltyRuleCreateRequest) (domain.LoyaltyRule, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.LoyaltyRule{}, err
	}
	rate, err := loyalty.ParseRate(req.PointsPerCurrency)
	if err != nil {
		return domain.LoyaltyRule{}, store.ErrInvalidRequest.WithMessage("%v", err)
	}
	if req.MinPurchaseCents < 0 {
		return domain.LoyaltyRule{}, store.ErrInvalidRequest.WithMessage("min_purchase_cents must not be negative")
	}

	var rule domain.LoyaltyRule
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		rule, err = tx.InsertLoyaltyRule(domain.LoyaltyRule{
			PointsPerCurrency: rate,
			MinPurchaseCents:  req.MinPurchaseCents,
			Active:            true,
			CreatedAt:         s.now(),
		})
		return err
	})
	if err != nil {
		return domain.LoyaltyRule{}, err
	}

	s.logAudit(ctx, "loyalty_rule_create", "loyalty_rule", fmt.Sprintf("v%d", rule.Version),
		fmt.Sprintf("rate=%s,min=%d", rule.PointsPerCurrency.String(), rule.MinPurchaseCents))
	return rule, nil
}

func (s *Service) ActiveLoyaltyRule(ctx context.Context) (domain.LoyaltyRule, error) {
	rule, err := s.repo.ActiveLoyaltyRule(ctx)
	if err != nil {
		return domain.LoyaltyRule{}, err
	}
	return *rule, nil
}

func (s *Service) ListLoyaltyRules(ctx context.Context) ([]domain.LoyaltyRule, error) {
	return s.repo.ListLoyaltyRules(ctx)
}

// awardLoyalty credits points for amountCents under the active rule and
// records the rule version and rate used.
func (s *Service) awardLoyalty(tx store.Tx, customer *domain.Customer, saleID string, amountCents int64, at time.Time) (int64, error) {
	rule, err := tx.ActiveLoyaltyRule()
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("no active loyalty rule, skipping award", zap.String("sale_id", saleID))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	points := loyalty.Award(*rule, amountCents)
	if points == 0 {
		return 0, nil
	}
	customer.LoyaltyPoints += points
	err = tx.InsertLoyaltyTransaction(domain.LoyaltyTransaction{
		ID:                xid.New("loy"),
		CustomerID:        customer.ID,
		SaleID:            saleID,
		PointsEarned:      points,
		RuleVersion:       rule.Version,
		PointsPerCurrency: rule.PointsPerCurrency,
		CreatedAt:         at,
	})
	return points, err
}

// deductLoyalty claws back points for a refund at the rate the sale earned.
func (s *Service) deductLoyalty(tx store.Tx, customer *domain.Customer, saleID string, returnID string, refundCents int64, at time.Time) (int64, error) {
	rows, err := tx.ListSaleLoyalty(saleID)
	if err != nil {
		return 0, err
	}
	earn, outstanding, ok := loyalty.Earned(rows)
	if !ok {
		return 0, nil
	}

	points := loyalty.Deduction(earn.PointsPerCurrency, refundCents, customer.LoyaltyPoints, outstanding)
	if points == 0 {
		return 0, nil
	}
	customer.LoyaltyPoints -= points
	err = tx.InsertLoyaltyTransaction(domain.LoyaltyTransaction{
		ID:                xid.New("loy"),
		CustomerID:        customer.ID,
		SaleID:            saleID,
		ReturnID:          returnID,
		PointsRedeemed:    points,
		RuleVersion:       earn.RuleVersion,
		PointsPerCurrency: earn.PointsPerCurrency,
		CreatedAt:         at,
	})
	return points, err
}
