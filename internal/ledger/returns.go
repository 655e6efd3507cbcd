// Package ledger holds the pure rules of the order ledger: return
// eligibility and planning, BNPL balance arithmetic, customer credit and
// reconciliation. Nothing here touches storage.
package ledger

import (
	"errors"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

const (
	ReasonEligible         = "Eligible for return"
	ReasonSaleNotFound     = "Sale not found"
	ReasonSaleNotPaid      = "Sale is not paid"
	ReasonWindowExpired    = "Return window expired"
	ReasonAllItemsReturned = "All items already returned"
)

// DaysSince counts whole days elapsed between at and now.
func DaysSince(at time.Time, now time.Time) int {
	if now.Before(at) {
		return 0
	}
	return int(now.Sub(at) / (24 * time.Hour))
}

// WindowExpired reports whether more than windowDays have passed since the sale.
func WindowExpired(saleDate time.Time, now time.Time, windowDays int) bool {
	return now.Sub(saleDate) > time.Duration(windowDays)*24*time.Hour
}

// CheckReturnable applies the sale-level preconditions in their fixed order.
// A refunded sale was paid before its items came back, so it passes the
// payment check and fails on the exhausted items instead.
func CheckReturnable(sale domain.Sale, now time.Time, windowDays int) error {
	switch sale.PaymentStatus {
	case domain.PaymentStatusPaid, domain.PaymentStatusPartiallyPaid, domain.PaymentStatusRefunded:
	default:
		return store.ErrSaleNotPaid
	}
	if WindowExpired(sale.SaleDate, now, windowDays) {
		return store.ErrReturnWindowExpired.WithMessage("return window of %d days expired", windowDays)
	}
	for _, item := range sale.Items {
		if item.Returnable() > 0 {
			return nil
		}
	}
	return store.ErrNoReturnableItems
}

// Eligibility is the read-only form of CheckReturnable. A nil sale means
// the lookup found nothing.
func Eligibility(sale *domain.Sale, saleID string, now time.Time, windowDays int) domain.ReturnEligibility {
	result := domain.ReturnEligibility{SaleID: saleID, ReturnWindowDays: windowDays}
	if sale == nil {
		result.Reason = ReasonSaleNotFound
		return result
	}
	result.DaysSinceSale = DaysSince(sale.SaleDate, now)

	err := CheckReturnable(*sale, now, windowDays)
	switch {
	case err == nil:
		result.Eligible = true
		result.Reason = ReasonEligible
	case errors.Is(err, store.ErrSaleNotPaid):
		result.Reason = ReasonSaleNotPaid
	case errors.Is(err, store.ErrReturnWindowExpired):
		result.Reason = ReasonWindowExpired
	default:
		result.Reason = ReasonAllItemsReturned
	}
	return result
}

type PlannedLine struct {
	Item        domain.SaleItem
	Quantity    int
	Condition   string
	RefundCents int64
}

type ReturnPlan struct {
	Lines      []PlannedLine
	TotalCents int64
}

// PlanReturn validates requested lines against the sale's items and prices
// them at the original unit price. Lines naming the same sale item are
// checked against the remaining quantity together.
func PlanReturn(sale domain.Sale, lines []domain.ReturnLine) (ReturnPlan, error) {
	if len(lines) == 0 {
		return ReturnPlan{}, store.ErrInvalidRequest.WithMessage("at least one return item is required")
	}

	items := make(map[string]domain.SaleItem, len(sale.Items))
	for _, item := range sale.Items {
		items[item.ID] = item
	}

	requested := make(map[string]int, len(lines))
	plan := ReturnPlan{Lines: make([]PlannedLine, 0, len(lines))}
	for _, line := range lines {
		item, ok := items[line.SaleItemID]
		if !ok {
			return ReturnPlan{}, store.ErrInvalidRequest.WithMessage("sale item %s does not belong to sale %s", line.SaleItemID, sale.ID)
		}
		if line.Quantity < 1 {
			return ReturnPlan{}, store.ErrInvalidRequest.WithMessage("return quantity must be positive")
		}
		condition := line.Condition
		if condition == "" {
			condition = domain.ConditionGood
		}
		if !domain.IsValidCondition(condition) {
			return ReturnPlan{}, store.ErrInvalidRequest.WithMessage("unknown item condition %q", line.Condition)
		}

		requested[item.ID] += line.Quantity
		if requested[item.ID] > item.Returnable() {
			return ReturnPlan{}, store.ErrQuantityExceedsReturnable.WithMessage(
				"sale item %s: requested %d, returnable %d", item.ID, requested[item.ID], item.Returnable())
		}

		refund := item.UnitPriceCents * int64(line.Quantity)
		plan.Lines = append(plan.Lines, PlannedLine{
			Item:        item,
			Quantity:    line.Quantity,
			Condition:   condition,
			RefundCents: refund,
		})
		plan.TotalCents += refund
	}
	return plan, nil
}

// DeriveReturnStatus is computed from item state, never stored independently.
func DeriveReturnStatus(items []domain.SaleItem) string {
	anyReturned := false
	allReturned := len(items) > 0
	for _, item := range items {
		if item.ReturnedQuantity > 0 {
			anyReturned = true
		}
		if item.ReturnedQuantity < item.Quantity {
			allReturned = false
		}
	}
	switch {
	case allReturned:
		return domain.SaleReturnFull
	case anyReturned:
		return domain.SaleReturnPartial
	default:
		return domain.SaleReturnNone
	}
}

// NetSaleValue is the value of the items not yet returned.
func NetSaleValue(sale domain.Sale) int64 {
	var total int64
	for _, item := range sale.Items {
		total += int64(item.Quantity-item.ReturnedQuantity) * item.UnitPriceCents
	}
	return total
}
