// Package loyalty computes loyalty points from an explicit, versioned rule.
package loyalty

import (
	"fmt"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

var centsPerUnit = decimal.NewFromInt(100)

// PointsFor returns floor(amount * rate) where amount is in currency units.
func PointsFor(rate decimal.Decimal, amountCents int64) int64 {
	if amountCents <= 0 || !rate.IsPositive() {
		return 0
	}
	amount := decimal.NewFromInt(amountCents).Div(centsPerUnit)
	return amount.Mul(rate).Floor().IntPart()
}

// Award returns the points a purchase earns under rule, or zero when the
// purchase is below the rule's minimum.
func Award(rule domain.LoyaltyRule, amountCents int64) int64 {
	if amountCents < rule.MinPurchaseCents {
		return 0
	}
	return PointsFor(rule.PointsPerCurrency, amountCents)
}

// Deduction is the number of points a refund claws back. It uses the rate
// the sale earned at, and never takes more than the customer holds or more
// than the sale still has outstanding.
func Deduction(rate decimal.Decimal, refundCents int64, balance int64, outstanding int64) int64 {
	points := PointsFor(rate, refundCents)
	if points > outstanding {
		points = outstanding
	}
	if points > balance {
		points = balance
	}
	if points < 0 {
		return 0
	}
	return points
}

// Earned summarizes a sale's loyalty rows: the row that awarded points
// and the points still outstanding after prior deductions. ok is false
// when the sale never earned points.
func Earned(rows []domain.LoyaltyTransaction) (earn domain.LoyaltyTransaction, outstanding int64, ok bool) {
	for _, row := range rows {
		if row.PointsEarned > 0 && !ok {
			earn = row
			ok = true
		}
		outstanding += row.PointsEarned - row.PointsRedeemed
	}
	if outstanding < 0 {
		outstanding = 0
	}
	return earn, outstanding, ok
}

// ParseRate validates a points-per-currency value from configuration or a request.
func ParseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid points per currency %q: %w", raw, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("points per currency must not be negative")
	}
	return rate, nil
}
