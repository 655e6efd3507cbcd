package ledger

import "posledger/backend/internal/domain"

func AvailableCredit(limit int64, dues int64) int64 {
	if avail := limit - dues; avail > 0 {
		return avail
	}
	return 0
}

// AdjustDues shifts the customer's outstanding dues by delta and keeps
// available credit derived from it.
func AdjustDues(c domain.Customer, delta int64) domain.Customer {
	c.TotalOutstandingDuesCents += delta
	if c.TotalOutstandingDuesCents < 0 {
		c.TotalOutstandingDuesCents = 0
	}
	c.AvailableCreditCents = AvailableCredit(c.CreditLimitCents, c.TotalOutstandingDuesCents)
	return c
}
