package ledger

import (
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// DeriveBnplStatus returns the stored status. Overdue is never stored; see
// EffectiveStatus.
func DeriveBnplStatus(b domain.BnplTransaction) string {
	switch {
	case b.AmountDueCents <= 0:
		return domain.BnplStatusPaid
	case b.AmountPaidCents > 0:
		return domain.BnplStatusPartiallyPaid
	default:
		return domain.BnplStatusPending
	}
}

// EffectiveStatus projects overdue at read time.
func EffectiveStatus(b domain.BnplTransaction, now time.Time) string {
	if b.Status != domain.BnplStatusPaid && now.After(b.DueDate) {
		return domain.BnplStatusOverdue
	}
	return b.Status
}

// Balanced reports whether paid, due and return credit add up to the
// original amount.
func Balanced(b domain.BnplTransaction) bool {
	return b.AmountPaidCents+b.AmountDueCents+b.ReturnCreditCents == b.OriginalAmountCents &&
		b.AmountDueCents >= 0 && b.AmountPaidCents >= 0
}

func NewBnpl(id string, sale domain.Sale, customerID string, amount int64, dueDate time.Time, now time.Time) domain.BnplTransaction {
	b := domain.BnplTransaction{
		ID:                  id,
		SaleID:              sale.ID,
		CustomerID:          customerID,
		OriginalAmountCents: amount,
		AmountDueCents:      amount,
		DueDate:             dueDate,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	b.Status = DeriveBnplStatus(b)
	return b
}

// ApplyPayment moves amount from due to paid.
func ApplyPayment(b domain.BnplTransaction, amount int64, now time.Time) (domain.BnplTransaction, error) {
	if b.Status == domain.BnplStatusPaid || b.AmountDueCents <= 0 {
		return b, store.ErrAlreadyFullyPaid
	}
	if amount <= 0 {
		return b, store.ErrInvalidAmount
	}
	if amount > b.AmountDueCents {
		return b, store.ErrAmountExceedsDue.WithMessage("amount %d exceeds remaining due %d", amount, b.AmountDueCents)
	}
	b.AmountPaidCents += amount
	b.AmountDueCents -= amount
	b.Status = DeriveBnplStatus(b)
	b.UpdatedAt = now
	return b, nil
}

// ApplyReturnCredit reduces the outstanding due by up to refund and
// reports how much was applied. Due never goes below zero.
func ApplyReturnCredit(b domain.BnplTransaction, refund int64, now time.Time) (domain.BnplTransaction, int64) {
	applied := refund
	if applied > b.AmountDueCents {
		applied = b.AmountDueCents
	}
	if applied <= 0 {
		return b, 0
	}
	b.AmountDueCents -= applied
	b.ReturnCreditCents += applied
	b.Status = DeriveBnplStatus(b)
	b.UpdatedAt = now
	return b, applied
}

// SalePaymentStatus mirrors a tracker's status onto its sale.
func SalePaymentStatus(b domain.BnplTransaction) string {
	switch b.Status {
	case domain.BnplStatusPaid:
		return domain.PaymentStatusPaid
	case domain.BnplStatusPartiallyPaid:
		return domain.PaymentStatusPartiallyPaid
	default:
		return domain.PaymentStatusPendingBnpl
	}
}

// ReturnSettledBasis is what a tracker closed by return credit rather than
// by a payment earns points on: the amount paid, limited to the value of
// the items the customer kept.
func ReturnSettledBasis(b domain.BnplTransaction, sale domain.Sale) int64 {
	basis := b.AmountPaidCents
	if net := NetSaleValue(sale); net < basis {
		basis = net
	}
	if basis < 0 {
		return 0
	}
	return basis
}
