package store

import (
	"errors"
	"fmt"
)

// Kind groups ledger failures by how a caller should react.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindPolicy      Kind = "policy"
	KindConsistency Kind = "consistency"
	KindPermission  Kind = "permission"
)

// Error is a typed ledger failure. Two errors match under errors.Is when
// their codes are equal, so a sentinel still matches after WithMessage.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

func newError(kind Kind, code string, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidRequest = newError(KindValidation, "invalid_request", "invalid request")
	ErrInvalidAmount  = newError(KindValidation, "invalid_amount", "amount must be greater than zero")

	ErrNotFound         = newError(KindNotFound, "not_found", "not found")
	ErrSaleNotFound     = newError(KindNotFound, "sale_not_found", "sale not found")
	ErrBnplNotFound     = newError(KindNotFound, "bnpl_not_found", "bnpl transaction not found")
	ErrCustomerNotFound = newError(KindNotFound, "customer_not_found", "customer not found")
	ErrProductNotFound  = newError(KindNotFound, "product_not_found", "product not found")

	ErrReturnWindowExpired       = newError(KindPolicy, "return_window_expired", "return window expired")
	ErrSaleNotPaid               = newError(KindPolicy, "sale_not_paid", "sale is not paid")
	ErrQuantityExceedsReturnable = newError(KindPolicy, "quantity_exceeds_returnable", "quantity exceeds returnable quantity")
	ErrNoReturnableItems         = newError(KindPolicy, "no_returnable_items", "all items already returned")
	ErrAlreadyFullyPaid          = newError(KindPolicy, "already_fully_paid", "bnpl transaction already fully paid")
	ErrAmountExceedsDue          = newError(KindPolicy, "amount_exceeds_due", "amount exceeds remaining due")
	ErrInsufficientCredit        = newError(KindPolicy, "insufficient_credit", "insufficient available credit")
	ErrInsufficientStock         = newError(KindPolicy, "insufficient_stock", "insufficient stock")
	ErrInsufficientFunds         = newError(KindPolicy, "insufficient_funds", "insufficient fund balance")
	ErrBnplExists                = newError(KindPolicy, "bnpl_exists", "sale already has a bnpl transaction")
	ErrIdempotencyConflict       = newError(KindPolicy, "idempotency_conflict", "idempotency key reused with a different request")
	ErrUsernameTaken             = newError(KindPolicy, "username_taken", "username already exists")

	ErrForbidden = newError(KindPermission, "forbidden", "admin role required")

	ErrConsistency     = newError(KindConsistency, "consistency_violation", "ledger consistency violation")
	ErrDuplicateEntry  = newError(KindConsistency, "duplicate_ledger_entry", "cash ledger entry already exists for reference")
	ErrDuplicateRecord = newError(KindConsistency, "duplicate_record", "record already exists")
	ErrReceiptTaken    = newError(KindConsistency, "receipt_taken", "receipt number already used")
)

// KindOf reports the kind of a ledger error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
