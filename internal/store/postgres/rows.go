package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

// Row types mirror table columns for sqlx scanning. Nullable reference
// columns are selected through COALESCE so they scan into plain strings.

type productRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	PriceCents int64     `db:"price_cents"`
	StockQty   int       `db:"stock_qty"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r productRow) domain() domain.Product {
	return domain.Product{ID: r.ID, Name: r.Name, PriceCents: r.PriceCents, StockQty: r.StockQty, UpdatedAt: r.UpdatedAt.UTC()}
}

const customerColumns = `id, name, phone, credit_limit_cents, total_outstanding_dues_cents,
	available_credit_cents, loyalty_points, current_balance_cents, created_at, updated_at`

type customerRow struct {
	ID                        string    `db:"id"`
	Name                      string    `db:"name"`
	Phone                     string    `db:"phone"`
	CreditLimitCents          int64     `db:"credit_limit_cents"`
	TotalOutstandingDuesCents int64     `db:"total_outstanding_dues_cents"`
	AvailableCreditCents      int64     `db:"available_credit_cents"`
	LoyaltyPoints             int64     `db:"loyalty_points"`
	CurrentBalanceCents       int64     `db:"current_balance_cents"`
	CreatedAt                 time.Time `db:"created_at"`
	UpdatedAt                 time.Time `db:"updated_at"`
}

func (r customerRow) domain() domain.Customer {
	return domain.Customer{
		ID:                        r.ID,
		Name:                      r.Name,
		Phone:                     r.Phone,
		CreditLimitCents:          r.CreditLimitCents,
		TotalOutstandingDuesCents: r.TotalOutstandingDuesCents,
		AvailableCreditCents:      r.AvailableCreditCents,
		LoyaltyPoints:             r.LoyaltyPoints,
		CurrentBalanceCents:       r.CurrentBalanceCents,
		CreatedAt:                 r.CreatedAt.UTC(),
		UpdatedAt:                 r.UpdatedAt.UTC(),
	}
}

const saleColumns = `id, receipt_number, COALESCE(customer_id, '') AS customer_id, total_amount_cents,
	payment_method, payment_status, return_status, sale_date, created_by`

type saleRow struct {
	ID               string    `db:"id"`
	ReceiptNumber    string    `db:"receipt_number"`
	CustomerID       string    `db:"customer_id"`
	TotalAmountCents int64     `db:"total_amount_cents"`
	PaymentMethod    string    `db:"payment_method"`
	PaymentStatus    string    `db:"payment_status"`
	ReturnStatus     string    `db:"return_status"`
	SaleDate         time.Time `db:"sale_date"`
	CreatedBy        string    `db:"created_by"`
}

func (r saleRow) domain(items []domain.SaleItem) domain.Sale {
	return domain.Sale{
		ID:               r.ID,
		ReceiptNumber:    r.ReceiptNumber,
		CustomerID:       r.CustomerID,
		TotalAmountCents: r.TotalAmountCents,
		PaymentMethod:    r.PaymentMethod,
		PaymentStatus:    r.PaymentStatus,
		ReturnStatus:     r.ReturnStatus,
		SaleDate:         r.SaleDate.UTC(),
		CreatedBy:        r.CreatedBy,
		Items:            items,
	}
}

const saleItemColumns = `id, sale_id, product_id, quantity, unit_price_cents, returned_quantity, is_returned`

type saleItemRow struct {
	ID               string `db:"id"`
	SaleID           string `db:"sale_id"`
	ProductID        string `db:"product_id"`
	Quantity         int    `db:"quantity"`
	UnitPriceCents   int64  `db:"unit_price_cents"`
	ReturnedQuantity int    `db:"returned_quantity"`
	IsReturned       bool   `db:"is_returned"`
}

func (r saleItemRow) domain() domain.SaleItem {
	return domain.SaleItem(r)
}

const returnColumns = `id, sale_id, COALESCE(customer_id, '') AS customer_id, reason, status,
	refund_amount_cents, refund_method, processed_by, notes, created_at`

type returnRow struct {
	ID                string    `db:"id"`
	SaleID            string    `db:"sale_id"`
	CustomerID        string    `db:"customer_id"`
	Reason            string    `db:"reason"`
	Status            string    `db:"status"`
	RefundAmountCents int64     `db:"refund_amount_cents"`
	RefundMethod      string    `db:"refund_method"`
	ProcessedBy       string    `db:"processed_by"`
	Notes             string    `db:"notes"`
	CreatedAt         time.Time `db:"created_at"`
}

func (r returnRow) domain(items []domain.ReturnItem) domain.Return {
	return domain.Return{
		ID:                r.ID,
		SaleID:            r.SaleID,
		CustomerID:        r.CustomerID,
		Reason:            r.Reason,
		Status:            r.Status,
		RefundAmountCents: r.RefundAmountCents,
		RefundMethod:      domain.RefundMethod(r.RefundMethod),
		ProcessedBy:       r.ProcessedBy,
		Notes:             r.Notes,
		CreatedAt:         r.CreatedAt.UTC(),
		Items:             items,
	}
}

const returnItemColumns = `id, return_id, sale_item_id, product_id, quantity, unit_price_cents, refund_price_cents, condition`

type returnItemRow struct {
	ID               string `db:"id"`
	ReturnID         string `db:"return_id"`
	SaleItemID       string `db:"sale_item_id"`
	ProductID        string `db:"product_id"`
	Quantity         int    `db:"quantity"`
	UnitPriceCents   int64  `db:"unit_price_cents"`
	RefundPriceCents int64  `db:"refund_price_cents"`
	Condition        string `db:"condition"`
}

func (r returnItemRow) domain() domain.ReturnItem {
	return domain.ReturnItem(r)
}

const refundColumns = `id, return_id, sale_id, COALESCE(customer_id, '') AS customer_id, amount_cents,
	applied_to_due_cents, paid_out_cents, payment_method, status, created_at`

type refundRow struct {
	ID                string    `db:"id"`
	ReturnID          string    `db:"return_id"`
	SaleID            string    `db:"sale_id"`
	CustomerID        string    `db:"customer_id"`
	AmountCents       int64     `db:"amount_cents"`
	AppliedToDueCents int64     `db:"applied_to_due_cents"`
	PaidOutCents      int64     `db:"paid_out_cents"`
	PaymentMethod     string    `db:"payment_method"`
	Status            string    `db:"status"`
	CreatedAt         time.Time `db:"created_at"`
}

func (r refundRow) domain() domain.RefundTransaction {
	return domain.RefundTransaction{
		ID:                r.ID,
		ReturnID:          r.ReturnID,
		SaleID:            r.SaleID,
		CustomerID:        r.CustomerID,
		AmountCents:       r.AmountCents,
		AppliedToDueCents: r.AppliedToDueCents,
		PaidOutCents:      r.PaidOutCents,
		PaymentMethod:     domain.RefundMethod(r.PaymentMethod),
		Status:            r.Status,
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

const bnplColumns = `id, sale_id, customer_id, original_amount_cents, amount_paid_cents, amount_due_cents,
	return_credit_cents, due_date, status, loyalty_awarded, created_at, updated_at`

type bnplRow struct {
	ID                  string    `db:"id"`
	SaleID              string    `db:"sale_id"`
	CustomerID          string    `db:"customer_id"`
	OriginalAmountCents int64     `db:"original_amount_cents"`
	AmountPaidCents     int64     `db:"amount_paid_cents"`
	AmountDueCents      int64     `db:"amount_due_cents"`
	ReturnCreditCents   int64     `db:"return_credit_cents"`
	DueDate             time.Time `db:"due_date"`
	Status              string    `db:"status"`
	LoyaltyAwarded      bool      `db:"loyalty_awarded"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r bnplRow) domain() domain.BnplTransaction {
	return domain.BnplTransaction{
		ID:                  r.ID,
		SaleID:              r.SaleID,
		CustomerID:          r.CustomerID,
		OriginalAmountCents: r.OriginalAmountCents,
		AmountPaidCents:     r.AmountPaidCents,
		AmountDueCents:      r.AmountDueCents,
		ReturnCreditCents:   r.ReturnCreditCents,
		DueDate:             r.DueDate.UTC(),
		Status:              r.Status,
		LoyaltyAwarded:      r.LoyaltyAwarded,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

const bnplPaymentColumns = `id, bnpl_id, amount_cents, payment_method, receipt_number, remaining_after_cents,
	processed_by, idempotency_key, created_at`

type bnplPaymentRow struct {
	ID                  string    `db:"id"`
	BnplID              string    `db:"bnpl_id"`
	AmountCents         int64     `db:"amount_cents"`
	PaymentMethod       string    `db:"payment_method"`
	ReceiptNumber       string    `db:"receipt_number"`
	RemainingAfterCents int64     `db:"remaining_after_cents"`
	ProcessedBy         string    `db:"processed_by"`
	IdempotencyKey      string    `db:"idempotency_key"`
	CreatedAt           time.Time `db:"created_at"`
}

func (r bnplPaymentRow) domain() domain.BnplPayment {
	p := domain.BnplPayment(r)
	p.CreatedAt = p.CreatedAt.UTC()
	return p
}

const cashEntryColumns = `id, fund, transaction_type, amount_cents, reference_id, reference_type,
	COALESCE(transfer_id, '') AS transfer_id, description, created_by, transaction_date`

type cashEntryRow struct {
	ID              string    `db:"id"`
	Fund            string    `db:"fund"`
	TransactionType string    `db:"transaction_type"`
	AmountCents     int64     `db:"amount_cents"`
	ReferenceID     string    `db:"reference_id"`
	ReferenceType   string    `db:"reference_type"`
	TransferID      string    `db:"transfer_id"`
	Description     string    `db:"description"`
	CreatedBy       string    `db:"created_by"`
	TransactionDate time.Time `db:"transaction_date"`
}

func (r cashEntryRow) domain() domain.CashLedgerEntry {
	e := domain.CashLedgerEntry(r)
	e.TransactionDate = e.TransactionDate.UTC()
	return e
}

type expenseRow struct {
	ID          string    `db:"id"`
	Fund        string    `db:"fund"`
	AmountCents int64     `db:"amount_cents"`
	Category    string    `db:"category"`
	Description string    `db:"description"`
	CreatedBy   string    `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r expenseRow) domain() domain.Expense {
	e := domain.Expense(r)
	e.CreatedAt = e.CreatedAt.UTC()
	return e
}

type loyaltyRuleRow struct {
	Version           int             `db:"version"`
	PointsPerCurrency decimal.Decimal `db:"points_per_currency"`
	MinPurchaseCents  int64           `db:"min_purchase_cents"`
	Active            bool            `db:"active"`
	CreatedAt         time.Time       `db:"created_at"`
}

func (r loyaltyRuleRow) domain() domain.LoyaltyRule {
	rule := domain.LoyaltyRule(r)
	rule.CreatedAt = rule.CreatedAt.UTC()
	return rule
}

type loyaltyTxRow struct {
	ID                string          `db:"id"`
	CustomerID        string          `db:"customer_id"`
	SaleID            string          `db:"sale_id"`
	ReturnID          string          `db:"return_id"`
	PointsEarned      int64           `db:"points_earned"`
	PointsRedeemed    int64           `db:"points_redeemed"`
	RuleVersion       int             `db:"rule_version"`
	PointsPerCurrency decimal.Decimal `db:"points_per_currency"`
	CreatedAt         time.Time       `db:"created_at"`
}

func (r loyaltyTxRow) domain() domain.LoyaltyTransaction {
	t := domain.LoyaltyTransaction(r)
	t.CreatedAt = t.CreatedAt.UTC()
	return t
}

type stockMovementRow struct {
	ID            string    `db:"id"`
	ProductID     string    `db:"product_id"`
	MovementType  string    `db:"movement_type"`
	Quantity      int       `db:"quantity"`
	ReferenceID   string    `db:"reference_id"`
	ReferenceType string    `db:"reference_type"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r stockMovementRow) domain() domain.StockMovement {
	m := domain.StockMovement(r)
	m.CreatedAt = m.CreatedAt.UTC()
	return m
}

type idempotencyRow struct {
	Key         string    `db:"key"`
	Operation   string    `db:"operation"`
	Fingerprint string    `db:"fingerprint"`
	ResourceID  string    `db:"resource_id"`
	Response    []byte    `db:"response"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r idempotencyRow) domain() domain.IdempotencyRecord {
	rec := domain.IdempotencyRecord(r)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec
}

func mapRows[R any, T any](rows []R, conv func(R) T) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, conv(r))
	}
	return out
}
