package store

import (
	"context"
	"time"

	"posledger/backend/internal/domain"
)

// Repository is the persistence boundary. Reads outside WithinTx see
// committed state only; every mutation goes through WithinTx.
type Repository interface {
	// WithinTx runs fn as one atomic unit of work. Nothing fn writes is
	// visible to other callers unless fn returns nil. A unit that fails with
	// ErrReceiptTaken is run again, so fn draws receipt numbers per run.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error)
	GetBnpl(ctx context.Context, id string) (*domain.BnplTransaction, error)
	ListBnplByCustomer(ctx context.Context, customerID string) ([]domain.BnplTransaction, error)
	ListBnplPayments(ctx context.Context, bnplID string) ([]domain.BnplPayment, error)
	CashBalance(ctx context.Context, fund string, at time.Time) (int64, error)
	ListCashEntries(ctx context.Context, fund string, limit int) ([]domain.CashLedgerEntry, error)
	ActiveLoyaltyRule(ctx context.Context) (*domain.LoyaltyRule, error)
	ListLoyaltyRules(ctx context.Context) ([]domain.LoyaltyRule, error)
	Snapshot(ctx context.Context) (domain.LedgerSnapshot, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is the write side of a unit of work. Lock* methods take row locks
// that are held until the unit of work ends; callers lock in the order
// sale, bnpl, customer.
type Tx interface {
	FindIdempotency(key string) (*domain.IdempotencyRecord, error)
	SaveIdempotency(record domain.IdempotencyRecord) error

	LockProducts(ids []string) (map[string]domain.Product, error)
	AdjustStock(productID string, delta int) error
	InsertStockMovement(movement domain.StockMovement) error

	InsertSale(sale domain.Sale) error
	LockSale(id string) (*domain.Sale, error)
	UpdateSaleStatus(id string, paymentStatus string, returnStatus string) error
	UpdateSaleItemReturned(itemID string, returnedQty int, isReturned bool) error

	InsertCustomer(customer domain.Customer) error
	LockCustomer(id string) (*domain.Customer, error)
	UpdateCustomer(customer domain.Customer) error

	InsertBnpl(bnpl domain.BnplTransaction) error
	LockBnpl(id string) (*domain.BnplTransaction, error)
	LockBnplBySale(saleID string) (*domain.BnplTransaction, error)
	UpdateBnpl(bnpl domain.BnplTransaction) error
	InsertBnplPayment(payment domain.BnplPayment) error
	// ActiveBnplDue sums amount_due over the customer's unpaid trackers.
	ActiveBnplDue(customerID string) (int64, error)

	InsertReturn(ret domain.Return) error
	InsertRefund(refund domain.RefundTransaction) error

	FindCashEntry(referenceID string, referenceType string, fund string) (*domain.CashLedgerEntry, error)
	InsertCashEntry(entry domain.CashLedgerEntry) error
	CashBalance(fund string, at time.Time) (int64, error)
	InsertExpense(expense domain.Expense) error

	ActiveLoyaltyRule() (*domain.LoyaltyRule, error)
	// InsertLoyaltyRule stores rule under the next version number and, when
	// it is active, deactivates every earlier version.
	InsertLoyaltyRule(rule domain.LoyaltyRule) (domain.LoyaltyRule, error)
	ListSaleLoyalty(saleID string) ([]domain.LoyaltyTransaction, error)
	InsertLoyaltyTransaction(entry domain.LoyaltyTransaction) error
}
