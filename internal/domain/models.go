package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentMethodCash         = "cash"
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodBnpl         = "bnpl"
)

const (
	PaymentStatusPaid          = "paid"
	PaymentStatusPartiallyPaid = "partially_paid"
	PaymentStatusPendingBnpl   = "pending_bnpl"
	PaymentStatusRefunded      = "refunded"
)

const (
	SaleReturnNone    = "none"
	SaleReturnPartial = "partial_return"
	SaleReturnFull    = "full_return"
)

const (
	ReturnStatePending   = "pending"
	ReturnStateApproved  = "approved"
	ReturnStateRejected  = "rejected"
	ReturnStateCompleted = "completed"
)

const (
	ConditionGood      = "good"
	ConditionDamaged   = "damaged"
	ConditionDefective = "defective"
)

const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

const (
	BnplStatusPending       = "pending"
	BnplStatusPartiallyPaid = "partially_paid"
	BnplStatusPaid          = "paid"
	BnplStatusOverdue       = "overdue"
)

const (
	FundMain      = "main"
	FundPettyCash = "petty_cash"
)

const (
	LedgerTypeSale        = "sale"
	LedgerTypeRefund      = "refund"
	LedgerTypeBnplPayment = "bnpl_payment"
	LedgerTypeExpense     = "expense"
	LedgerTypeTransferOut = "transfer_out"
	LedgerTypeTransferIn  = "transfer_in"
)

const (
	RefSale        = "sale"
	RefReturn      = "return"
	RefBnplPayment = "bnpl_payment"
	RefExpense     = "expense"
	RefTransferOut = "transfer_out"
	RefTransferIn  = "transfer_in"
)

const (
	MovementIn  = "in"
	MovementOut = "out"
)

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	StockQty   int       `json:"stock_qty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Customer struct {
	ID                        string    `json:"id"`
	Name                      string    `json:"name"`
	Phone                     string    `json:"phone,omitempty"`
	CreditLimitCents          int64     `json:"credit_limit_cents"`
	TotalOutstandingDuesCents int64     `json:"total_outstanding_dues_cents"`
	AvailableCreditCents      int64     `json:"available_credit_cents"`
	LoyaltyPoints             int64     `json:"loyalty_points"`
	CurrentBalanceCents       int64     `json:"current_balance_cents"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name             string `json:"name"`
	Phone            string `json:"phone,omitempty"`
	CreditLimitCents int64  `json:"credit_limit_cents"`
}

type SaleItem struct {
	ID               string `json:"id"`
	SaleID           string `json:"sale_id"`
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	UnitPriceCents   int64  `json:"unit_price_cents"`
	ReturnedQuantity int    `json:"returned_quantity"`
	IsReturned       bool   `json:"is_returned"`
}

// Returnable is the quantity still eligible for return.
func (i SaleItem) Returnable() int {
	if i.ReturnedQuantity >= i.Quantity {
		return 0
	}
	return i.Quantity - i.ReturnedQuantity
}

type Sale struct {
	ID               string     `json:"id"`
	ReceiptNumber    string     `json:"receipt_number"`
	CustomerID       string     `json:"customer_id,omitempty"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	PaymentMethod    string     `json:"payment_method"`
	PaymentStatus    string     `json:"payment_status"`
	ReturnStatus     string     `json:"return_status"`
	SaleDate         time.Time  `json:"sale_date"`
	CreatedBy        string     `json:"created_by"`
	Items            []SaleItem `json:"items"`
}

type SaleLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleCreateRequest struct {
	IdempotencyKey string     `json:"idempotency_key"`
	CustomerID     string     `json:"customer_id,omitempty"`
	PaymentMethod  string     `json:"payment_method"`
	Items          []SaleLine `json:"items"`
	SaleDate       *time.Time `json:"sale_date,omitempty"`
	BnplDueDate    *time.Time `json:"bnpl_due_date,omitempty"`
}

type SaleCreateResponse struct {
	Sale          Sale             `json:"sale"`
	Bnpl          *BnplTransaction `json:"bnpl,omitempty"`
	PointsAwarded int64            `json:"points_awarded"`
	Duplicate     bool             `json:"duplicate"`
}

type ReturnItem struct {
	ID               string `json:"id"`
	ReturnID         string `json:"return_id"`
	SaleItemID       string `json:"sale_item_id"`
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	UnitPriceCents   int64  `json:"unit_price_cents"`
	RefundPriceCents int64  `json:"refund_price_cents"`
	Condition        string `json:"condition"`
}

type Return struct {
	ID                string       `json:"id"`
	SaleID            string       `json:"sale_id"`
	CustomerID        string       `json:"customer_id,omitempty"`
	Reason            string       `json:"reason"`
	Status            string       `json:"status"`
	RefundAmountCents int64        `json:"refund_amount_cents"`
	RefundMethod      RefundMethod `json:"refund_method"`
	ProcessedBy       string       `json:"processed_by"`
	Notes             string       `json:"notes,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	Items             []ReturnItem `json:"items"`
}

type ReturnLine struct {
	SaleItemID string `json:"sale_item_id"`
	Quantity   int    `json:"quantity"`
	Condition  string `json:"condition"`
}

type ReturnRequest struct {
	IdempotencyKey string       `json:"idempotency_key"`
	SaleID         string       `json:"sale_id"`
	Items          []ReturnLine `json:"items"`
	Reason         string       `json:"reason"`
	RefundMethod   string       `json:"refund_method"`
	ProcessedBy    string       `json:"processed_by,omitempty"`
	Notes          string       `json:"notes,omitempty"`
}

type ReturnResponse struct {
	Success           bool         `json:"success"`
	Message           string       `json:"message"`
	ReturnID          string       `json:"return_id"`
	RefundID          string       `json:"refund_id"`
	RefundAmountCents int64        `json:"refund_amount_cents"`
	AppliedToDueCents int64        `json:"applied_to_due_cents"`
	PaidOutCents      int64        `json:"paid_out_cents"`
	RefundMethod      RefundMethod `json:"refund_method"`
	PointsDeducted    int64        `json:"points_deducted"`
	SaleReturnStatus  string       `json:"sale_return_status"`
	Return            Return       `json:"return"`
	Duplicate         bool         `json:"duplicate"`
}

type RefundTransaction struct {
	ID                string       `json:"id"`
	ReturnID          string       `json:"return_id,omitempty"`
	SaleID            string       `json:"sale_id,omitempty"`
	CustomerID        string       `json:"customer_id,omitempty"`
	AmountCents       int64        `json:"amount_cents"`
	AppliedToDueCents int64        `json:"applied_to_due_cents"`
	PaidOutCents      int64        `json:"paid_out_cents"`
	PaymentMethod     RefundMethod `json:"payment_method"`
	Status            string       `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
}

type ReturnEligibility struct {
	SaleID           string `json:"sale_id"`
	Eligible         bool   `json:"eligible"`
	Reason           string `json:"reason"`
	DaysSinceSale    int    `json:"days_since_sale"`
	ReturnWindowDays int    `json:"return_window_days"`
}

type ReturnableItem struct {
	SaleItemID         string `json:"sale_item_id"`
	ProductID          string `json:"product_id"`
	ProductName        string `json:"product_name"`
	Quantity           int    `json:"quantity"`
	ReturnedQuantity   int    `json:"returned_quantity"`
	ReturnableQuantity int    `json:"returnable_quantity"`
	UnitPriceCents     int64  `json:"unit_price_cents"`
}

type BnplTransaction struct {
	ID                  string    `json:"id"`
	SaleID              string    `json:"sale_id"`
	CustomerID          string    `json:"customer_id"`
	OriginalAmountCents int64     `json:"original_amount_cents"`
	AmountPaidCents     int64     `json:"amount_paid_cents"`
	AmountDueCents      int64     `json:"amount_due_cents"`
	ReturnCreditCents   int64     `json:"return_credit_cents"`
	DueDate             time.Time `json:"due_date"`
	Status              string    `json:"status"`
	LoyaltyAwarded      bool      `json:"loyalty_awarded"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type BnplCreateRequest struct {
	IdempotencyKey string     `json:"idempotency_key"`
	SaleID         string     `json:"sale_id"`
	CustomerID     string     `json:"customer_id,omitempty"`
	AmountCents    int64      `json:"amount_cents,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

type BnplCreateResponse struct {
	Bnpl      BnplTransaction `json:"bnpl"`
	Duplicate bool            `json:"duplicate"`
}

type BnplPayment struct {
	ID                  string    `json:"id"`
	BnplID              string    `json:"bnpl_id"`
	AmountCents         int64     `json:"amount_cents"`
	PaymentMethod       string    `json:"payment_method"`
	ReceiptNumber       string    `json:"receipt_number"`
	RemainingAfterCents int64     `json:"remaining_after_cents"`
	ProcessedBy         string    `json:"processed_by"`
	IdempotencyKey      string    `json:"idempotency_key"`
	CreatedAt           time.Time `json:"created_at"`
}

type BnplPaymentRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	BnplID         string `json:"bnpl_id"`
	AmountCents    int64  `json:"amount_cents"`
	PaymentMethod  string `json:"payment_method"`
	ProcessedBy    string `json:"processed_by,omitempty"`
}

type BnplPaymentResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	RemainingAmountCents int64  `json:"remaining_amount_cents"`
	PaymentID            string `json:"payment_id"`
	ReceiptNumber        string `json:"receipt_number"`
	Status               string `json:"status"`
	PointsAwarded        int64  `json:"points_awarded"`
	Duplicate            bool   `json:"duplicate"`
}

type BnplSummary struct {
	CustomerID            string `json:"customer_id"`
	CreditLimitCents      int64  `json:"credit_limit_cents"`
	TotalOutstandingCents int64  `json:"total_outstanding_cents"`
	AvailableCreditCents  int64  `json:"available_credit_cents"`
	ActiveCount           int    `json:"active_count"`
	OverdueCount          int    `json:"overdue_count"`
	OverdueAmountCents    int64  `json:"overdue_amount_cents"`
}

type CashLedgerEntry struct {
	ID              string    `json:"id"`
	Fund            string    `json:"fund"`
	TransactionType string    `json:"transaction_type"`
	AmountCents     int64     `json:"amount_cents"`
	ReferenceID     string    `json:"reference_id"`
	ReferenceType   string    `json:"reference_type"`
	TransferID      string    `json:"transfer_id,omitempty"`
	Description     string    `json:"description,omitempty"`
	CreatedBy       string    `json:"created_by"`
	TransactionDate time.Time `json:"transaction_date"`
}

type CashBalance struct {
	Fund         string    `json:"fund"`
	BalanceCents int64     `json:"balance_cents"`
	At           time.Time `json:"at"`
}

type Expense struct {
	ID          string    `json:"id"`
	Fund        string    `json:"fund"`
	AmountCents int64     `json:"amount_cents"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type ExpenseRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Fund           string `json:"fund"`
	AmountCents    int64  `json:"amount_cents"`
	Category       string `json:"category"`
	Description    string `json:"description,omitempty"`
}

type ExpenseResponse struct {
	Expense   Expense         `json:"expense"`
	Entry     CashLedgerEntry `json:"entry"`
	Duplicate bool            `json:"duplicate"`
}

type TransferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	FromFund       string `json:"from_fund"`
	ToFund         string `json:"to_fund"`
	AmountCents    int64  `json:"amount_cents"`
	Description    string `json:"description,omitempty"`
}

type TransferResponse struct {
	TransferID string          `json:"transfer_id"`
	Out        CashLedgerEntry `json:"out"`
	In         CashLedgerEntry `json:"in"`
	Duplicate  bool            `json:"duplicate"`
}

// LoyaltyRule is an explicit, versioned earn rule. Exactly one version is active.
type LoyaltyRule struct {
	Version           int             `json:"version"`
	PointsPerCurrency decimal.Decimal `json:"points_per_currency"`
	MinPurchaseCents  int64           `json:"min_purchase_cents"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
}

type LoyaltyRuleCreateRequest struct {
	PointsPerCurrency string `json:"points_per_currency"`
	MinPurchaseCents  int64  `json:"min_purchase_cents"`
}

type LoyaltyTransaction struct {
	ID                string          `json:"id"`
	CustomerID        string          `json:"customer_id"`
	SaleID            string          `json:"sale_id"`
	ReturnID          string          `json:"return_id,omitempty"`
	PointsEarned      int64           `json:"points_earned"`
	PointsRedeemed    int64           `json:"points_redeemed"`
	RuleVersion       int             `json:"rule_version"`
	PointsPerCurrency decimal.Decimal `json:"points_per_currency"`
	CreatedAt         time.Time       `json:"created_at"`
}

type StockMovement struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	MovementType  string    `json:"movement_type"`
	Quantity      int       `json:"quantity"`
	ReferenceID   string    `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// IdempotencyRecord stores the committed result of a mutating call so a
// retried request replays it instead of applying twice.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	Operation   string    `json:"operation"`
	Fingerprint string    `json:"fingerprint"`
	ResourceID  string    `json:"resource_id"`
	Response    []byte    `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
}

type ConsistencyIssue struct {
	Check         string `json:"check"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Detail        string `json:"detail"`
	ExpectedCents int64  `json:"expected_cents"`
	ActualCents   int64  `json:"actual_cents"`
}

type ReconciliationReport struct {
	CheckedAt  time.Time          `json:"checked_at"`
	Consistent bool               `json:"consistent"`
	Issues     []ConsistencyIssue `json:"issues"`
}

// LedgerSnapshot is a point-in-time copy of every ledger table, used by
// reconciliation.
type LedgerSnapshot struct {
	Customers    []Customer
	Sales        []Sale
	Bnpl         []BnplTransaction
	BnplPayments []BnplPayment
	Returns      []Return
	Refunds      []RefundTransaction
	Expenses     []Expense
	CashEntries  []CashLedgerEntry
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
