package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
)

func (f *fixture) pay(t *testing.T, key string, bnplID string, amount int64) domain.BnplPaymentResponse {
	t.Helper()
	resp, err := f.svc.ProcessBnplPayment(cashierCtx(), domain.BnplPaymentRequest{
		IdempotencyKey: key,
		BnplID:         bnplID,
		AmountCents:    amount,
		PaymentMethod:  domain.PaymentMethodCash,
	})
	require.NoError(t, err)
	return resp
}

func TestBnplLifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)

	sale := f.sale(t, "sale-a", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-TV", Quantity: 1})
	require.NotNil(t, sale.Bnpl)
	bnpl := *sale.Bnpl
	assert.Equal(t, int64(100000), bnpl.AmountDueCents)
	assert.Equal(t, domain.BnplStatusPending, bnpl.Status)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), bnpl.DueDate)
	assert.Zero(t, sale.PointsAwarded)

	customer, err := f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), customer.TotalOutstandingDuesCents)
	assert.Equal(t, int64(400000), customer.AvailableCreditCents)
	assert.Equal(t, int64(0), f.balance(t, domain.FundMain))

	first := f.pay(t, "pay-b", bnpl.ID, 40000)
	assert.True(t, first.Success)
	assert.Equal(t, "Payment processed", first.Message)
	assert.Equal(t, int64(60000), first.RemainingAmountCents)
	assert.Equal(t, domain.BnplStatusPartiallyPaid, first.Status)
	assert.NotEmpty(t, first.ReceiptNumber)
	assert.Equal(t, int64(40000), f.balance(t, domain.FundMain))

	got, err := f.svc.GetSale(context.Background(), sale.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, got.PaymentStatus)

	second := f.pay(t, "pay-c", bnpl.ID, 60000)
	assert.Equal(t, "BNPL fully paid", second.Message)
	assert.Equal(t, int64(0), second.RemainingAmountCents)
	assert.Equal(t, domain.BnplStatusPaid, second.Status)
	assert.Equal(t, int64(1000), second.PointsAwarded)

	tracker, err := f.svc.GetBnpl(context.Background(), bnpl.ID)
	require.NoError(t, err)
	assert.True(t, ledger.Balanced(tracker))
	assert.True(t, tracker.LoyaltyAwarded)
	assert.Equal(t, int64(100000), tracker.AmountPaidCents)

	_, err = f.svc.ProcessBnplPayment(cashierCtx(), domain.BnplPaymentRequest{
		IdempotencyKey: "pay-extra",
		BnplID:         bnpl.ID,
		AmountCents:    1,
		PaymentMethod:  domain.PaymentMethodCash,
	})
	require.ErrorIs(t, err, store.ErrAlreadyFullyPaid)

	customer, err = f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), customer.TotalOutstandingDuesCents)
	assert.Equal(t, int64(500000), customer.AvailableCreditCents)
	assert.Equal(t, int64(1000), customer.LoyaltyPoints)

	got, err = f.svc.GetSale(context.Background(), sale.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)

	payments, err := f.svc.ListBnplPayments(context.Background(), bnpl.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	f.requireConsistent(t)
}

func TestBnplPaymentReplayDoesNotDoubleApply(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	bnpl := *f.sale(t, "sale-replay", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-TV", Quantity: 1}).Bnpl

	req := domain.BnplPaymentRequest{
		IdempotencyKey: "pay-once",
		BnplID:         bnpl.ID,
		AmountCents:    25000,
		PaymentMethod:  domain.PaymentMethodCash,
	}
	first, err := f.svc.ProcessBnplPayment(cashierCtx(), req)
	require.NoError(t, err)
	second, err := f.svc.ProcessBnplPayment(cashierCtx(), req)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, int64(75000), second.RemainingAmountCents)

	tracker, err := f.svc.GetBnpl(context.Background(), bnpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), tracker.AmountPaidCents)
	assert.Equal(t, int64(25000), f.balance(t, domain.FundMain))

	req.AmountCents = 30000
	_, err = f.svc.ProcessBnplPayment(cashierCtx(), req)
	require.ErrorIs(t, err, store.ErrIdempotencyConflict)
}

func TestConcurrentBnplReplaysApplyOnce(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	bnpl := *f.sale(t, "sale-crep", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-TV", Quantity: 1}).Bnpl

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ProcessBnplPayment(cashierCtx(), domain.BnplPaymentRequest{
				IdempotencyKey: "pay-shared",
				BnplID:         bnpl.ID,
				AmountCents:    10000,
				PaymentMethod:  domain.PaymentMethodCash,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	payments, err := f.svc.ListBnplPayments(context.Background(), bnpl.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	tracker, err := f.svc.GetBnpl(context.Background(), bnpl.ID)
	require.NoError(t, err)
	require.Equal(t, int64(90000), tracker.AmountDueCents)
}

func TestBnplPaymentFailures(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	bnpl := *f.sale(t, "sale-fail", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-LAMP", Quantity: 1}).Bnpl

	cases := []struct {
		name   string
		req    domain.BnplPaymentRequest
		target error
	}{
		{"unknown tracker", domain.BnplPaymentRequest{IdempotencyKey: "p1", BnplID: "bnpl-missing", AmountCents: 100, PaymentMethod: "cash"}, store.ErrBnplNotFound},
		{"zero amount", domain.BnplPaymentRequest{IdempotencyKey: "p2", BnplID: bnpl.ID, AmountCents: 0, PaymentMethod: "cash"}, store.ErrInvalidAmount},
		{"negative amount", domain.BnplPaymentRequest{IdempotencyKey: "p3", BnplID: bnpl.ID, AmountCents: -5, PaymentMethod: "cash"}, store.ErrInvalidAmount},
		{"over due", domain.BnplPaymentRequest{IdempotencyKey: "p4", BnplID: bnpl.ID, AmountCents: 4001, PaymentMethod: "cash"}, store.ErrAmountExceedsDue},
		{"bnpl as method", domain.BnplPaymentRequest{IdempotencyKey: "p5", BnplID: bnpl.ID, AmountCents: 100, PaymentMethod: "bnpl"}, store.ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ProcessBnplPayment(cashierCtx(), tc.req)
			require.ErrorIs(t, err, tc.target)
		})
	}

	tracker, err := f.svc.GetBnpl(context.Background(), bnpl.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4000), tracker.AmountDueCents)
	require.Equal(t, int64(0), f.balance(t, domain.FundMain))
}

func TestCardBnplPaymentSkipsCashLedger(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	bnpl := *f.sale(t, "sale-card-pay", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-LAMP", Quantity: 1}).Bnpl

	_, err := f.svc.ProcessBnplPayment(cashierCtx(), domain.BnplPaymentRequest{
		IdempotencyKey: "pay-card",
		BnplID:         bnpl.ID,
		AmountCents:    4000,
		PaymentMethod:  domain.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), f.balance(t, domain.FundMain))
	f.requireConsistent(t)
}

func TestBnplSaleRejectedOverCreditLimit(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 50000)

	_, err := f.svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		IdempotencyKey: "sale-over",
		CustomerID:     c.ID,
		PaymentMethod:  domain.PaymentMethodBnpl,
		Items:          []domain.SaleLine{{ProductID: "PRD-TV", Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientCredit)
	require.Equal(t, 10, f.stock(t, "PRD-TV"))

	customer, err := f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), customer.TotalOutstandingDuesCents)
}

func TestCreateBnplForUntrackedSale(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	now := f.clock.Now()
	sale := domain.Sale{
		ID:               "sale-legacy",
		ReceiptNumber:    "INV-LEGACY-1",
		CustomerID:       c.ID,
		TotalAmountCents: 8000,
		PaymentMethod:    domain.PaymentMethodBnpl,
		PaymentStatus:    domain.PaymentStatusPendingBnpl,
		ReturnStatus:     domain.SaleReturnNone,
		SaleDate:         now,
		Items: []domain.SaleItem{
			{ID: "si-legacy-1", SaleID: "sale-legacy", ProductID: "PRD-LAMP", Quantity: 2, UnitPriceCents: 4000},
		},
	}
	require.NoError(t, f.repo.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSale(sale)
	}))

	_, err := f.svc.CreateBnpl(cashierCtx(), domain.BnplCreateRequest{
		IdempotencyKey: "bnpl-wrong-customer",
		SaleID:         sale.ID,
		CustomerID:     "cust-other",
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	resp, err := f.svc.CreateBnpl(cashierCtx(), domain.BnplCreateRequest{IdempotencyKey: "bnpl-legacy", SaleID: sale.ID})
	require.NoError(t, err)
	require.Equal(t, int64(8000), resp.Bnpl.AmountDueCents)
	require.Equal(t, domain.BnplStatusPending, resp.Bnpl.Status)

	customer, err := f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8000), customer.TotalOutstandingDuesCents)

	_, err = f.svc.CreateBnpl(cashierCtx(), domain.BnplCreateRequest{IdempotencyKey: "bnpl-legacy-2", SaleID: sale.ID})
	require.ErrorIs(t, err, store.ErrBnplExists)

	cashSale := f.sale(t, "sale-cash-nobnpl", c.ID, domain.PaymentMethodCash, domain.SaleLine{ProductID: "PRD-MUG", Quantity: 1}).Sale
	_, err = f.svc.CreateBnpl(cashierCtx(), domain.BnplCreateRequest{IdempotencyKey: "bnpl-cash", SaleID: cashSale.ID})
	require.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestReturnOnBnplSaleCreditsDueFirst(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	resp := f.sale(t, "sale-bnpl-ret", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-TV", Quantity: 2})
	bnpl := *resp.Bnpl
	item := resp.Sale.Items[0]
	f.pay(t, "pay-partial", bnpl.ID, 50000)

	first, err := f.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		IdempotencyKey: "ret-bnpl-1",
		SaleID:         resp.Sale.ID,
		RefundMethod:   "cash",
		Items:          []domain.ReturnLine{{SaleItemID: item.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), first.AppliedToDueCents)
	assert.Equal(t, int64(0), first.PaidOutCents)
	assert.Equal(t, int64(50000), f.balance(t, domain.FundMain))

	tracker, err := f.svc.GetBnpl(context.Background(), bnpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), tracker.AmountDueCents)
	assert.True(t, ledger.Balanced(tracker))

	customer, err := f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), customer.TotalOutstandingDuesCents)
	assert.Equal(t, int64(450000), customer.AvailableCreditCents)

	second, err := f.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		IdempotencyKey: "ret-bnpl-2",
		SaleID:         resp.Sale.ID,
		RefundMethod:   "cash",
		Items:          []domain.ReturnLine{{SaleItemID: item.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), second.AppliedToDueCents)
	assert.Equal(t, int64(50000), second.PaidOutCents)
	assert.Equal(t, domain.SaleReturnFull, second.SaleReturnStatus)
	assert.Equal(t, int64(0), f.balance(t, domain.FundMain))

	tracker, err = f.svc.GetBnpl(context.Background(), bnpl.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BnplStatusPaid, tracker.Status)
	assert.Equal(t, int64(0), tracker.AmountDueCents)
	assert.True(t, ledger.Balanced(tracker))

	customer, err = f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), customer.TotalOutstandingDuesCents)
	assert.Equal(t, int64(0), customer.LoyaltyPoints)

	got, err := f.svc.GetSale(context.Background(), resp.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, got.PaymentStatus)
	f.requireConsistent(t)
}

func TestCustomerBnplSummary(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	due := f.clock.Now().Add(5 * 24 * time.Hour)

	_, err := f.svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		IdempotencyKey: "sale-sum-1",
		CustomerID:     c.ID,
		PaymentMethod:  domain.PaymentMethodBnpl,
		BnplDueDate:    &due,
		Items:          []domain.SaleLine{{ProductID: "PRD-LAMP", Quantity: 1}},
	})
	require.NoError(t, err)
	f.sale(t, "sale-sum-2", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-MUG", Quantity: 2})

	summary, err := f.svc.CustomerBnplSummary(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), summary.TotalOutstandingCents)
	assert.Equal(t, int64(491000), summary.AvailableCreditCents)
	assert.Equal(t, 2, summary.ActiveCount)
	assert.Zero(t, summary.OverdueCount)

	f.clock.Advance(6 * 24 * time.Hour)
	summary, err = f.svc.CustomerBnplSummary(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OverdueCount)
	assert.Equal(t, int64(4000), summary.OverdueAmountCents)

	_, err = f.svc.CustomerBnplSummary(context.Background(), "cust-missing")
	require.ErrorIs(t, err, store.ErrCustomerNotFound)
}

type recordingCache struct {
	mu      sync.Mutex
	entries map[string]domain.BnplSummary
	deletes int
}

func (c *recordingCache) Get(_ context.Context, id string) (*domain.BnplSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *recordingCache) Set(_ context.Context, id string, v *domain.BnplSummary, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = *v
	return nil
}

func (c *recordingCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.deletes++
	return nil
}

var _ cache.SummaryCache = (*recordingCache)(nil)

func TestSummaryCacheInvalidatedByPayment(t *testing.T) {
	f := newFixture(t)
	rc := &recordingCache{entries: map[string]domain.BnplSummary{}}
	f.svc.summary = rc

	c := f.customer(t, 500000)
	bnpl := *f.sale(t, "sale-cache", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-LAMP", Quantity: 1}).Bnpl

	before, err := f.svc.CustomerBnplSummary(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4000), before.TotalOutstandingCents)
	require.Contains(t, rc.entries, c.ID)

	f.pay(t, "pay-cache", bnpl.ID, 1000)
	require.NotContains(t, rc.entries, c.ID)

	after, err := f.svc.CustomerBnplSummary(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3000), after.TotalOutstandingCents)
}

func TestSettlingPaymentAwardsOnOriginalAmount(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	resp := f.sale(t, "sale-bnpl-orig", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-TV", Quantity: 2})
	bnpl := *resp.Bnpl
	f.pay(t, "pay-orig-1", bnpl.ID, 50000)

	ret, err := f.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		IdempotencyKey: "ret-before-settle",
		SaleID:         resp.Sale.ID,
		RefundMethod:   "cash",
		Items:          []domain.ReturnLine{{SaleItemID: resp.Sale.Items[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), ret.AppliedToDueCents)
	assert.Zero(t, ret.PointsDeducted)

	last := f.pay(t, "pay-orig-2", bnpl.ID, 50000)
	assert.Equal(t, domain.BnplStatusPaid, last.Status)
	assert.Equal(t, int64(2000), last.PointsAwarded)

	customer, err := f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), customer.LoyaltyPoints)

	after, err := f.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		IdempotencyKey: "ret-after-settle",
		SaleID:         resp.Sale.ID,
		RefundMethod:   "cash",
		Items:          []domain.ReturnLine{{SaleItemID: resp.Sale.Items[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), after.PointsDeducted)
	f.requireConsistent(t)
}

func TestReturnCreditSettlementAwardsOnKeptValue(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, 500000)
	resp := f.sale(t, "sale-bnpl-kept", c.ID, domain.PaymentMethodBnpl, domain.SaleLine{ProductID: "PRD-TV", Quantity: 2})
	f.pay(t, "pay-kept", resp.Bnpl.ID, 100000)

	_, err := f.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		IdempotencyKey: "ret-kept",
		SaleID:         resp.Sale.ID,
		RefundMethod:   "cash",
		Items:          []domain.ReturnLine{{SaleItemID: resp.Sale.Items[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)

	tracker, err := f.svc.GetBnpl(context.Background(), resp.Bnpl.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BnplStatusPaid, tracker.Status)
	assert.True(t, tracker.LoyaltyAwarded)

	customer, err := f.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), customer.LoyaltyPoints)
	f.requireConsistent(t)
}
