package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func TestCashBalanceFollowsSalesRefundsAndExpenses(t *testing.T) {
	f := newFixture(t)

	f.sale(t, "sale-cash-1", "", domain.PaymentMethodCash, domain.SaleLine{ProductID: "PRD-RICE-5KG", Quantity: 1})
	second := f.sale(t, "sale-cash-2", "", domain.PaymentMethodCash, domain.SaleLine{ProductID: "PRD-OIL-2L", Quantity: 2}).Sale
	f.sale(t, "sale-card", "", domain.PaymentMethodCard, domain.SaleLine{ProductID: "PRD-TV", Quantity: 1})

	_, err := f.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		IdempotencyKey: "ret-oil",
		SaleID:         second.ID,
		RefundMethod:   "cash",
		Items:          []domain.ReturnLine{{SaleItemID: second.Items[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)

	expense, err := f.svc.RecordExpense(adminCtx(), domain.ExpenseRequest{
		IdempotencyKey: "exp-1",
		AmountCents:    1000,
		Category:       "cleaning",
		Description:    "floor soap",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FundMain, expense.Expense.Fund)
	assert.Equal(t, int64(-1000), expense.Entry.AmountCents)
	assert.Equal(t, "admin", expense.Expense.CreatedBy)

	require.Equal(t, int64(7500+7200-3600-1000), f.balance(t, domain.FundMain))

	entries, err := f.svc.ListCashEntries(context.Background(), domain.FundMain, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, domain.LedgerTypeExpense, entries[0].TransactionType)

	limited, err := f.svc.ListCashEntries(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	f.requireConsistent(t)
}

func TestRecordExpenseRules(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "sale-float", "", domain.PaymentMethodCash, domain.SaleLine{ProductID: "PRD-MUG", Quantity: 2})

	_, err := f.svc.RecordExpense(adminCtx(), domain.ExpenseRequest{IdempotencyKey: "exp-big", AmountCents: 5001, Category: "rent"})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	_, err = f.svc.RecordExpense(adminCtx(), domain.ExpenseRequest{IdempotencyKey: "exp-nocat", AmountCents: 100})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.RecordExpense(adminCtx(), domain.ExpenseRequest{IdempotencyKey: "exp-zero", Category: "misc"})
	require.ErrorIs(t, err, store.ErrInvalidAmount)

	_, err = f.svc.RecordExpense(adminCtx(), domain.ExpenseRequest{IdempotencyKey: "exp-fund", Fund: "vault", AmountCents: 100, Category: "misc"})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	req := domain.ExpenseRequest{IdempotencyKey: "exp-ok", AmountCents: 500, Category: "misc"}
	first, err := f.svc.RecordExpense(adminCtx(), req)
	require.NoError(t, err)
	again, err := f.svc.RecordExpense(adminCtx(), req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Expense.ID, again.Expense.ID)
	assert.Equal(t, int64(4500), f.balance(t, domain.FundMain))
}

func TestTransferFundsWritesPairedEntries(t *testing.T) {
	f := newFixture(t)
	f.sale(t, "sale-float", "", domain.PaymentMethodCash, domain.SaleLine{ProductID: "PRD-LAMP", Quantity: 2})

	resp, err := f.svc.TransferFunds(adminCtx(), domain.TransferRequest{
		IdempotencyKey: "trf-1",
		FromFund:       domain.FundMain,
		ToFund:         domain.FundPettyCash,
		AmountCents:    3000,
		Description:    "petty cash top-up",
	})
	require.NoError(t, err)
	assert.Equal(t, resp.TransferID, resp.Out.TransferID)
	assert.Equal(t, resp.TransferID, resp.In.TransferID)
	assert.Equal(t, int64(-3000), resp.Out.AmountCents)
	assert.Equal(t, int64(3000), resp.In.AmountCents)

	assert.Equal(t, int64(5000), f.balance(t, domain.FundMain))
	assert.Equal(t, int64(3000), f.balance(t, domain.FundPettyCash))

	_, err = f.svc.RecordExpense(adminCtx(), domain.ExpenseRequest{
		IdempotencyKey: "exp-petty",
		Fund:           domain.FundPettyCash,
		AmountCents:    1200,
		Category:       "snacks",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1800), f.balance(t, domain.FundPettyCash))

	_, err = f.svc.TransferFunds(adminCtx(), domain.TransferRequest{
		IdempotencyKey: "trf-short",
		FromFund:       domain.FundPettyCash,
		ToFund:         domain.FundMain,
		AmountCents:    1801,
	})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	_, err = f.svc.TransferFunds(adminCtx(), domain.TransferRequest{
		IdempotencyKey: "trf-same",
		FromFund:       domain.FundMain,
		ToFund:         domain.FundMain,
		AmountCents:    10,
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	f.requireConsistent(t)
}

func TestCashBalanceAsOf(t *testing.T) {
	f := newFixture(t)
	before := f.clock.Now()
	f.clock.Advance(1)
	f.sale(t, "sale-later", "", domain.PaymentMethodCash, domain.SaleLine{ProductID: "PRD-MUG", Quantity: 1})

	past, err := f.svc.CashBalance(context.Background(), "main", &before)
	require.NoError(t, err)
	assert.Equal(t, int64(0), past.BalanceCents)

	now, err := f.svc.CashBalance(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FundMain, now.Fund)
	assert.Equal(t, int64(2500), now.BalanceCents)

	_, err = f.svc.CashBalance(context.Background(), "vault", nil)
	require.ErrorIs(t, err, store.ErrInvalidRequest)
}
