package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func seededSale(t *testing.T, s *Store) domain.Sale {
	t.Helper()
	sale := domain.Sale{
		ID:            "sale-1",
		ReceiptNumber: "R-1",
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPaid,
		ReturnStatus:  domain.SaleReturnNone,
		SaleDate:      time.Now().UTC(),
		Items:         []domain.SaleItem{{ID: "si-1", SaleID: "sale-1", ProductID: "PRD-SOAP", Quantity: 3, UnitPriceCents: 700}},
	}
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertSale(sale); err != nil {
			return err
		}
		return tx.InsertCustomer(domain.Customer{ID: "cust-1", Name: "Rina", CreditLimitCents: 1000, AvailableCreditCents: 1000})
	})
	require.NoError(t, err)
	return sale
}

func TestWithinTxRollsBackEveryWrite(t *testing.T) {
	s := NewSeeded()
	seededSale(t, s)
	soap, err := s.GetProduct(context.Background(), "PRD-SOAP")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(context.Background(), func(tx store.Tx) error {
		require.NoError(t, tx.AdjustStock("PRD-SOAP", 2))
		require.NoError(t, tx.UpdateSaleItemReturned("si-1", 2, false))
		require.NoError(t, tx.UpdateSaleStatus("sale-1", domain.PaymentStatusPaid, domain.SaleReturnPartial))
		require.NoError(t, tx.UpdateCustomer(domain.Customer{ID: "cust-1", Name: "Rina", LoyaltyPoints: 50}))
		require.NoError(t, tx.InsertCashEntry(domain.CashLedgerEntry{ID: "cash-1", Fund: domain.FundMain, AmountCents: -1400, ReferenceID: "ret-1", ReferenceType: domain.RefReturn}))
		require.NoError(t, tx.InsertBnpl(domain.BnplTransaction{ID: "bnpl-1", SaleID: "sale-1", CustomerID: "cust-1"}))
		_, err := tx.InsertLoyaltyRule(domain.LoyaltyRule{PointsPerCurrency: decimal.NewFromInt(2), Active: true})
		require.NoError(t, err)
		require.NoError(t, tx.SaveIdempotency(domain.IdempotencyRecord{Key: "k-1", Operation: "return.process"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.GetProduct(context.Background(), "PRD-SOAP")
	require.NoError(t, err)
	require.Equal(t, soap.StockQty, after.StockQty)

	sale, err := s.GetSale(context.Background(), "sale-1")
	require.NoError(t, err)
	require.Equal(t, 0, sale.Items[0].ReturnedQuantity)
	require.Equal(t, domain.SaleReturnNone, sale.ReturnStatus)

	customer, err := s.GetCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), customer.LoyaltyPoints)
	require.Equal(t, int64(1000), customer.CreditLimitCents)

	entries, err := s.ListCashEntries(context.Background(), domain.FundMain, 0)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = s.GetBnpl(context.Background(), "bnpl-1")
	require.ErrorIs(t, err, store.ErrBnplNotFound)

	rules, err := s.ListLoyaltyRules(context.Background())
	require.NoError(t, err)
	require.Empty(t, rules)

	err = s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.FindIdempotency("k-1")
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithinTxRollsBackOnPanic(t *testing.T) {
	s := NewSeeded()
	before, err := s.GetProduct(context.Background(), "PRD-RICE-5KG")
	require.NoError(t, err)

	require.Panics(t, func() {
		_ = s.WithinTx(context.Background(), func(tx store.Tx) error {
			if err := tx.AdjustStock("PRD-RICE-5KG", -5); err != nil {
				return err
			}
			panic("mid-write")
		})
	})

	after, err := s.GetProduct(context.Background(), "PRD-RICE-5KG")
	require.NoError(t, err)
	require.Equal(t, before.StockQty, after.StockQty)
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	s := NewSeeded()
	seededSale(t, s)

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.UpdateSaleItemReturned("si-1", 3, true)
	})
	require.NoError(t, err)

	sale, err := s.GetSale(context.Background(), "sale-1")
	require.NoError(t, err)
	require.True(t, sale.Items[0].IsReturned)

	err = s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.UpdateSaleItemReturned("si-1", 4, true)
	})
	require.ErrorIs(t, err, store.ErrQuantityExceedsReturnable)
}

func TestWithinTxRedrawsTakenReceipt(t *testing.T) {
	s := NewSeeded()
	seededSale(t, s)

	receipts := []string{"R-1", "R-2"}
	runs := 0
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		receipt := receipts[runs]
		runs++
		if err := tx.AdjustStock("PRD-SOAP", -1); err != nil {
			return err
		}
		return tx.InsertSale(domain.Sale{ID: "sale-2", ReceiptNumber: receipt, PaymentStatus: domain.PaymentStatusPaid})
	})
	require.NoError(t, err)
	require.Equal(t, 2, runs)

	sale, err := s.GetSale(context.Background(), "sale-2")
	require.NoError(t, err)
	require.Equal(t, "R-2", sale.ReceiptNumber)

	soap, err := s.GetProduct(context.Background(), "PRD-SOAP")
	require.NoError(t, err)
	require.Equal(t, 299, soap.StockQty)
}

func TestWithinTxGivesUpOnRepeatedReceiptCollision(t *testing.T) {
	s := NewSeeded()
	seededSale(t, s)

	runs := 0
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		runs++
		return tx.InsertSale(domain.Sale{ID: "sale-2", ReceiptNumber: "R-1"})
	})
	require.ErrorIs(t, err, store.ErrReceiptTaken)
	require.Equal(t, txAttempts, runs)

	_, err = s.GetSale(context.Background(), "sale-2")
	require.ErrorIs(t, err, store.ErrSaleNotFound)
}
