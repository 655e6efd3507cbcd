package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/service"
)

func TestLedgerFlowAgainstPostgres(t *testing.T) {
	databaseURL := os.Getenv("POS_LEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_LEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("PRD-IT-%d", stamp)
	var customerID string
	var saleIDs []string

	t.Cleanup(func() {
		for _, saleID := range saleIDs {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM loyalty_transactions WHERE sale_id = $1`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM bnpl_payments WHERE bnpl_id IN (SELECT id FROM bnpl_transactions WHERE sale_id = $1)`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM bnpl_transactions WHERE sale_id = $1`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM refund_transactions WHERE sale_id = $1`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM return_items WHERE return_id IN (SELECT id FROM returns WHERE sale_id = $1)`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_ledger WHERE reference_id IN (SELECT id FROM returns WHERE sale_id = $1)`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE sale_id = $1`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_ledger WHERE reference_id = $1`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if err := s.PutProduct(ctx, domain.Product{ID: productID, Name: "Integration Kettle", PriceCents: 5000, StockQty: 10}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	svc := service.New(s, nil, zap.NewNop(), service.Options{})
	if _, err := svc.EnsureLoyaltyRule(ctx, "1", 0); err != nil {
		t.Fatalf("ensure loyalty rule: %v", err)
	}
	cashier := service.WithActor(ctx, domain.Actor{Username: "cashier", Role: "cashier"})

	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Integration Customer", CreditLimitCents: 20000})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	customerID = customer.ID

	saleReq := domain.SaleCreateRequest{
		IdempotencyKey: fmt.Sprintf("it-sale-%d", stamp),
		CustomerID:     customerID,
		PaymentMethod:  domain.PaymentMethodCash,
		Items:          []domain.SaleLine{{ProductID: productID, Quantity: 3}},
	}
	sold, err := svc.CreateSale(cashier, saleReq)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	saleIDs = append(saleIDs, sold.Sale.ID)

	replayed, err := svc.CreateSale(cashier, saleReq)
	if err != nil {
		t.Fatalf("replay sale: %v", err)
	}
	if !replayed.Duplicate || replayed.Sale.ID != sold.Sale.ID {
		t.Fatalf("expected replay of %s, got %+v", sold.Sale.ID, replayed)
	}

	ret, err := svc.ProcessReturn(cashier, domain.ReturnRequest{
		IdempotencyKey: fmt.Sprintf("it-return-%d", stamp),
		SaleID:         sold.Sale.ID,
		RefundMethod:   "cash",
		Items:          []domain.ReturnLine{{SaleItemID: sold.Sale.Items[0].ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}
	if ret.RefundAmountCents != 5000 || ret.SaleReturnStatus != domain.SaleReturnPartial {
		t.Fatalf("unexpected return result %+v", ret)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQty != 8 {
		t.Fatalf("expected stock 8 after sale and return, got %d", product.StockQty)
	}

	credit, err := svc.CreateSale(cashier, domain.SaleCreateRequest{
		IdempotencyKey: fmt.Sprintf("it-bnpl-sale-%d", stamp),
		CustomerID:     customerID,
		PaymentMethod:  domain.PaymentMethodBnpl,
		Items:          []domain.SaleLine{{ProductID: productID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create bnpl sale: %v", err)
	}
	saleIDs = append(saleIDs, credit.Sale.ID)
	if credit.Bnpl == nil {
		t.Fatalf("expected a bnpl tracker on the sale")
	}

	payment, err := svc.ProcessBnplPayment(cashier, domain.BnplPaymentRequest{
		IdempotencyKey: fmt.Sprintf("it-bnpl-pay-%d", stamp),
		BnplID:         credit.Bnpl.ID,
		AmountCents:    4000,
		PaymentMethod:  domain.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("bnpl payment: %v", err)
	}
	if payment.RemainingAmountCents != 6000 || payment.Status != domain.BnplStatusPartiallyPaid {
		t.Fatalf("unexpected payment result %+v", payment)
	}

	after, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if after.TotalOutstandingDuesCents != 6000 || after.AvailableCreditCents != 14000 {
		t.Fatalf("unexpected customer dues %+v", after)
	}
}
