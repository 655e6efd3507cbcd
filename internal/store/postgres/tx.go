package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// pgTx implements store.Tx over one SERIALIZABLE transaction. Lock* reads use
// FOR UPDATE so concurrent units of work on the same rows queue up.
type pgTx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *pgTx) FindIdempotency(key string) (*domain.IdempotencyRecord, error) {
	var row idempotencyRow
	err := t.tx.GetContext(t.ctx, &row, `
		SELECT key, operation, fingerprint, resource_id, response::text AS response, created_at
		FROM idempotency_records
		WHERE key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := row.domain()
	return &rec, nil
}

// SaveIdempotency surfaces a key collision as the raw driver error so
// WithinTx can retry and the retry replays the winner's record.
func (t *pgTx) SaveIdempotency(record domain.IdempotencyRecord) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO idempotency_records (key, operation, fingerprint, resource_id, response, created_at)
		VALUES ($1,$2,$3,$4,$5::jsonb,$6)
	`, record.Key, record.Operation, record.Fingerprint, record.ResourceID, string(record.Response), record.CreatedAt)
	return err
}

func (t *pgTx) LockProducts(ids []string) (map[string]domain.Product, error) {
	var rows []productRow
	if err := t.tx.SelectContext(t.ctx, &rows, `
		SELECT id, name, price_cents, stock_qty, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids); err != nil {
		return nil, err
	}

	products := make(map[string]domain.Product, len(rows))
	for _, r := range rows {
		products[r.ID] = r.domain()
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, store.ErrProductNotFound.WithMessage("product %s not found", id)
		}
	}
	return products, nil
}

func (t *pgTx) AdjustStock(productID string, delta int) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE products
		SET stock_qty = stock_qty + $2, updated_at = now()
		WHERE id = $1 AND stock_qty + $2 >= 0
	`, productID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.GetContext(t.ctx, &exists, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID); err != nil {
		return err
	}
	if !exists {
		return store.ErrProductNotFound.WithMessage("product %s not found", productID)
	}
	return store.ErrInsufficientStock.WithMessage("insufficient stock for %s", productID)
}

func (t *pgTx) InsertStockMovement(m domain.StockMovement) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO stock_movements (id, product_id, movement_type, quantity, reference_id, reference_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.ID, m.ProductID, m.MovementType, m.Quantity, m.ReferenceID, m.ReferenceType, m.CreatedAt)
	return err
}

func (t *pgTx) InsertSale(sale domain.Sale) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO sales (
			id, receipt_number, customer_id, total_amount_cents, payment_method,
			payment_status, return_status, sale_date, created_by
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sale.ID, sale.ReceiptNumber, nullIfEmpty(sale.CustomerID), sale.TotalAmountCents, sale.PaymentMethod,
		sale.PaymentStatus, sale.ReturnStatus, sale.SaleDate, sale.CreatedBy)
	if err != nil {
		if uniqueViolationOn(err, "sales_receipt_number_key") {
			return store.ErrReceiptTaken.WithMessage("receipt number %s already used", sale.ReceiptNumber)
		}
		if isUniqueViolation(err) {
			return store.ErrDuplicateRecord.WithMessage("sale %s already exists", sale.ID)
		}
		return err
	}

	for _, item := range sale.Items {
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price_cents, returned_quantity, is_returned)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, sale.ID, item.ProductID, item.Quantity, item.UnitPriceCents, item.ReturnedQuantity, item.IsReturned); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockSale(id string) (*domain.Sale, error) {
	return loadSale(t.ctx, t.tx, id, true)
}

func (t *pgTx) UpdateSaleStatus(id string, paymentStatus string, returnStatus string) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE sales
		SET payment_status = $2, return_status = $3
		WHERE id = $1
	`, id, paymentStatus, returnStatus)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrSaleNotFound)
}

func (t *pgTx) UpdateSaleItemReturned(itemID string, returnedQty int, isReturned bool) error {
	var quantity int
	err := t.tx.GetContext(t.ctx, &quantity, `SELECT quantity FROM sale_items WHERE id = $1 FOR UPDATE`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound.WithMessage("sale item %s not found", itemID)
	}
	if err != nil {
		return err
	}
	if returnedQty > quantity {
		return store.ErrQuantityExceedsReturnable
	}

	_, err = t.tx.ExecContext(t.ctx, `
		UPDATE sale_items
		SET returned_quantity = $2, is_returned = $3
		WHERE id = $1
	`, itemID, returnedQty, isReturned)
	return err
}

func (t *pgTx) InsertCustomer(c domain.Customer) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO customers (
			id, name, phone, credit_limit_cents, total_outstanding_dues_cents,
			available_credit_cents, loyalty_points, current_balance_cents, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.Name, c.Phone, c.CreditLimitCents, c.TotalOutstandingDuesCents,
		c.AvailableCreditCents, c.LoyaltyPoints, c.CurrentBalanceCents, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicateRecord.WithMessage("customer %s already exists", c.ID)
	}
	return err
}

func (t *pgTx) LockCustomer(id string) (*domain.Customer, error) {
	var row customerRow
	err := t.tx.GetContext(t.ctx, &row, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	c := row.domain()
	return &c, nil
}

func (t *pgTx) UpdateCustomer(c domain.Customer) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE customers
		SET total_outstanding_dues_cents = $2,
			available_credit_cents = $3,
			loyalty_points = $4,
			current_balance_cents = $5,
			updated_at = $6
		WHERE id = $1
	`, c.ID, c.TotalOutstandingDuesCents, c.AvailableCreditCents, c.LoyaltyPoints, c.CurrentBalanceCents, c.UpdatedAt)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrCustomerNotFound)
}

func (t *pgTx) InsertBnpl(b domain.BnplTransaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO bnpl_transactions (
			id, sale_id, customer_id, original_amount_cents, amount_paid_cents, amount_due_cents,
			return_credit_cents, due_date, status, loyalty_awarded, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, b.ID, b.SaleID, b.CustomerID, b.OriginalAmountCents, b.AmountPaidCents, b.AmountDueCents,
		b.ReturnCreditCents, b.DueDate, b.Status, b.LoyaltyAwarded, b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrBnplExists
	}
	return err
}

func (t *pgTx) LockBnpl(id string) (*domain.BnplTransaction, error) {
	return t.lockBnpl(`id = $1`, id, store.ErrBnplNotFound)
}

func (t *pgTx) LockBnplBySale(saleID string) (*domain.BnplTransaction, error) {
	return t.lockBnpl(`sale_id = $1`, saleID, store.ErrNotFound)
}

func (t *pgTx) lockBnpl(where string, arg string, missing error) (*domain.BnplTransaction, error) {
	var row bnplRow
	err := t.tx.GetContext(t.ctx, &row, `SELECT `+bnplColumns+` FROM bnpl_transactions WHERE `+where+` FOR UPDATE`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	b := row.domain()
	return &b, nil
}

func (t *pgTx) UpdateBnpl(b domain.BnplTransaction) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE bnpl_transactions
		SET amount_paid_cents = $2,
			amount_due_cents = $3,
			return_credit_cents = $4,
			status = $5,
			loyalty_awarded = $6,
			updated_at = $7
		WHERE id = $1
	`, b.ID, b.AmountPaidCents, b.AmountDueCents, b.ReturnCreditCents, b.Status, b.LoyaltyAwarded, b.UpdatedAt)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrBnplNotFound)
}

func (t *pgTx) InsertBnplPayment(p domain.BnplPayment) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO bnpl_payments (
			id, bnpl_id, amount_cents, payment_method, receipt_number, remaining_after_cents,
			processed_by, idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, p.BnplID, p.AmountCents, p.PaymentMethod, p.ReceiptNumber, p.RemainingAfterCents,
		p.ProcessedBy, p.IdempotencyKey, p.CreatedAt)
	if uniqueViolationOn(err, "bnpl_payments_receipt_number_key") {
		return store.ErrReceiptTaken.WithMessage("receipt number %s already used", p.ReceiptNumber)
	}
	return err
}

func (t *pgTx) ActiveBnplDue(customerID string) (int64, error) {
	var total int64
	err := t.tx.GetContext(t.ctx, &total, `
		SELECT COALESCE(SUM(amount_due_cents), 0)
		FROM bnpl_transactions
		WHERE customer_id = $1 AND status <> $2
	`, customerID, domain.BnplStatusPaid)
	return total, err
}

func (t *pgTx) InsertReturn(ret domain.Return) error {
	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO returns (
			id, sale_id, customer_id, reason, status, refund_amount_cents,
			refund_method, processed_by, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ret.ID, ret.SaleID, nullIfEmpty(ret.CustomerID), ret.Reason, ret.Status, ret.RefundAmountCents,
		string(ret.RefundMethod), ret.ProcessedBy, ret.Notes, ret.CreatedAt); err != nil {
		return err
	}

	for _, item := range ret.Items {
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO return_items (
				id, return_id, sale_item_id, product_id, quantity, unit_price_cents, refund_price_cents, condition
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, ret.ID, item.SaleItemID, item.ProductID, item.Quantity, item.UnitPriceCents,
			item.RefundPriceCents, item.Condition); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) InsertRefund(r domain.RefundTransaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO refund_transactions (
			id, return_id, sale_id, customer_id, amount_cents, applied_to_due_cents,
			paid_out_cents, payment_method, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, r.ID, r.ReturnID, r.SaleID, nullIfEmpty(r.CustomerID), r.AmountCents, r.AppliedToDueCents,
		r.PaidOutCents, string(r.PaymentMethod), r.Status, r.CreatedAt)
	return err
}

func (t *pgTx) FindCashEntry(referenceID string, referenceType string, fund string) (*domain.CashLedgerEntry, error) {
	var row cashEntryRow
	err := t.tx.GetContext(t.ctx, &row, `
		SELECT `+cashEntryColumns+`
		FROM cash_ledger
		WHERE reference_id = $1 AND reference_type = $2 AND fund = $3
	`, referenceID, referenceType, fund)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e := row.domain()
	return &e, nil
}

func (t *pgTx) InsertCashEntry(e domain.CashLedgerEntry) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO cash_ledger (
			id, fund, transaction_type, amount_cents, reference_id, reference_type,
			transfer_id, description, created_by, transaction_date
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.Fund, e.TransactionType, e.AmountCents, e.ReferenceID, e.ReferenceType,
		nullIfEmpty(e.TransferID), e.Description, e.CreatedBy, e.TransactionDate)
	if isUniqueViolation(err) {
		return store.ErrDuplicateEntry
	}
	return err
}

func (t *pgTx) CashBalance(fund string, at time.Time) (int64, error) {
	return cashBalance(t.ctx, t.tx, fund, at)
}

func (t *pgTx) InsertExpense(e domain.Expense) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO expenses (id, fund, amount_cents, category, description, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.Fund, e.AmountCents, e.Category, e.Description, e.CreatedBy, e.CreatedAt)
	return err
}

func (t *pgTx) ActiveLoyaltyRule() (*domain.LoyaltyRule, error) {
	return activeLoyaltyRule(t.ctx, t.tx)
}

func (t *pgTx) InsertLoyaltyRule(rule domain.LoyaltyRule) (domain.LoyaltyRule, error) {
	if err := t.tx.GetContext(t.ctx, &rule.Version, `SELECT COALESCE(MAX(version), 0) + 1 FROM loyalty_rules`); err != nil {
		return rule, err
	}
	if rule.Active {
		if _, err := t.tx.ExecContext(t.ctx, `UPDATE loyalty_rules SET active = false WHERE active`); err != nil {
			return rule, err
		}
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO loyalty_rules (version, points_per_currency, min_purchase_cents, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, rule.Version, rule.PointsPerCurrency, rule.MinPurchaseCents, rule.Active, rule.CreatedAt)
	return rule, err
}

func (t *pgTx) ListSaleLoyalty(saleID string) ([]domain.LoyaltyTransaction, error) {
	var rows []loyaltyTxRow
	if err := t.tx.SelectContext(t.ctx, &rows, `
		SELECT id, customer_id, sale_id, COALESCE(return_id, '') AS return_id, points_earned,
			points_redeemed, rule_version, points_per_currency, created_at
		FROM loyalty_transactions
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID); err != nil {
		return nil, err
	}
	return mapRows(rows, loyaltyTxRow.domain), nil
}

func (t *pgTx) InsertLoyaltyTransaction(e domain.LoyaltyTransaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO loyalty_transactions (
			id, customer_id, sale_id, return_id, points_earned, points_redeemed,
			rule_version, points_per_currency, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.CustomerID, e.SaleID, nullIfEmpty(e.ReturnID), e.PointsEarned, e.PointsRedeemed,
		e.RuleVersion, e.PointsPerCurrency, e.CreatedAt)
	return err
}

func requireAffected(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
