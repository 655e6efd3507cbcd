package memory

import (
	"slices"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// memTx writes straight into the store's state. The store's writer lock is
// held for its whole lifetime, so Lock* methods are plain reads.
type memTx struct {
	st   *state
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// restoreKey journals the current value of m[key], or its absence.
func restoreKey[K comparable, V any](t *memTx, m map[K]V, key K) {
	prev, existed := m[key]
	t.undo = append(t.undo, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

// appendRow appends v to *rows and journals the truncation back.
func appendRow[T any](t *memTx, rows *[]T, v T) {
	n := len(*rows)
	t.undo = append(t.undo, func() { *rows = (*rows)[:n] })
	*rows = append(*rows, v)
}

func (t *memTx) FindIdempotency(key string) (*domain.IdempotencyRecord, error) {
	rec, ok := t.st.idempotency[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.Response = slices.Clone(rec.Response)
	return &rec, nil
}

func (t *memTx) SaveIdempotency(record domain.IdempotencyRecord) error {
	if _, exists := t.st.idempotency[record.Key]; exists {
		return store.ErrDuplicateRecord.WithMessage("idempotency key %s already recorded", record.Key)
	}
	record.Response = slices.Clone(record.Response)
	restoreKey(t, t.st.idempotency, record.Key)
	t.st.idempotency[record.Key] = record
	return nil
}

func (t *memTx) LockProducts(ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, ok := t.st.products[id]
		if !ok {
			return nil, store.ErrProductNotFound.WithMessage("product %s not found", id)
		}
		result[id] = p
	}
	return result, nil
}

func (t *memTx) AdjustStock(productID string, delta int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return store.ErrProductNotFound.WithMessage("product %s not found", productID)
	}
	if p.StockQty+delta < 0 {
		return store.ErrInsufficientStock.WithMessage("insufficient stock for %s", productID)
	}
	restoreKey(t, t.st.products, productID)
	p.StockQty += delta
	p.UpdatedAt = time.Now().UTC()
	t.st.products[productID] = p
	return nil
}

func (t *memTx) InsertStockMovement(movement domain.StockMovement) error {
	appendRow(t, &t.st.movements, movement)
	return nil
}

func (t *memTx) InsertSale(sale domain.Sale) error {
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrDuplicateRecord.WithMessage("sale %s already exists", sale.ID)
	}
	for _, existing := range t.st.sales {
		if existing.ReceiptNumber == sale.ReceiptNumber {
			return store.ErrReceiptTaken.WithMessage("receipt number %s already used", sale.ReceiptNumber)
		}
	}
	restoreKey(t, t.st.sales, sale.ID)
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *memTx) LockSale(id string) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	sale = cloneSale(sale)
	return &sale, nil
}

func (t *memTx) UpdateSaleStatus(id string, paymentStatus string, returnStatus string) error {
	sale, ok := t.st.sales[id]
	if !ok {
		return store.ErrSaleNotFound
	}
	restoreKey(t, t.st.sales, id)
	sale = cloneSale(sale)
	sale.PaymentStatus = paymentStatus
	sale.ReturnStatus = returnStatus
	t.st.sales[id] = sale
	return nil
}

func (t *memTx) UpdateSaleItemReturned(itemID string, returnedQty int, isReturned bool) error {
	for saleID, sale := range t.st.sales {
		for i := range sale.Items {
			if sale.Items[i].ID != itemID {
				continue
			}
			if returnedQty > sale.Items[i].Quantity {
				return store.ErrQuantityExceedsReturnable
			}
			restoreKey(t, t.st.sales, saleID)
			sale = cloneSale(sale)
			sale.Items[i].ReturnedQuantity = returnedQty
			sale.Items[i].IsReturned = isReturned
			t.st.sales[saleID] = sale
			return nil
		}
	}
	return store.ErrNotFound.WithMessage("sale item %s not found", itemID)
}

func (t *memTx) InsertCustomer(customer domain.Customer) error {
	if _, exists := t.st.customers[customer.ID]; exists {
		return store.ErrDuplicateRecord.WithMessage("customer %s already exists", customer.ID)
	}
	restoreKey(t, t.st.customers, customer.ID)
	t.st.customers[customer.ID] = customer
	return nil
}

func (t *memTx) LockCustomer(id string) (*domain.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return nil, store.ErrCustomerNotFound
	}
	return &c, nil
}

func (t *memTx) UpdateCustomer(customer domain.Customer) error {
	if _, ok := t.st.customers[customer.ID]; !ok {
		return store.ErrCustomerNotFound
	}
	restoreKey(t, t.st.customers, customer.ID)
	t.st.customers[customer.ID] = customer
	return nil
}

func (t *memTx) InsertBnpl(bnpl domain.BnplTransaction) error {
	if _, exists := t.st.bnplBySale[bnpl.SaleID]; exists {
		return store.ErrBnplExists
	}
	restoreKey(t, t.st.bnpl, bnpl.ID)
	restoreKey(t, t.st.bnplBySale, bnpl.SaleID)
	t.st.bnpl[bnpl.ID] = bnpl
	t.st.bnplBySale[bnpl.SaleID] = bnpl.ID
	return nil
}

func (t *memTx) LockBnpl(id string) (*domain.BnplTransaction, error) {
	b, ok := t.st.bnpl[id]
	if !ok {
		return nil, store.ErrBnplNotFound
	}
	return &b, nil
}

func (t *memTx) LockBnplBySale(saleID string) (*domain.BnplTransaction, error) {
	id, ok := t.st.bnplBySale[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.LockBnpl(id)
}

func (t *memTx) UpdateBnpl(bnpl domain.BnplTransaction) error {
	if _, ok := t.st.bnpl[bnpl.ID]; !ok {
		return store.ErrBnplNotFound
	}
	restoreKey(t, t.st.bnpl, bnpl.ID)
	t.st.bnpl[bnpl.ID] = bnpl
	return nil
}

func (t *memTx) InsertBnplPayment(payment domain.BnplPayment) error {
	for _, existing := range t.st.bnplPayments {
		if existing.ReceiptNumber == payment.ReceiptNumber {
			return store.ErrReceiptTaken.WithMessage("receipt number %s already used", payment.ReceiptNumber)
		}
	}
	appendRow(t, &t.st.bnplPayments, payment)
	return nil
}

func (t *memTx) ActiveBnplDue(customerID string) (int64, error) {
	var total int64
	for _, b := range t.st.bnpl {
		if b.CustomerID == customerID && b.Status != domain.BnplStatusPaid {
			total += b.AmountDueCents
		}
	}
	return total, nil
}

func (t *memTx) InsertReturn(ret domain.Return) error {
	restoreKey(t, t.st.returns, ret.ID)
	t.st.returns[ret.ID] = cloneReturn(ret)
	return nil
}

func (t *memTx) InsertRefund(refund domain.RefundTransaction) error {
	appendRow(t, &t.st.refunds, refund)
	return nil
}

func (t *memTx) FindCashEntry(referenceID string, referenceType string, fund string) (*domain.CashLedgerEntry, error) {
	for _, entry := range t.st.cashEntries {
		if entry.ReferenceID == referenceID && entry.ReferenceType == referenceType && entry.Fund == fund {
			e := entry
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) InsertCashEntry(entry domain.CashLedgerEntry) error {
	if _, err := t.FindCashEntry(entry.ReferenceID, entry.ReferenceType, entry.Fund); err == nil {
		return store.ErrDuplicateEntry
	}
	appendRow(t, &t.st.cashEntries, entry)
	return nil
}

func (t *memTx) CashBalance(fund string, at time.Time) (int64, error) {
	return t.st.balance(fund, at), nil
}

func (t *memTx) InsertExpense(expense domain.Expense) error {
	appendRow(t, &t.st.expenses, expense)
	return nil
}

func (t *memTx) ActiveLoyaltyRule() (*domain.LoyaltyRule, error) {
	return t.st.activeRule()
}

func (t *memTx) InsertLoyaltyRule(rule domain.LoyaltyRule) (domain.LoyaltyRule, error) {
	prev := slices.Clone(t.st.loyaltyRules)
	t.undo = append(t.undo, func() { t.st.loyaltyRules = prev })

	next := 1
	for i := range t.st.loyaltyRules {
		if t.st.loyaltyRules[i].Version >= next {
			next = t.st.loyaltyRules[i].Version + 1
		}
		if rule.Active {
			t.st.loyaltyRules[i].Active = false
		}
	}
	rule.Version = next
	t.st.loyaltyRules = append(t.st.loyaltyRules, rule)
	return rule, nil
}

func (t *memTx) ListSaleLoyalty(saleID string) ([]domain.LoyaltyTransaction, error) {
	result := make([]domain.LoyaltyTransaction, 0)
	for _, row := range t.st.loyaltyTx {
		if row.SaleID == saleID {
			result = append(result, row)
		}
	}
	return result, nil
}

func (t *memTx) InsertLoyaltyTransaction(entry domain.LoyaltyTransaction) error {
	appendRow(t, &t.st.loyaltyTx, entry)
	return nil
}
