package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// CreateSale records a checkout: it prices lines from the catalogue, takes
// stock, and books the payment through the cash ledger or a BNPL tracker.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleCreateResponse, error) {
	key, err := requireKey(req.IdempotencyKey)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	req.IdempotencyKey = ""
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !domain.IsSalePaymentMethod(req.PaymentMethod) {
		return domain.SaleCreateResponse{}, store.ErrInvalidRequest.WithMessage("unknown payment_method %q", req.PaymentMethod)
	}
	if req.PaymentMethod == domain.PaymentMethodBnpl && req.CustomerID == "" {
		return domain.SaleCreateResponse{}, store.ErrInvalidRequest.WithMessage("bnpl sales need a customer_id")
	}
	lines, err := mergeSaleLines(req.Items)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	if req.SaleDate != nil && req.SaleDate.After(s.now()) {
		return domain.SaleCreateResponse{}, store.ErrInvalidRequest.WithMessage("sale_date must not be in the future")
	}
	fp, err := fingerprint(opCreateSale, req)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	cashier := processedBy(ctx, "")

	var resp domain.SaleCreateResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		resp = domain.SaleCreateResponse{}
		if ok, err := replay(tx, key, opCreateSale, fp, &resp); err != nil || ok {
			resp.Duplicate = ok
			return err
		}

		now := s.now()
		saleDate := now
		if req.SaleDate != nil {
			saleDate = req.SaleDate.UTC()
		}

		ids := make([]string, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		products, err := tx.LockProducts(ids)
		if err != nil {
			return err
		}

		var customer *domain.Customer
		if req.CustomerID != "" {
			if customer, err = tx.LockCustomer(req.CustomerID); err != nil {
				return err
			}
		}

		sale := domain.Sale{
			ID:            xid.New("sale"),
			ReceiptNumber: xid.Receipt("INV", now),
			CustomerID:    req.CustomerID,
			PaymentMethod: req.PaymentMethod,
			PaymentStatus: domain.PaymentStatusPaid,
			ReturnStatus:  domain.SaleReturnNone,
			SaleDate:      saleDate,
			CreatedBy:     cashier,
			Items:         make([]domain.SaleItem, 0, len(lines)),
		}
		if req.PaymentMethod == domain.PaymentMethodBnpl {
			sale.PaymentStatus = domain.PaymentStatusPendingBnpl
		}

		for _, line := range lines {
			product := products[line.ProductID]
			if product.StockQty < line.Quantity {
				return store.ErrInsufficientStock.WithMessage("insufficient stock for %s: have %d, need %d", product.ID, product.StockQty, line.Quantity)
			}
			sale.Items = append(sale.Items, domain.SaleItem{
				ID:             xid.New("si"),
				SaleID:         sale.ID,
				ProductID:      product.ID,
				Quantity:       line.Quantity,
				UnitPriceCents: product.PriceCents,
			})
			sale.TotalAmountCents += product.PriceCents * int64(line.Quantity)
		}
		if err := tx.InsertSale(sale); err != nil {
			return err
		}
		for _, item := range sale.Items {
			if err := moveStock(tx, item.ProductID, -item.Quantity, sale.ID, domain.RefSale, now); err != nil {
				return err
			}
		}

		resp.Sale = sale
		switch req.PaymentMethod {
		case domain.PaymentMethodCash:
			if _, err := appendCashEntry(tx, domain.CashLedgerEntry{
				Fund:            domain.FundMain,
				TransactionType: domain.LedgerTypeSale,
				AmountCents:     sale.TotalAmountCents,
				ReferenceID:     sale.ID,
				ReferenceType:   domain.RefSale,
				Description:     "sale " + sale.ReceiptNumber,
				CreatedBy:       cashier,
				TransactionDate: saleDate,
			}); err != nil {
				return err
			}
		case domain.PaymentMethodBnpl:
			dueDate := now.AddDate(0, 0, s.opts.BnplTermDays)
			if req.BnplDueDate != nil {
				dueDate = req.BnplDueDate.UTC()
			}
			bnpl, err := s.openBnpl(tx, sale, customer, sale.TotalAmountCents, dueDate, now)
			if err != nil {
				return err
			}
			resp.Bnpl = &bnpl
		}

		if customer != nil {
			if req.PaymentMethod != domain.PaymentMethodBnpl {
				if resp.PointsAwarded, err = s.awardLoyalty(tx, customer, sale.ID, sale.TotalAmountCents, now); err != nil {
					return err
				}
			}
			customer.UpdatedAt = now
			if err := tx.UpdateCustomer(*customer); err != nil {
				return err
			}
			if err := verifyCustomerDues(tx, *customer); err != nil {
				return err
			}
		}

		return remember(tx, key, opCreateSale, fp, sale.ID, resp, now)
	})
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	if resp.Duplicate {
		return resp, nil
	}

	s.invalidateSummary(ctx, resp.Sale.CustomerID)
	s.logger.Info("sale created",
		zap.String("sale_id", resp.Sale.ID),
		zap.String("receipt", resp.Sale.ReceiptNumber),
		zap.String("payment_method", resp.Sale.PaymentMethod),
		zap.Int64("total_cents", resp.Sale.TotalAmountCents))
	s.logAudit(ctx, "sale_create", "sale", resp.Sale.ID,
		fmt.Sprintf("receipt=%s,method=%s,total=%d", resp.Sale.ReceiptNumber, resp.Sale.PaymentMethod, resp.Sale.TotalAmountCents))
	return resp, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// mergeSaleLines folds repeated products into one line, ordered by product
// id so row locks are always taken in the same order.
func mergeSaleLines(lines []domain.SaleLine) ([]domain.SaleLine, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidRequest.WithMessage("at least one item is required")
	}
	qty := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, store.ErrInvalidRequest.WithMessage("product_id is required")
		}
		if line.Quantity < 1 {
			return nil, store.ErrInvalidRequest.WithMessage("quantity for %s must be positive", id)
		}
		qty[id] += line.Quantity
	}
	merged := make([]domain.SaleLine, 0, len(qty))
	for id, q := range qty {
		merged = append(merged, domain.SaleLine{ProductID: id, Quantity: q})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

func moveStock(tx store.Tx, productID string, delta int, refID string, refType string, at time.Time) error {
	if err := tx.AdjustStock(productID, delta); err != nil {
		return err
	}
	movement := domain.StockMovement{
		ID:            xid.New("mv"),
		ProductID:     productID,
		MovementType:  domain.MovementIn,
		Quantity:      delta,
		ReferenceID:   refID,
		ReferenceType: refType,
		CreatedAt:     at,
	}
	if delta < 0 {
		movement.MovementType = domain.MovementOut
		movement.Quantity = -delta
	}
	return tx.InsertStockMovement(movement)
}
