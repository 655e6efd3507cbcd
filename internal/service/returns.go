package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// ProcessReturn takes back items from a paid sale and settles the refund.
// Everything it writes commits together or not at all.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	key, err := requireKey(req.IdempotencyKey)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	req.IdempotencyKey = ""
	req.SaleID = strings.TrimSpace(req.SaleID)
	req.Reason = strings.TrimSpace(req.Reason)
	req.Notes = strings.TrimSpace(req.Notes)
	if req.SaleID == "" {
		return domain.ReturnResponse{}, store.ErrInvalidRequest.WithMessage("sale_id is required")
	}
	method, err := domain.ParseRefundMethod(req.RefundMethod)
	if err != nil {
		return domain.ReturnResponse{}, store.ErrInvalidRequest.WithMessage("%v", err)
	}
	req.RefundMethod = string(method)
	req.ProcessedBy = processedBy(ctx, req.ProcessedBy)
	fp, err := fingerprint(opProcessReturn, req)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	var resp domain.ReturnResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		resp = domain.ReturnResponse{}
		if ok, err := replay(tx, key, opProcessReturn, fp, &resp); err != nil || ok {
			resp.Duplicate = ok
			return err
		}

		now := s.now()
		sale, err := tx.LockSale(req.SaleID)
		if err != nil {
			return err
		}
		if err := ledger.CheckReturnable(*sale, now, s.opts.ReturnWindowDays); err != nil {
			return err
		}
		plan, err := ledger.PlanReturn(*sale, req.Items)
		if err != nil {
			return err
		}
		if method.NeedsCustomer() && sale.CustomerID == "" {
			return store.ErrInvalidRequest.WithMessage("refund method %s needs a sale with a customer", method)
		}

		var bnpl *domain.BnplTransaction
		if sale.PaymentMethod == domain.PaymentMethodBnpl {
			bnpl, err = tx.LockBnplBySale(sale.ID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		var customer *domain.Customer
		if sale.CustomerID != "" {
			if customer, err = tx.LockCustomer(sale.CustomerID); err != nil {
				return err
			}
		}

		ret := domain.Return{
			ID:                xid.New("ret"),
			SaleID:            sale.ID,
			CustomerID:        sale.CustomerID,
			Reason:            req.Reason,
			Status:            domain.ReturnStateCompleted,
			RefundAmountCents: plan.TotalCents,
			RefundMethod:      method,
			ProcessedBy:       req.ProcessedBy,
			Notes:             req.Notes,
			CreatedAt:         now,
			Items:             make([]domain.ReturnItem, 0, len(plan.Lines)),
		}
		for _, line := range plan.Lines {
			ret.Items = append(ret.Items, domain.ReturnItem{
				ID:               xid.New("reti"),
				ReturnID:         ret.ID,
				SaleItemID:       line.Item.ID,
				ProductID:        line.Item.ProductID,
				Quantity:         line.Quantity,
				UnitPriceCents:   line.Item.UnitPriceCents,
				RefundPriceCents: line.RefundCents,
				Condition:        line.Condition,
			})
		}
		if err := tx.InsertReturn(ret); err != nil {
			return err
		}

		returned := make(map[string]int, len(plan.Lines))
		for _, line := range plan.Lines {
			returned[line.Item.ID] += line.Quantity
			if err := moveStock(tx, line.Item.ProductID, line.Quantity, ret.ID, domain.RefReturn, now); err != nil {
				return err
			}
		}
		for i := range sale.Items {
			item := &sale.Items[i]
			qty, ok := returned[item.ID]
			if !ok {
				continue
			}
			item.ReturnedQuantity += qty
			item.IsReturned = item.ReturnedQuantity >= item.Quantity
			if err := tx.UpdateSaleItemReturned(item.ID, item.ReturnedQuantity, item.IsReturned); err != nil {
				return err
			}
		}

		refund := domain.RefundTransaction{
			ID:            xid.New("rfd"),
			ReturnID:      ret.ID,
			SaleID:        sale.ID,
			CustomerID:    sale.CustomerID,
			AmountCents:   plan.TotalCents,
			PaymentMethod: method,
			Status:        domain.RefundStatusCompleted,
			CreatedAt:     now,
		}

		// Credit against an open BNPL balance comes first; only the rest is
		// handed back through the refund method.
		if bnpl != nil {
			var applied int64
			*bnpl, applied = ledger.ApplyReturnCredit(*bnpl, plan.TotalCents, now)
			refund.AppliedToDueCents = applied
			if customer != nil && applied > 0 {
				*customer = ledger.AdjustDues(*customer, -applied)
			}
		}
		refund.PaidOutCents = plan.TotalCents - refund.AppliedToDueCents

		switch method {
		case domain.RefundCash, domain.RefundBankTransfer:
			if refund.PaidOutCents > 0 {
				if _, err := appendCashEntry(tx, domain.CashLedgerEntry{
					Fund:            domain.FundMain,
					TransactionType: domain.LedgerTypeRefund,
					AmountCents:     -refund.PaidOutCents,
					ReferenceID:     ret.ID,
					ReferenceType:   domain.RefReturn,
					Description:     "refund for sale " + sale.ReceiptNumber,
					CreatedBy:       req.ProcessedBy,
					TransactionDate: now,
				}); err != nil {
					return err
				}
			}
		case domain.RefundStoreCredit, domain.RefundExchange:
			customer.CurrentBalanceCents += refund.PaidOutCents
		default:
			return store.ErrInvalidRequest.WithMessage("unhandled refund method %q", method)
		}
		if err := tx.InsertRefund(refund); err != nil {
			return err
		}

		if customer != nil {
			if resp.PointsDeducted, err = s.deductLoyalty(tx, customer, sale.ID, ret.ID, plan.TotalCents, now); err != nil {
				return err
			}
		}

		sale.ReturnStatus = ledger.DeriveReturnStatus(sale.Items)
		if bnpl != nil {
			if customer != nil {
				if _, err := s.settleBnplLoyalty(tx, bnpl, sale.ID, customer, ledger.ReturnSettledBasis(*bnpl, *sale), now); err != nil {
					return err
				}
			}
			if err := tx.UpdateBnpl(*bnpl); err != nil {
				return err
			}
			sale.PaymentStatus = ledger.SalePaymentStatus(*bnpl)
		}
		if sale.ReturnStatus == domain.SaleReturnFull {
			sale.PaymentStatus = domain.PaymentStatusRefunded
		}
		if err := tx.UpdateSaleStatus(sale.ID, sale.PaymentStatus, sale.ReturnStatus); err != nil {
			return err
		}

		if customer != nil {
			customer.UpdatedAt = now
			if err := tx.UpdateCustomer(*customer); err != nil {
				return err
			}
			if err := verifyCustomerDues(tx, *customer); err != nil {
				return err
			}
		}

		resp = domain.ReturnResponse{
			Success:           true,
			Message:           "Return processed",
			ReturnID:          ret.ID,
			RefundID:          refund.ID,
			RefundAmountCents: refund.AmountCents,
			AppliedToDueCents: refund.AppliedToDueCents,
			PaidOutCents:      refund.PaidOutCents,
			RefundMethod:      method,
			PointsDeducted:    resp.PointsDeducted,
			SaleReturnStatus:  sale.ReturnStatus,
			Return:            ret,
		}
		return remember(tx, key, opProcessReturn, fp, ret.ID, resp, now)
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if resp.Duplicate {
		return resp, nil
	}

	s.invalidateSummary(ctx, resp.Return.CustomerID)
	s.logger.Info("return processed",
		zap.String("return_id", resp.ReturnID),
		zap.String("sale_id", resp.Return.SaleID),
		zap.String("refund_method", string(resp.RefundMethod)),
		zap.Int64("refund_cents", resp.RefundAmountCents),
		zap.Int64("applied_to_due_cents", resp.AppliedToDueCents))
	s.logAudit(ctx, "return_process", "sale", resp.Return.SaleID,
		fmt.Sprintf("return=%s,method=%s,refund=%d,applied=%d", resp.ReturnID, resp.RefundMethod, resp.RefundAmountCents, resp.AppliedToDueCents))
	return resp, nil
}

// ValidateReturnEligibility reports whether a sale can still be returned.
// An unknown sale yields an ineligible result rather than an error.
func (s *Service) ValidateReturnEligibility(ctx context.Context, saleID string) (domain.ReturnEligibility, error) {
	saleID = strings.TrimSpace(saleID)
	sale, err := s.repo.GetSale(ctx, saleID)
	if errors.Is(err, store.ErrSaleNotFound) {
		return ledger.Eligibility(nil, saleID, s.now(), s.opts.ReturnWindowDays), nil
	}
	if err != nil {
		return domain.ReturnEligibility{}, err
	}
	return ledger.Eligibility(sale, saleID, s.now(), s.opts.ReturnWindowDays), nil
}

// ReturnableItems lists the sale's items that still have quantity left to
// return.
func (s *Service) ReturnableItems(ctx context.Context, saleID string) ([]domain.ReturnableItem, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return nil, err
	}

	items := make([]domain.ReturnableItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Returnable() <= 0 {
			continue
		}
		name := item.ProductID
		if product, err := s.repo.GetProduct(ctx, item.ProductID); err == nil {
			name = product.Name
		} else if !errors.Is(err, store.ErrProductNotFound) {
			return nil, err
		}
		items = append(items, domain.ReturnableItem{
			SaleItemID:         item.ID,
			ProductID:          item.ProductID,
			ProductName:        name,
			Quantity:           item.Quantity,
			ReturnedQuantity:   item.ReturnedQuantity,
			ReturnableQuantity: item.Returnable(),
			UnitPriceCents:     item.UnitPriceCents,
		})
	}
	return items, nil
}

func (s *Service) ListReturns(ctx context.Context, saleID string) ([]domain.Return, error) {
	saleID = strings.TrimSpace(saleID)
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListReturnsBySale(ctx, saleID)
}
