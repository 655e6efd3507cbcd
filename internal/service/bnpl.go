package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// openBnpl creates the tracker for a sale and charges it to the customer's
// credit. customer is updated in place; the caller persists it.
func (s *Service) openBnpl(tx store.Tx, sale domain.Sale, customer *domain.Customer, amount int64, dueDate time.Time, now time.Time) (domain.BnplTransaction, error) {
	if amount <= 0 {
		return domain.BnplTransaction{}, store.ErrInvalidAmount
	}
	if amount > customer.AvailableCreditCents {
		return domain.BnplTransaction{}, store.ErrInsufficientCredit.WithMessage(
			"customer %s has %d available credit, sale needs %d", customer.ID, customer.AvailableCreditCents, amount)
	}
	if !dueDate.After(now) {
		return domain.BnplTransaction{}, store.ErrInvalidRequest.WithMessage("due date must be in the future")
	}

	bnpl := ledger.NewBnpl(xid.New("bnpl"), sale, customer.ID, amount, dueDate, now)
	if err := tx.InsertBnpl(bnpl); err != nil {
		return domain.BnplTransaction{}, err
	}
	*customer = ledger.AdjustDues(*customer, amount)
	return bnpl, nil
}

// CreateBnpl opens a tracker for an existing BNPL sale that has none.
func (s *Service) CreateBnpl(ctx context.Context, req domain.BnplCreateRequest) (domain.BnplCreateResponse, error) {
	key, err := requireKey(req.IdempotencyKey)
	if err != nil {
		return domain.BnplCreateResponse{}, err
	}
	req.IdempotencyKey = ""
	req.SaleID = strings.TrimSpace(req.SaleID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.SaleID == "" {
		return domain.BnplCreateResponse{}, store.ErrInvalidRequest.WithMessage("sale_id is required")
	}
	if req.AmountCents < 0 {
		return domain.BnplCreateResponse{}, store.ErrInvalidAmount
	}
	fp, err := fingerprint(opCreateBnpl, req)
	if err != nil {
		return domain.BnplCreateResponse{}, err
	}

	var resp domain.BnplCreateResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		resp = domain.BnplCreateResponse{}
		if ok, err := replay(tx, key, opCreateBnpl, fp, &resp); err != nil || ok {
			resp.Duplicate = ok
			return err
		}

		now := s.now()
		sale, err := tx.LockSale(req.SaleID)
		if err != nil {
			return err
		}
		if sale.PaymentMethod != domain.PaymentMethodBnpl {
			return store.ErrInvalidRequest.WithMessage("sale %s was not paid with bnpl", sale.ID)
		}
		if sale.CustomerID == "" {
			return store.ErrInvalidRequest.WithMessage("sale %s has no customer", sale.ID)
		}
		if req.CustomerID != "" && req.CustomerID != sale.CustomerID {
			return store.ErrInvalidRequest.WithMessage("customer_id does not match sale %s", sale.ID)
		}
		if _, err := tx.LockBnplBySale(sale.ID); err == nil {
			return store.ErrBnplExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		amount := req.AmountCents
		if amount == 0 {
			amount = sale.TotalAmountCents
		}
		if amount > sale.TotalAmountCents {
			return store.ErrInvalidAmount.WithMessage("amount %d exceeds sale total %d", amount, sale.TotalAmountCents)
		}
		dueDate := now.AddDate(0, 0, s.opts.BnplTermDays)
		if req.DueDate != nil {
			dueDate = req.DueDate.UTC()
		}

		customer, err := tx.LockCustomer(sale.CustomerID)
		if err != nil {
			return err
		}
		bnpl, err := s.openBnpl(tx, *sale, customer, amount, dueDate, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateSaleStatus(sale.ID, ledger.SalePaymentStatus(bnpl), sale.ReturnStatus); err != nil {
			return err
		}
		customer.UpdatedAt = now
		if err := tx.UpdateCustomer(*customer); err != nil {
			return err
		}
		if err := verifyCustomerDues(tx, *customer); err != nil {
			return err
		}

		resp.Bnpl = bnpl
		return remember(tx, key, opCreateBnpl, fp, bnpl.ID, resp, now)
	})
	if err != nil {
		return domain.BnplCreateResponse{}, err
	}
	if resp.Duplicate {
		return resp, nil
	}

	s.invalidateSummary(ctx, resp.Bnpl.CustomerID)
	s.logAudit(ctx, "bnpl_create", "bnpl", resp.Bnpl.ID, fmt.Sprintf("sale=%s,amount=%d", resp.Bnpl.SaleID, resp.Bnpl.OriginalAmountCents))
	return resp, nil
}

// ProcessBnplPayment applies an instalment to a tracker. Points for the
// sale are awarded once, when the tracker settles.
func (s *Service) ProcessBnplPayment(ctx context.Context, req domain.BnplPaymentRequest) (domain.BnplPaymentResponse, error) {
	key, err := requireKey(req.IdempotencyKey)
	if err != nil {
		return domain.BnplPaymentResponse{}, err
	}
	req.IdempotencyKey = ""
	req.BnplID = strings.TrimSpace(req.BnplID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.BnplID == "" {
		return domain.BnplPaymentResponse{}, store.ErrInvalidRequest.WithMessage("bnpl_id is required")
	}
	if !domain.IsBnplPaymentMethod(req.PaymentMethod) {
		return domain.BnplPaymentResponse{}, store.ErrInvalidRequest.WithMessage("unknown payment_method %q", req.PaymentMethod)
	}
	req.ProcessedBy = processedBy(ctx, req.ProcessedBy)
	fp, err := fingerprint(opBnplPayment, req)
	if err != nil {
		return domain.BnplPaymentResponse{}, err
	}

	// The sale id is fixed for the tracker's lifetime, so it can be read
	// before locking to keep the sale, bnpl, customer lock order.
	current, err := s.repo.GetBnpl(ctx, req.BnplID)
	if err != nil {
		return domain.BnplPaymentResponse{}, err
	}

	var (
		resp       domain.BnplPaymentResponse
		customerID string
	)
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		resp = domain.BnplPaymentResponse{}
		if ok, err := replay(tx, key, opBnplPayment, fp, &resp); err != nil || ok {
			resp.Duplicate = ok
			return err
		}

		now := s.now()
		sale, err := tx.LockSale(current.SaleID)
		if err != nil {
			return err
		}
		bnpl, err := tx.LockBnpl(req.BnplID)
		if err != nil {
			return err
		}
		customer, err := tx.LockCustomer(bnpl.CustomerID)
		if err != nil {
			return err
		}
		customerID = customer.ID

		updated, err := ledger.ApplyPayment(*bnpl, req.AmountCents, now)
		if err != nil {
			return err
		}
		*customer = ledger.AdjustDues(*customer, -req.AmountCents)

		payment := domain.BnplPayment{
			ID:                  xid.New("bpay"),
			BnplID:              bnpl.ID,
			AmountCents:         req.AmountCents,
			PaymentMethod:       req.PaymentMethod,
			ReceiptNumber:       xid.Receipt("BNPL", now),
			RemainingAfterCents: updated.AmountDueCents,
			ProcessedBy:         req.ProcessedBy,
			IdempotencyKey:      key,
			CreatedAt:           now,
		}
		if err := tx.InsertBnplPayment(payment); err != nil {
			return err
		}
		if req.PaymentMethod == domain.PaymentMethodCash {
			if _, err := appendCashEntry(tx, domain.CashLedgerEntry{
				Fund:            domain.FundMain,
				TransactionType: domain.LedgerTypeBnplPayment,
				AmountCents:     req.AmountCents,
				ReferenceID:     payment.ID,
				ReferenceType:   domain.RefBnplPayment,
				Description:     "bnpl payment " + payment.ReceiptNumber,
				CreatedBy:       req.ProcessedBy,
				TransactionDate: now,
			}); err != nil {
				return err
			}
		}

		// A payment that settles the tracker earns on the original amount.
		// Returns taken after this point claw back through deductLoyalty.
		points, err := s.settleBnplLoyalty(tx, &updated, sale.ID, customer, updated.OriginalAmountCents, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateBnpl(updated); err != nil {
			return err
		}
		if sale.PaymentStatus != domain.PaymentStatusRefunded {
			if err := tx.UpdateSaleStatus(sale.ID, ledger.SalePaymentStatus(updated), sale.ReturnStatus); err != nil {
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

		resp = domain.BnplPaymentResponse{
			Success:              true,
			Message:              "Payment processed",
			RemainingAmountCents: updated.AmountDueCents,
			PaymentID:            payment.ID,
			ReceiptNumber:        payment.ReceiptNumber,
			Status:               updated.Status,
			PointsAwarded:        points,
		}
		if updated.Status == domain.BnplStatusPaid {
			resp.Message = "BNPL fully paid"
		}
		return remember(tx, key, opBnplPayment, fp, payment.ID, resp, now)
	})
	if err != nil {
		return domain.BnplPaymentResponse{}, err
	}
	if resp.Duplicate {
		return resp, nil
	}

	s.invalidateSummary(ctx, customerID)
	s.logger.Info("bnpl payment processed",
		zap.String("bnpl_id", req.BnplID),
		zap.String("payment_id", resp.PaymentID),
		zap.Int64("amount_cents", req.AmountCents),
		zap.Int64("remaining_cents", resp.RemainingAmountCents))
	s.logAudit(ctx, "bnpl_payment", "bnpl", req.BnplID, fmt.Sprintf("payment=%s,amount=%d,remaining=%d", resp.PaymentID, req.AmountCents, resp.RemainingAmountCents))
	return resp, nil
}

// settleBnplLoyalty awards the sale's points on basisCents the first time
// its tracker reaches paid. bnpl is marked as awarded in place.
func (s *Service) settleBnplLoyalty(tx store.Tx, bnpl *domain.BnplTransaction, saleID string, customer *domain.Customer, basisCents int64, now time.Time) (int64, error) {
	if bnpl.Status != domain.BnplStatusPaid || bnpl.LoyaltyAwarded {
		return 0, nil
	}
	bnpl.LoyaltyAwarded = true
	return s.awardLoyalty(tx, customer, saleID, basisCents, now)
}

func (s *Service) GetBnpl(ctx context.Context, id string) (domain.BnplTransaction, error) {
	bnpl, err := s.repo.GetBnpl(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.BnplTransaction{}, err
	}
	out := *bnpl
	out.Status = ledger.EffectiveStatus(out, s.now())
	return out, nil
}

func (s *Service) ListBnplPayments(ctx context.Context, bnplID string) ([]domain.BnplPayment, error) {
	bnplID = strings.TrimSpace(bnplID)
	if _, err := s.repo.GetBnpl(ctx, bnplID); err != nil {
		return nil, err
	}
	return s.repo.ListBnplPayments(ctx, bnplID)
}

// CustomerBnplSummary reports a customer's credit position. Results are
// cached briefly and dropped whenever a write touches the customer.
func (s *Service) CustomerBnplSummary(ctx context.Context, customerID string) (domain.BnplSummary, error) {
	customerID = strings.TrimSpace(customerID)
	if cached, ok, err := s.summary.Get(ctx, customerID); err != nil {
		s.logger.Warn("read bnpl summary cache", zap.String("customer_id", customerID), zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.BnplSummary{}, err
	}
	trackers, err := s.repo.ListBnplByCustomer(ctx, customerID)
	if err != nil {
		return domain.BnplSummary{}, err
	}

	now := s.now()
	summary := domain.BnplSummary{
		CustomerID:            customer.ID,
		CreditLimitCents:      customer.CreditLimitCents,
		TotalOutstandingCents: customer.TotalOutstandingDuesCents,
		AvailableCreditCents:  customer.AvailableCreditCents,
	}
	for _, b := range trackers {
		switch ledger.EffectiveStatus(b, now) {
		case domain.BnplStatusPaid:
		case domain.BnplStatusOverdue:
			summary.ActiveCount++
			summary.OverdueCount++
			summary.OverdueAmountCents += b.AmountDueCents
		default:
			summary.ActiveCount++
		}
	}

	if err := s.summary.Set(ctx, customerID, &summary, s.opts.SummaryTTL); err != nil {
		s.logger.Warn("write bnpl summary cache", zap.String("customer_id", customerID), zap.Error(err))
	}
	return summary, nil
}
