package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// appendCashEntry writes entry exactly once per (reference, type, fund).
// When a matching row already exists it is returned unchanged.
func appendCashEntry(tx store.Tx, entry domain.CashLedgerEntry) (domain.CashLedgerEntry, error) {
	existing, err := tx.FindCashEntry(entry.ReferenceID, entry.ReferenceType, entry.Fund)
	if err == nil {
		return *existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.CashLedgerEntry{}, err
	}
	if entry.ID == "" {
		entry.ID = xid.New("cash")
	}
	if err := tx.InsertCashEntry(entry); err != nil {
		return domain.CashLedgerEntry{}, err
	}
	return entry, nil
}

func normalizeFund(fund string) (string, error) {
	fund = strings.ToLower(strings.TrimSpace(fund))
	if fund == "" {
		return domain.FundMain, nil
	}
	if !domain.IsFund(fund) {
		return "", store.ErrInvalidRequest.WithMessage("unknown fund %q", fund)
	}
	return fund, nil
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseRequest) (domain.ExpenseResponse, error) {
	key, err := requireKey(req.IdempotencyKey)
	if err != nil {
		return domain.ExpenseResponse{}, err
	}
	req.IdempotencyKey = ""
	if req.Fund, err = normalizeFund(req.Fund); err != nil {
		return domain.ExpenseResponse{}, err
	}
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if req.AmountCents <= 0 {
		return domain.ExpenseResponse{}, store.ErrInvalidAmount
	}
	if req.Category == "" {
		return domain.ExpenseResponse{}, store.ErrInvalidRequest.WithMessage("category is required")
	}
	fp, err := fingerprint(opExpense, req)
	if err != nil {
		return domain.ExpenseResponse{}, err
	}
	actor := processedBy(ctx, "")

	var resp domain.ExpenseResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		resp = domain.ExpenseResponse{}
		if ok, err := replay(tx, key, opExpense, fp, &resp); err != nil || ok {
			resp.Duplicate = ok
			return err
		}

		now := s.now()
		balance, err := tx.CashBalance(req.Fund, now)
		if err != nil {
			return err
		}
		if balance < req.AmountCents {
			return store.ErrInsufficientFunds.WithMessage("fund %s holds %d, expense needs %d", req.Fund, balance, req.AmountCents)
		}

		expense := domain.Expense{
			ID:          xid.New("exp"),
			Fund:        req.Fund,
			AmountCents: req.AmountCents,
			Category:    req.Category,
			Description: req.Description,
			CreatedBy:   actor,
			CreatedAt:   now,
		}
		if err := tx.InsertExpense(expense); err != nil {
			return err
		}
		entry, err := appendCashEntry(tx, domain.CashLedgerEntry{
			Fund:            req.Fund,
			TransactionType: domain.LedgerTypeExpense,
			AmountCents:     -req.AmountCents,
			ReferenceID:     expense.ID,
			ReferenceType:   domain.RefExpense,
			Description:     req.Category,
			CreatedBy:       actor,
			TransactionDate: now,
		})
		if err != nil {
			return err
		}

		resp = domain.ExpenseResponse{Expense: expense, Entry: entry}
		return remember(tx, key, opExpense, fp, expense.ID, resp, now)
	})
	if err != nil {
		return domain.ExpenseResponse{}, err
	}
	if resp.Duplicate {
		return resp, nil
	}

	s.logger.Info("expense recorded",
		zap.String("expense_id", resp.Expense.ID),
		zap.String("fund", resp.Expense.Fund),
		zap.Int64("amount_cents", resp.Expense.AmountCents))
	s.logAudit(ctx, "cash_expense", "expense", resp.Expense.ID, fmt.Sprintf("fund=%s,amount=%d,category=%s", resp.Expense.Fund, resp.Expense.AmountCents, resp.Expense.Category))
	return resp, nil
}

// TransferFunds moves money between funds as two entries sharing one
// transfer id.
func (s *Service) TransferFunds(ctx context.Context, req domain.TransferRequest) (domain.TransferResponse, error) {
	key, err := requireKey(req.IdempotencyKey)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	req.IdempotencyKey = ""
	if req.FromFund, err = normalizeFund(req.FromFund); err != nil {
		return domain.TransferResponse{}, err
	}
	if req.ToFund, err = normalizeFund(req.ToFund); err != nil {
		return domain.TransferResponse{}, err
	}
	if req.FromFund == req.ToFund {
		return domain.TransferResponse{}, store.ErrInvalidRequest.WithMessage("transfer needs two different funds")
	}
	if req.AmountCents <= 0 {
		return domain.TransferResponse{}, store.ErrInvalidAmount
	}
	req.Description = strings.TrimSpace(req.Description)
	fp, err := fingerprint(opTransfer, req)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	actor := processedBy(ctx, "")

	var resp domain.TransferResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		resp = domain.TransferResponse{}
		if ok, err := replay(tx, key, opTransfer, fp, &resp); err != nil || ok {
			resp.Duplicate = ok
			return err
		}

		now := s.now()
		balance, err := tx.CashBalance(req.FromFund, now)
		if err != nil {
			return err
		}
		if balance < req.AmountCents {
			return store.ErrInsufficientFunds.WithMessage("fund %s holds %d, transfer needs %d", req.FromFund, balance, req.AmountCents)
		}

		transferID := xid.New("trf")
		out, err := appendCashEntry(tx, domain.CashLedgerEntry{
			Fund:            req.FromFund,
			TransactionType: domain.LedgerTypeTransferOut,
			AmountCents:     -req.AmountCents,
			ReferenceID:     transferID,
			ReferenceType:   domain.RefTransferOut,
			TransferID:      transferID,
			Description:     req.Description,
			CreatedBy:       actor,
			TransactionDate: now,
		})
		if err != nil {
			return err
		}
		in, err := appendCashEntry(tx, domain.CashLedgerEntry{
			Fund:            req.ToFund,
			TransactionType: domain.LedgerTypeTransferIn,
			AmountCents:     req.AmountCents,
			ReferenceID:     transferID,
			ReferenceType:   domain.RefTransferIn,
			TransferID:      transferID,
			Description:     req.Description,
			CreatedBy:       actor,
			TransactionDate: now,
		})
		if err != nil {
			return err
		}

		resp = domain.TransferResponse{TransferID: transferID, Out: out, In: in}
		return remember(tx, key, opTransfer, fp, transferID, resp, now)
	})
	if err != nil {
		return domain.TransferResponse{}, err
	}
	if resp.Duplicate {
		return resp, nil
	}

	s.logAudit(ctx, "cash_transfer", "transfer", resp.TransferID, fmt.Sprintf("from=%s,to=%s,amount=%d", req.FromFund, req.ToFund, req.AmountCents))
	return resp, nil
}

// CashBalance sums a fund's entries dated at or before at; a nil at means now.
func (s *Service) CashBalance(ctx context.Context, fund string, at *time.Time) (domain.CashBalance, error) {
	fund, err := normalizeFund(fund)
	if err != nil {
		return domain.CashBalance{}, err
	}
	when := s.now()
	if at != nil {
		when = at.UTC()
	}
	balance, err := s.repo.CashBalance(ctx, fund, when)
	if err != nil {
		return domain.CashBalance{}, err
	}
	return domain.CashBalance{Fund: fund, BalanceCents: balance, At: when}, nil
}

func (s *Service) ListCashEntries(ctx context.Context, fund string, limit int) ([]domain.CashLedgerEntry, error) {
	fund = strings.TrimSpace(fund)
	if fund != "" {
		var err error
		if fund, err = normalizeFund(fund); err != nil {
			return nil, err
		}
	}
	return s.repo.ListCashEntries(ctx, fund, limit)
}
