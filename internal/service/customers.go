package service

import (
	"context"
	"fmt"
	"strings"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidRequest.WithMessage("name is required")
	}
	if req.CreditLimitCents < 0 {
		return domain.Customer{}, store.ErrInvalidRequest.WithMessage("credit_limit_cents must not be negative")
	}

	now := s.now()
	customer := domain.Customer{
		ID:                   xid.New("cust"),
		Name:                 req.Name,
		Phone:                req.Phone,
		CreditLimitCents:     req.CreditLimitCents,
		AvailableCreditCents: req.CreditLimitCents,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertCustomer(customer)
	}); err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", customer.ID, fmt.Sprintf("credit_limit=%d", customer.CreditLimitCents))
	return customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// verifyCustomerDues re-checks, inside the unit of work, that the
// customer's mirrored dues equal the sum of their open BNPL balances.
func verifyCustomerDues(tx store.Tx, customer domain.Customer) error {
	due, err := tx.ActiveBnplDue(customer.ID)
	if err != nil {
		return err
	}
	if due != customer.TotalOutstandingDuesCents {
		return store.ErrConsistency.WithMessage(
			"customer %s outstanding dues %d do not match open bnpl balances %d",
			customer.ID, customer.TotalOutstandingDuesCents, due)
	}
	return nil
}
