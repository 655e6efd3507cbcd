package domain

import (
	"fmt"
	"strings"
)

// RefundMethod is the closed set of ways a refund can be settled.
type RefundMethod string

const (
	RefundCash         RefundMethod = "cash"
	RefundBankTransfer RefundMethod = "bank_transfer"
	RefundStoreCredit  RefundMethod = "store_credit"
	RefundExchange     RefundMethod = "exchange"
)

func ParseRefundMethod(raw string) (RefundMethod, error) {
	switch m := RefundMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case RefundCash, RefundBankTransfer, RefundStoreCredit, RefundExchange:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported refund method %q", raw)
	}
}

// PaysOutCash reports whether the refund leaves the till as a negative
// cash ledger entry rather than as customer store credit.
func (m RefundMethod) PaysOutCash() bool {
	return m == RefundCash || m == RefundBankTransfer
}

// NeedsCustomer reports whether the method credits a customer account.
func (m RefundMethod) NeedsCustomer() bool {
	return m == RefundStoreCredit || m == RefundExchange
}

func IsValidCondition(condition string) bool {
	switch condition {
	case ConditionGood, ConditionDamaged, ConditionDefective:
		return true
	}
	return false
}

func IsSalePaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodBnpl:
		return true
	}
	return false
}

// IsBnplPaymentMethod covers the tenders accepted against an open BNPL balance.
func IsBnplPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBankTransfer:
		return true
	}
	return false
}

func IsFund(fund string) bool {
	return fund == FundMain || fund == FundPettyCash
}
