package ledger

import (
	"fmt"
	"sort"

	"posledger/backend/internal/domain"
)

const (
	CheckCustomerDues    = "customer_dues"
	CheckAvailableCredit = "available_credit"
	CheckBnplBalance     = "bnpl_balance"
	CheckBnplStatus      = "bnpl_status"
	CheckReturnedQty     = "returned_quantity"
	CheckCashEntry       = "cash_entry"
	CheckDuplicateEntry  = "duplicate_cash_entry"
	CheckTransferPair    = "transfer_pair"
)

type entryKey struct {
	refID   string
	refType string
	fund    string
}

// Reconcile compares derived balances with their sources and lists every
// disagreement. It only reports; repairs are an operator decision.
func Reconcile(snap domain.LedgerSnapshot) []domain.ConsistencyIssue {
	issues := make([]domain.ConsistencyIssue, 0)
	issues = append(issues, reconcileCustomers(snap)...)
	issues = append(issues, reconcileBnpl(snap)...)
	issues = append(issues, reconcileReturnedQty(snap)...)
	issues = append(issues, reconcileCash(snap)...)

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		return issues[i].EntityID < issues[j].EntityID
	})
	return issues
}

func reconcileCustomers(snap domain.LedgerSnapshot) []domain.ConsistencyIssue {
	dueByCustomer := make(map[string]int64, len(snap.Customers))
	for _, b := range snap.Bnpl {
		if b.Status != domain.BnplStatusPaid {
			dueByCustomer[b.CustomerID] += b.AmountDueCents
		}
	}

	var issues []domain.ConsistencyIssue
	for _, c := range snap.Customers {
		expected := dueByCustomer[c.ID]
		if c.TotalOutstandingDuesCents != expected {
			issues = append(issues, domain.ConsistencyIssue{
				Check:         CheckCustomerDues,
				EntityType:    "customer",
				EntityID:      c.ID,
				Detail:        "outstanding dues differ from open bnpl balances",
				ExpectedCents: expected,
				ActualCents:   c.TotalOutstandingDuesCents,
			})
		}
		if want := AvailableCredit(c.CreditLimitCents, c.TotalOutstandingDuesCents); c.AvailableCreditCents != want {
			issues = append(issues, domain.ConsistencyIssue{
				Check:         CheckAvailableCredit,
				EntityType:    "customer",
				EntityID:      c.ID,
				Detail:        "available credit is not max(0, limit - dues)",
				ExpectedCents: want,
				ActualCents:   c.AvailableCreditCents,
			})
		}
	}
	return issues
}

func reconcileBnpl(snap domain.LedgerSnapshot) []domain.ConsistencyIssue {
	var issues []domain.ConsistencyIssue
	for _, b := range snap.Bnpl {
		if !Balanced(b) {
			issues = append(issues, domain.ConsistencyIssue{
				Check:         CheckBnplBalance,
				EntityType:    "bnpl",
				EntityID:      b.ID,
				Detail:        "paid + due + return credit differs from original amount",
				ExpectedCents: b.OriginalAmountCents,
				ActualCents:   b.AmountPaidCents + b.AmountDueCents + b.ReturnCreditCents,
			})
		}
		if want := DeriveBnplStatus(b); want != b.Status {
			issues = append(issues, domain.ConsistencyIssue{
				Check:      CheckBnplStatus,
				EntityType: "bnpl",
				EntityID:   b.ID,
				Detail:     fmt.Sprintf("stored status %s, balances imply %s", b.Status, want),
			})
		}
	}
	return issues
}

func reconcileReturnedQty(snap domain.LedgerSnapshot) []domain.ConsistencyIssue {
	returned := make(map[string]int)
	for _, ret := range snap.Returns {
		for _, item := range ret.Items {
			returned[item.SaleItemID] += item.Quantity
		}
	}

	var issues []domain.ConsistencyIssue
	for _, sale := range snap.Sales {
		for _, item := range sale.Items {
			got := returned[item.ID]
			if got != item.ReturnedQuantity || item.ReturnedQuantity > item.Quantity {
				issues = append(issues, domain.ConsistencyIssue{
					Check:         CheckReturnedQty,
					EntityType:    "sale_item",
					EntityID:      item.ID,
					Detail:        fmt.Sprintf("returned_quantity %d, return items %d, sold %d", item.ReturnedQuantity, got, item.Quantity),
					ExpectedCents: int64(got),
					ActualCents:   int64(item.ReturnedQuantity),
				})
			}
		}
	}
	return issues
}

func reconcileCash(snap domain.LedgerSnapshot) []domain.ConsistencyIssue {
	byKey := make(map[entryKey][]domain.CashLedgerEntry, len(snap.CashEntries))
	byTransfer := make(map[string][]domain.CashLedgerEntry)
	for _, e := range snap.CashEntries {
		k := entryKey{refID: e.ReferenceID, refType: e.ReferenceType, fund: e.Fund}
		byKey[k] = append(byKey[k], e)
		if e.TransferID != "" {
			byTransfer[e.TransferID] = append(byTransfer[e.TransferID], e)
		}
	}

	var issues []domain.ConsistencyIssue
	expect := func(entityType string, id string, k entryKey, amount int64) {
		entries := byKey[k]
		if len(entries) != 1 {
			issues = append(issues, domain.ConsistencyIssue{
				Check:         CheckCashEntry,
				EntityType:    entityType,
				EntityID:      id,
				Detail:        fmt.Sprintf("expected exactly one %s ledger entry in %s, found %d", k.refType, k.fund, len(entries)),
				ExpectedCents: amount,
			})
			return
		}
		if entries[0].AmountCents != amount {
			issues = append(issues, domain.ConsistencyIssue{
				Check:         CheckCashEntry,
				EntityType:    entityType,
				EntityID:      id,
				Detail:        "ledger entry amount differs from source",
				ExpectedCents: amount,
				ActualCents:   entries[0].AmountCents,
			})
		}
	}

	for _, sale := range snap.Sales {
		if sale.PaymentMethod == domain.PaymentMethodCash {
			expect("sale", sale.ID, entryKey{sale.ID, domain.RefSale, domain.FundMain}, sale.TotalAmountCents)
		}
	}
	for _, refund := range snap.Refunds {
		if refund.PaymentMethod.PaysOutCash() && refund.PaidOutCents > 0 {
			expect("refund", refund.ID, entryKey{refund.ReturnID, domain.RefReturn, domain.FundMain}, -refund.PaidOutCents)
		}
	}
	for _, p := range snap.BnplPayments {
		if p.PaymentMethod == domain.PaymentMethodCash {
			expect("bnpl_payment", p.ID, entryKey{p.ID, domain.RefBnplPayment, domain.FundMain}, p.AmountCents)
		}
	}
	for _, e := range snap.Expenses {
		expect("expense", e.ID, entryKey{e.ID, domain.RefExpense, e.Fund}, -e.AmountCents)
	}

	for k, entries := range byKey {
		if len(entries) > 1 {
			issues = append(issues, domain.ConsistencyIssue{
				Check:      CheckDuplicateEntry,
				EntityType: k.refType,
				EntityID:   k.refID,
				Detail:     fmt.Sprintf("%d ledger entries share reference in fund %s", len(entries), k.fund),
			})
		}
	}
	for transferID, entries := range byTransfer {
		var sum int64
		for _, e := range entries {
			sum += e.AmountCents
		}
		if len(entries) != 2 || sum != 0 {
			issues = append(issues, domain.ConsistencyIssue{
				Check:       CheckTransferPair,
				EntityType:  "transfer",
				EntityID:    transferID,
				Detail:      fmt.Sprintf("transfer has %d legs summing to %d", len(entries), sum),
				ActualCents: sum,
			})
		}
	}
	return issues
}
