package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

const (
	opCreateSale    = "sale.create"
	opCreateBnpl    = "bnpl.create"
	opBnplPayment   = "bnpl.payment"
	opProcessReturn = "return.process"
	opExpense       = "cash.expense"
	opTransfer      = "cash.transfer"
)

// fingerprint identifies a request body independent of its idempotency
// key so a replay can be told apart from a key collision.
func fingerprint(operation string, req any) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", operation, err)
	}
	sum := sha256.Sum256(append([]byte(operation+":"), payload...))
	return hex.EncodeToString(sum[:]), nil
}

// replay loads the stored response for key into out. It reports false when
// the key is new, and ErrIdempotencyConflict when the key was used for a
// different request.
func replay(tx store.Tx, key string, operation string, fp string, out any) (bool, error) {
	rec, err := tx.FindIdempotency(key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Operation != operation || rec.Fingerprint != fp {
		return false, store.ErrIdempotencyConflict.WithMessage("idempotency key %s was used for a different %s request", key, rec.Operation)
	}
	if err := json.Unmarshal(rec.Response, out); err != nil {
		return false, fmt.Errorf("decode stored response for %s: %w", key, err)
	}
	return true, nil
}

func remember(tx store.Tx, key string, operation string, fp string, resourceID string, resp any, at time.Time) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response for %s: %w", key, err)
	}
	return tx.SaveIdempotency(domain.IdempotencyRecord{
		Key:         key,
		Operation:   operation,
		Fingerprint: fp,
		ResourceID:  resourceID,
		Response:    payload,
		CreatedAt:   at,
	})
}
