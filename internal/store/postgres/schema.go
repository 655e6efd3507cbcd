package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent so
// Migrate can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		stock_qty INTEGER NOT NULL DEFAULT 0 CHECK (stock_qty >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		credit_limit_cents BIGINT NOT NULL DEFAULT 0 CHECK (credit_limit_cents >= 0),
		total_outstanding_dues_cents BIGINT NOT NULL DEFAULT 0 CHECK (total_outstanding_dues_cents >= 0),
		available_credit_cents BIGINT NOT NULL DEFAULT 0 CHECK (available_credit_cents >= 0),
		loyalty_points BIGINT NOT NULL DEFAULT 0 CHECK (loyalty_points >= 0),
		current_balance_cents BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		receipt_number TEXT NOT NULL UNIQUE,
		customer_id TEXT REFERENCES customers(id),
		total_amount_cents BIGINT NOT NULL CHECK (total_amount_cents >= 0),
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		return_status TEXT NOT NULL DEFAULT 'none',
		sale_date TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents BIGINT NOT NULL,
		returned_quantity INTEGER NOT NULL DEFAULT 0,
		is_returned BOOLEAN NOT NULL DEFAULT false,
		CONSTRAINT sale_items_returned_bounds CHECK (returned_quantity >= 0 AND returned_quantity <= quantity)
	)`,
	`CREATE INDEX IF NOT EXISTS sale_items_sale_id_idx ON sale_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS returns (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		customer_id TEXT REFERENCES customers(id),
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		refund_amount_cents BIGINT NOT NULL,
		refund_method TEXT NOT NULL,
		processed_by TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS returns_sale_id_idx ON returns (sale_id)`,
	`CREATE TABLE IF NOT EXISTS return_items (
		id TEXT PRIMARY KEY,
		return_id TEXT NOT NULL REFERENCES returns(id),
		sale_item_id TEXT NOT NULL REFERENCES sale_items(id),
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents BIGINT NOT NULL,
		refund_price_cents BIGINT NOT NULL,
		condition TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refund_transactions (
		id TEXT PRIMARY KEY,
		return_id TEXT NOT NULL REFERENCES returns(id),
		sale_id TEXT NOT NULL REFERENCES sales(id),
		customer_id TEXT REFERENCES customers(id),
		amount_cents BIGINT NOT NULL,
		applied_to_due_cents BIGINT NOT NULL DEFAULT 0,
		paid_out_cents BIGINT NOT NULL DEFAULT 0,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bnpl_transactions (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL UNIQUE REFERENCES sales(id),
		customer_id TEXT NOT NULL REFERENCES customers(id),
		original_amount_cents BIGINT NOT NULL CHECK (original_amount_cents > 0),
		amount_paid_cents BIGINT NOT NULL DEFAULT 0 CHECK (amount_paid_cents >= 0),
		amount_due_cents BIGINT NOT NULL CHECK (amount_due_cents >= 0),
		return_credit_cents BIGINT NOT NULL DEFAULT 0 CHECK (return_credit_cents >= 0),
		due_date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		loyalty_awarded BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT bnpl_balanced CHECK (amount_paid_cents + amount_due_cents + return_credit_cents = original_amount_cents)
	)`,
	`CREATE INDEX IF NOT EXISTS bnpl_customer_idx ON bnpl_transactions (customer_id)`,
	`CREATE TABLE IF NOT EXISTS bnpl_payments (
		id TEXT PRIMARY KEY,
		bnpl_id TEXT NOT NULL REFERENCES bnpl_transactions(id),
		amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
		payment_method TEXT NOT NULL,
		receipt_number TEXT NOT NULL UNIQUE,
		remaining_after_cents BIGINT NOT NULL,
		processed_by TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cash_ledger (
		id TEXT PRIMARY KEY,
		fund TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		reference_id TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		transfer_id TEXT,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		transaction_date TIMESTAMPTZ NOT NULL,
		CONSTRAINT cash_ledger_reference_key UNIQUE (reference_id, reference_type, fund)
	)`,
	`CREATE INDEX IF NOT EXISTS cash_ledger_fund_date_idx ON cash_ledger (fund, transaction_date)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		fund TEXT NOT NULL,
		amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loyalty_rules (
		version INTEGER PRIMARY KEY,
		points_per_currency NUMERIC(12,4) NOT NULL,
		min_purchase_cents BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loyalty_rules_single_active ON loyalty_rules (active) WHERE active`,
	`CREATE TABLE IF NOT EXISTS loyalty_transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		sale_id TEXT NOT NULL REFERENCES sales(id),
		return_id TEXT REFERENCES returns(id),
		points_earned BIGINT NOT NULL DEFAULT 0,
		points_redeemed BIGINT NOT NULL DEFAULT 0,
		rule_version INTEGER NOT NULL REFERENCES loyalty_rules(version),
		points_per_currency NUMERIC(12,4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS loyalty_transactions_sale_idx ON loyalty_transactions (sale_id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		movement_type TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		reference_id TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		key TEXT NOT NULL,
		operation TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		response JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT idempotency_records_pkey PRIMARY KEY (key)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_created_idx ON audit_logs (created_at)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
