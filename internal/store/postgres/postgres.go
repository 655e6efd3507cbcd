package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

const txAttempts = 3

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a SERIALIZABLE transaction. Serialization failures,
// deadlocks and a lost race on an idempotency key are retried; on the retry
// the winner's committed record is visible and the caller replays it. A
// receipt number collision is retried too and fn draws a fresh one.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, price_cents, stock_qty, updated_at
		FROM products
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.domain()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, price_cents, stock_qty, updated_at
		FROM products
		ORDER BY name
	`); err != nil {
		return nil, err
	}
	return mapRows(rows, productRow.domain), nil
}

// PutProduct inserts or replaces catalogue data. Stock movements are not
// written; it is meant for seeding.
func (s *Store) PutProduct(ctx context.Context, p domain.Product) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, stock_qty, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
			stock_qty = EXCLUDED.stock_qty, updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.PriceCents, p.StockQty, p.UpdatedAt)
	return err
}

func (s *Store) ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	var rows []stockMovementRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, product_id, movement_type, quantity, reference_id, reference_type, created_at
		FROM stock_movements
		WHERE $1 = '' OR product_id = $1
		ORDER BY created_at, id
	`, productID); err != nil {
		return nil, err
	}
	return mapRows(rows, stockMovementRow.domain), nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	c := row.domain()
	return &c, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id, false)
}

func (s *Store) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error) {
	var rows []returnRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Return{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var itemRows []returnItemRow
	if err := s.db.SelectContext(ctx, &itemRows, `
		SELECT `+returnItemColumns+`
		FROM return_items
		WHERE return_id = ANY($1)
		ORDER BY id
	`, ids); err != nil {
		return nil, err
	}
	items := groupReturnItems(itemRows)

	result := make([]domain.Return, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain(items[r.ID]))
	}
	return result, nil
}

func (s *Store) GetBnpl(ctx context.Context, id string) (*domain.BnplTransaction, error) {
	var row bnplRow
	err := s.db.GetContext(ctx, &row, `SELECT `+bnplColumns+` FROM bnpl_transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBnplNotFound
	}
	if err != nil {
		return nil, err
	}
	b := row.domain()
	return &b, nil
}

func (s *Store) ListBnplByCustomer(ctx context.Context, customerID string) ([]domain.BnplTransaction, error) {
	var rows []bnplRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+bnplColumns+`
		FROM bnpl_transactions
		WHERE customer_id = $1
		ORDER BY created_at, id
	`, customerID); err != nil {
		return nil, err
	}
	return mapRows(rows, bnplRow.domain), nil
}

func (s *Store) ListBnplPayments(ctx context.Context, bnplID string) ([]domain.BnplPayment, error) {
	var rows []bnplPaymentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+bnplPaymentColumns+`
		FROM bnpl_payments
		WHERE bnpl_id = $1
		ORDER BY created_at, id
	`, bnplID); err != nil {
		return nil, err
	}
	return mapRows(rows, bnplPaymentRow.domain), nil
}

func (s *Store) CashBalance(ctx context.Context, fund string, at time.Time) (int64, error) {
	return cashBalance(ctx, s.db, fund, at)
}

func (s *Store) ListCashEntries(ctx context.Context, fund string, limit int) ([]domain.CashLedgerEntry, error) {
	query := `
		SELECT ` + cashEntryColumns + `
		FROM cash_ledger
		WHERE $1 = '' OR fund = $1
		ORDER BY transaction_date DESC, id DESC`
	args := []any{fund}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []cashEntryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return mapRows(rows, cashEntryRow.domain), nil
}

func (s *Store) ActiveLoyaltyRule(ctx context.Context) (*domain.LoyaltyRule, error) {
	return activeLoyaltyRule(ctx, s.db)
}

func (s *Store) ListLoyaltyRules(ctx context.Context) ([]domain.LoyaltyRule, error) {
	var rows []loyaltyRuleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT version, points_per_currency, min_purchase_cents, active, created_at
		FROM loyalty_rules
		ORDER BY version
	`); err != nil {
		return nil, err
	}
	return mapRows(rows, loyaltyRuleRow.domain), nil
}

// Snapshot reads every ledger table inside one REPEATABLE READ transaction
// so the tables agree with each other.
func (s *Store) Snapshot(ctx context.Context) (domain.LedgerSnapshot, error) {
	var snap domain.LedgerSnapshot

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return snap, err
	}
	defer func() { _ = tx.Rollback() }()

	var customers []customerRow
	if err := tx.SelectContext(ctx, &customers, `SELECT `+customerColumns+` FROM customers ORDER BY id`); err != nil {
		return snap, err
	}
	var sales []saleRow
	if err := tx.SelectContext(ctx, &sales, `SELECT `+saleColumns+` FROM sales ORDER BY id`); err != nil {
		return snap, err
	}
	var saleItems []saleItemRow
	if err := tx.SelectContext(ctx, &saleItems, `SELECT `+saleItemColumns+` FROM sale_items ORDER BY sale_id, id`); err != nil {
		return snap, err
	}
	var bnpl []bnplRow
	if err := tx.SelectContext(ctx, &bnpl, `SELECT `+bnplColumns+` FROM bnpl_transactions ORDER BY id`); err != nil {
		return snap, err
	}
	var payments []bnplPaymentRow
	if err := tx.SelectContext(ctx, &payments, `SELECT `+bnplPaymentColumns+` FROM bnpl_payments ORDER BY created_at, id`); err != nil {
		return snap, err
	}
	var returns []returnRow
	if err := tx.SelectContext(ctx, &returns, `SELECT `+returnColumns+` FROM returns ORDER BY id`); err != nil {
		return snap, err
	}
	var returnItems []returnItemRow
	if err := tx.SelectContext(ctx, &returnItems, `SELECT `+returnItemColumns+` FROM return_items ORDER BY return_id, id`); err != nil {
		return snap, err
	}
	var refunds []refundRow
	if err := tx.SelectContext(ctx, &refunds, `SELECT `+refundColumns+` FROM refund_transactions ORDER BY created_at, id`); err != nil {
		return snap, err
	}
	var expenses []expenseRow
	if err := tx.SelectContext(ctx, &expenses, `
		SELECT id, fund, amount_cents, category, description, created_by, created_at
		FROM expenses ORDER BY created_at, id
	`); err != nil {
		return snap, err
	}
	var entries []cashEntryRow
	if err := tx.SelectContext(ctx, &entries, `SELECT `+cashEntryColumns+` FROM cash_ledger ORDER BY transaction_date, id`); err != nil {
		return snap, err
	}

	itemsBySale := groupSaleItems(saleItems)
	snap.Sales = make([]domain.Sale, 0, len(sales))
	for _, r := range sales {
		snap.Sales = append(snap.Sales, r.domain(itemsBySale[r.ID]))
	}
	itemsByReturn := groupReturnItems(returnItems)
	snap.Returns = make([]domain.Return, 0, len(returns))
	for _, r := range returns {
		snap.Returns = append(snap.Returns, r.domain(itemsByReturn[r.ID]))
	}
	snap.Customers = mapRows(customers, customerRow.domain)
	snap.Bnpl = mapRows(bnpl, bnplRow.domain)
	snap.BnplPayments = mapRows(payments, bnplPaymentRow.domain)
	snap.Refunds = mapRows(refunds, refundRow.domain)
	snap.Expenses = mapRows(expenses, expenseRow.domain)
	snap.CashEntries = mapRows(entries, cashEntryRow.domain)
	return snap, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrUsernameTaken.WithMessage("username %s already exists", user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx so read helpers can
// run inside or outside a unit of work.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func loadSale(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row saleRow
	err := q.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}

	itemQuery := `SELECT ` + saleItemColumns + ` FROM sale_items WHERE sale_id = $1 ORDER BY id`
	if forUpdate {
		itemQuery += ` FOR UPDATE`
	}
	var items []saleItemRow
	if err := q.SelectContext(ctx, &items, itemQuery, id); err != nil {
		return nil, err
	}
	sale := row.domain(mapRows(items, saleItemRow.domain))
	return &sale, nil
}

func cashBalance(ctx context.Context, q queryer, fund string, at time.Time) (int64, error) {
	var total int64
	err := q.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM cash_ledger
		WHERE fund = $1 AND transaction_date <= $2
	`, fund, at)
	return total, err
}

func activeLoyaltyRule(ctx context.Context, q queryer) (*domain.LoyaltyRule, error) {
	var row loyaltyRuleRow
	err := q.GetContext(ctx, &row, `
		SELECT version, points_per_currency, min_purchase_cents, active, created_at
		FROM loyalty_rules
		WHERE active
		ORDER BY version DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.WithMessage("no active loyalty rule")
	}
	if err != nil {
		return nil, err
	}
	rule := row.domain()
	return &rule, nil
}

func groupSaleItems(rows []saleItemRow) map[string][]domain.SaleItem {
	out := make(map[string][]domain.SaleItem)
	for _, r := range rows {
		out[r.SaleID] = append(out[r.SaleID], r.domain())
	}
	return out
}

func groupReturnItems(rows []returnItemRow) map[string][]domain.ReturnItem {
	out := make(map[string][]domain.ReturnItem)
	for _, r := range rows {
		out[r.ReturnID] = append(out[r.ReturnID], r.domain())
	}
	return out
}

func retryable(err error) bool {
	if errors.Is(err, store.ErrReceiptTaken) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	case "23505":
		return pgErr.ConstraintName == "idempotency_records_pkey"
	}
	return false
}

func uniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
