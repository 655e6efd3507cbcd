package memory

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

const txAttempts = 3

// Store keeps the whole ledger in process memory. A unit of work runs on
// the live state under the writer lock and journals an undo step for every
// write; a failed unit replays the journal in reverse. Cost per unit is
// proportional to what it touches, not to the size of the ledger.
type Store struct {
	mu              sync.RWMutex
	state           *state
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

type state struct {
	products     map[string]domain.Product
	customers    map[string]domain.Customer
	sales        map[string]domain.Sale
	returns      map[string]domain.Return
	refunds      []domain.RefundTransaction
	bnpl         map[string]domain.BnplTransaction
	bnplBySale   map[string]string
	bnplPayments []domain.BnplPayment
	cashEntries  []domain.CashLedgerEntry
	expenses     []domain.Expense
	movements    []domain.StockMovement
	loyaltyRules []domain.LoyaltyRule
	loyaltyTx    []domain.LoyaltyTransaction
	idempotency  map[string]domain.IdempotencyRecord
}

func newState() *state {
	return &state{
		products:    make(map[string]domain.Product),
		customers:   make(map[string]domain.Customer),
		sales:       make(map[string]domain.Sale),
		returns:     make(map[string]domain.Return),
		bnpl:        make(map[string]domain.BnplTransaction),
		bnplBySale:  make(map[string]string),
		idempotency: make(map[string]domain.IdempotencyRecord),
	}
}

func (st *state) clone() *state {
	next := &state{
		products:     cloneMap(st.products),
		customers:    cloneMap(st.customers),
		sales:        make(map[string]domain.Sale, len(st.sales)),
		returns:      make(map[string]domain.Return, len(st.returns)),
		refunds:      slices.Clone(st.refunds),
		bnpl:         cloneMap(st.bnpl),
		bnplBySale:   cloneMap(st.bnplBySale),
		bnplPayments: slices.Clone(st.bnplPayments),
		cashEntries:  slices.Clone(st.cashEntries),
		expenses:     slices.Clone(st.expenses),
		movements:    slices.Clone(st.movements),
		loyaltyRules: slices.Clone(st.loyaltyRules),
		loyaltyTx:    slices.Clone(st.loyaltyTx),
		idempotency:  make(map[string]domain.IdempotencyRecord, len(st.idempotency)),
	}
	for id, sale := range st.sales {
		next.sales[id] = cloneSale(sale)
	}
	for id, ret := range st.returns {
		next.returns[id] = cloneReturn(ret)
	}
	for key, rec := range st.idempotency {
		rec.Response = slices.Clone(rec.Response)
		next.idempotency[key] = rec
	}
	return next
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with the seed users only.
func New() *Store {
	return &Store{
		state:           newState(),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store with a demo catalog.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{ID: "PRD-RICE-5KG", Name: "Rice 5kg", PriceCents: 7500, StockQty: 120},
		{ID: "PRD-OIL-2L", Name: "Cooking Oil 2L", PriceCents: 3600, StockQty: 120},
		{ID: "PRD-KETTLE", Name: "Electric Kettle", PriceCents: 25000, StockQty: 40},
		{ID: "PRD-BLENDER", Name: "Blender", PriceCents: 50000, StockQty: 25},
		{ID: "PRD-TOWEL", Name: "Bath Towel", PriceCents: 10000, StockQty: 80},
		{ID: "PRD-SOAP", Name: "Bar Soap", PriceCents: 700, StockQty: 300},
	} {
		p.UpdatedAt = now
		s.PutProduct(p)
	}
	return s
}

// PutProduct inserts or replaces a catalog row. The catalog is owned by
// an external collaborator; this is its write path in memory mode.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.state.products[p.ID] = p
}

// WithinTx runs fn under the writer lock. A run that lost a receipt number
// to an earlier record is rolled back and run again.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = s.runTx(fn)
		if !errors.Is(err, store.ErrReceiptTaken) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(fn func(tx store.Tx) error) error {
	tx := &memTx{st: s.state}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	products := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return products, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.StockMovement, 0)
	for _, m := range s.state.movements {
		if productID == "" || m.ProductID == productID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.customers[id]
	if !ok {
		return nil, store.ErrCustomerNotFound
	}
	return &c, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.state.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	sale = cloneSale(sale)
	return &sale, nil
}

func (s *Store) ListReturnsBySale(_ context.Context, saleID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Return, 0)
	for _, ret := range s.state.returns {
		if ret.SaleID == saleID {
			result = append(result, cloneReturn(ret))
		}
	}
	slices.SortFunc(result, func(a, b domain.Return) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result, nil
}

func (s *Store) GetBnpl(_ context.Context, id string) (*domain.BnplTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.bnpl[id]
	if !ok {
		return nil, store.ErrBnplNotFound
	}
	return &b, nil
}

func (s *Store) ListBnplByCustomer(_ context.Context, customerID string) ([]domain.BnplTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.BnplTransaction, 0)
	for _, b := range s.state.bnpl {
		if b.CustomerID == customerID {
			result = append(result, b)
		}
	}
	slices.SortFunc(result, func(a, b domain.BnplTransaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result, nil
}

func (s *Store) ListBnplPayments(_ context.Context, bnplID string) ([]domain.BnplPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.BnplPayment, 0)
	for _, p := range s.state.bnplPayments {
		if p.BnplID == bnplID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) CashBalance(_ context.Context, fund string, at time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.balance(fund, at), nil
}

func (s *Store) ListCashEntries(_ context.Context, fund string, limit int) ([]domain.CashLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.CashLedgerEntry, 0, 64)
	for i := len(s.state.cashEntries) - 1; i >= 0; i-- {
		entry := s.state.cashEntries[i]
		if fund != "" && entry.Fund != fund {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ActiveLoyaltyRule(_ context.Context) (*domain.LoyaltyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.activeRule()
}

func (s *Store) ListLoyaltyRules(_ context.Context) ([]domain.LoyaltyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.loyaltyRules), nil
}

func (s *Store) Snapshot(_ context.Context) (domain.LedgerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state.clone()
	snap := domain.LedgerSnapshot{
		Customers:    mapValues(st.customers),
		Sales:        mapValues(st.sales),
		Bnpl:         mapValues(st.bnpl),
		BnplPayments: st.bnplPayments,
		Returns:      mapValues(st.returns),
		Refunds:      st.refunds,
		Expenses:     st.expenses,
		CashEntries:  st.cashEntries,
	}
	return snap, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrUsernameTaken.WithMessage("username %s already exists", username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (st *state) balance(fund string, at time.Time) int64 {
	var total int64
	for _, entry := range st.cashEntries {
		if entry.Fund == fund && !entry.TransactionDate.After(at) {
			total += entry.AmountCents
		}
	}
	return total
}

func (st *state) activeRule() (*domain.LoyaltyRule, error) {
	for i := len(st.loyaltyRules) - 1; i >= 0; i-- {
		if st.loyaltyRules[i].Active {
			rule := st.loyaltyRules[i]
			return &rule, nil
		}
	}
	return nil, store.ErrNotFound.WithMessage("no active loyalty rule")
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mapValues[V any](in map[string]V) []V {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]V, 0, len(in))
	for _, k := range keys {
		out = append(out, in[k])
	}
	return out
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Items = slices.Clone(sale.Items)
	return sale
}

func cloneReturn(ret domain.Return) domain.Return {
	ret.Items = slices.Clone(ret.Items)
	return ret
}
