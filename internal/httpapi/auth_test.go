package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := legacyAdminStore()

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	saved, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 user, got %d", len(saved))
	}
	if !strings.HasPrefix(saved[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", saved[0].Password)
	}
	if users.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", users.updates)
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	users := legacyAdminStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)

	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "TillOne",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "tillone" || cashier.Role != "cashier" {
		t.Fatalf("unexpected cashier %+v", cashier)
	}

	saved, ok := users.users["tillone"]
	if !ok {
		t.Fatalf("expected cashier to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "tillone", Password: "pass1234"}); err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "tillone", Password: "pass1234"}); !errors.Is(err, store.ErrUsernameTaken) {
		t.Fatalf("expected duplicate username to be rejected, got %v", err)
	}
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "ab", Password: "pass1234"}); store.KindOf(err) != store.KindValidation {
		t.Fatalf("expected short username to be a validation error, got %v", err)
	}

	cashiers := manager.ListCashiers(context.Background())
	if len(cashiers) != 1 || cashiers[0].Username != "tillone" {
		t.Fatalf("unexpected cashier list %+v", cashiers)
	}
}

func TestEnsureAdminOnlyOnEmptyStore(t *testing.T) {
	empty := &userStoreStub{}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, empty)

	created, err := manager.EnsureAdmin(context.Background(), "owner", "owner-pass")
	if err != nil || !created {
		t.Fatalf("expected admin to be created, got created=%v err=%v", created, err)
	}
	if empty.users["owner"].Role != "admin" {
		t.Fatalf("expected owner to be stored as admin, got %+v", empty.users["owner"])
	}

	created, err = manager.EnsureAdmin(context.Background(), "second", "second-pass")
	if err != nil || created {
		t.Fatalf("expected no second admin, got created=%v err=%v", created, err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	users := legacyAdminStore()
	issuer := NewAuthManager(context.Background(), "issuer-secret", time.Hour, users)
	verifier := NewAuthManager(context.Background(), "other-secret", time.Hour, users)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := issuer.ParseToken(resp.AccessToken)
	if err != nil || actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("expected admin actor, got %+v err=%v", actor, err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}
