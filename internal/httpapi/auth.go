package httpapi

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

const (
	tokenIssuer       = "posledger"
	minUsernameLength = 4
	minPasswordLength = 6

	// userRefreshTimeout bounds each reload of the account cache.
	userRefreshTimeout = 3 * time.Second
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// UserStore persists back-office accounts. Passwords are stored as bcrypt
// hashes; rows holding a legacy plain value are rehashed on first load.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and verifies bearer tokens for admins and cashiers.
type AuthManager struct {
	secret []byte
	ttl    time.Duration
	store  UserStore

	mu       sync.RWMutex
	accounts map[string]account
}

type account struct {
	hash      string
	role      string
	active    bool
	createdAt time.Time
}

type tokenClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(ctx context.Context, secret string, ttl time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}

	a := &AuthManager{
		secret:   []byte(secret),
		ttl:      ttl,
		store:    users,
		accounts: make(map[string]account),
	}
	a.refresh(ctx)
	return a
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.refresh(ctx)

	username := normalizeUsername(req.Username)
	acct, ok := a.lookup(username)
	if !ok || !passwordMatches(acct.hash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acct.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.ttl)
	token, err := a.sign(username, acct.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken verifies an HS256 token issued by this service and returns
// the actor it names.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims tokenClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil || claims.Subject == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	return a.register(ctx, req.Username, req.Password, domain.RoleCashier)
}

// EnsureAdmin creates an admin account when none exists yet. It reports
// whether an account was created.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username string, password string) (bool, error) {
	a.refresh(ctx)

	a.mu.RLock()
	for _, acct := range a.accounts {
		if acct.role == domain.RoleAdmin {
			a.mu.RUnlock()
			return false, nil
		}
	}
	a.mu.RUnlock()

	if _, err := a.register(ctx, username, password, domain.RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.refresh(ctx)

	a.mu.RLock()
	out := make([]domain.CashierUser, 0, len(a.accounts))
	for username, acct := range a.accounts {
		if acct.role == domain.RoleCashier {
			out = append(out, acct.user(username))
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (a *AuthManager) register(ctx context.Context, rawUsername, password, role string) (domain.CashierUser, error) {
	username := normalizeUsername(rawUsername)
	if err := validateAccount(username, password); err != nil {
		return domain.CashierUser{}, err
	}

	a.refresh(ctx)
	if _, taken := a.lookup(username); taken {
		return domain.CashierUser{}, store.ErrUsernameTaken.WithMessage("username %s already exists", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, err
	}
	acct := account{hash: string(hash), role: role, active: true, createdAt: time.Now().UTC()}

	if a.store != nil {
		if err := a.store.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  acct.hash,
			Role:      acct.role,
			Active:    acct.active,
			CreatedAt: acct.createdAt,
		}); err != nil {
			return domain.CashierUser{}, err
		}
	}

	a.mu.Lock()
	a.accounts[username] = acct
	a.mu.Unlock()
	return acct.user(username), nil
}

func (a *AuthManager) lookup(username string) (account, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.accounts[username]
	return acct, ok
}

// refresh reloads accounts from the store. A failed or empty load keeps the
// cached accounts.
func (a *AuthManager) refresh(ctx context.Context) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userRefreshTimeout)
	defer cancel()

	users, err := a.store.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	loaded := make(map[string]account, len(users))
	for _, u := range users {
		username := normalizeUsername(u.Username)
		if username == "" {
			continue
		}
		loaded[username] = account{
			hash:      a.upgradeLegacy(ctx, username, u.Password),
			role:      u.Role,
			active:    u.Active,
			createdAt: u.CreatedAt,
		}
	}

	a.mu.Lock()
	for username, acct := range loaded {
		a.accounts[username] = acct
	}
	a.mu.Unlock()
}

// upgradeLegacy rehashes a plain-text password and writes the hash back.
// On failure the stored value is kept and login with it keeps failing.
func (a *AuthManager) upgradeLegacy(ctx context.Context, username, stored string) string {
	if isBcryptHash(stored) || stored == "" {
		return stored
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(stored), bcrypt.DefaultCost)
	if err != nil {
		return stored
	}
	if err := a.store.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return stored
	}
	return string(hash)
}

func (acct account) user(username string) domain.CashierUser {
	return domain.CashierUser{Username: username, Role: acct.role, Active: acct.active, CreatedAt: acct.createdAt}
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func validateAccount(username, password string) error {
	switch {
	case len(username) < minUsernameLength:
		return store.ErrInvalidRequest.WithMessage("username must be at least %d characters", minUsernameLength)
	case strings.ContainsAny(username, " \t\r\n"):
		return store.ErrInvalidRequest.WithMessage("username must not contain spaces")
	case len(strings.TrimSpace(password)) < minPasswordLength:
		return store.ErrInvalidRequest.WithMessage("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func passwordMatches(hash, input string) bool {
	if !isBcryptHash(hash) || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func isBcryptHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
