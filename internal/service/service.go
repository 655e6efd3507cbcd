package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	ReturnWindowDays int
	BnplTermDays     int
	SummaryTTL       time.Duration
	// Now overrides the clock; tests use it to move across return windows
	// and due dates.
	Now func() time.Time
}

type Service struct {
	repo     store.Repository
	summary  cache.SummaryCache
	logger   *zap.Logger
	opts     Options
	clockNow func() time.Time
}

func New(repo store.Repository, summary cache.SummaryCache, logger *zap.Logger, opts Options) *Service {
	if summary == nil {
		summary = cache.NoopSummaryCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReturnWindowDays < 1 {
		opts.ReturnWindowDays = 30
	}
	if opts.BnplTermDays < 1 {
		opts.BnplTermDays = 30
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 30 * time.Second
	}
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		repo:     repo,
		summary:  summary,
		logger:   logger.Named("service"),
		opts:     opts,
		clockNow: clock,
	}
}

func (s *Service) now() time.Time {
	return s.clockNow().UTC()
}

func (s *Service) ReturnWindowDays() int {
	return s.opts.ReturnWindowDays
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	return s.repo.ListStockMovements(ctx, strings.TrimSpace(productID))
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	day := s.now()
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return nil, store.ErrInvalidRequest.WithMessage("date must be YYYY-MM-DD")
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

// processedBy prefers an explicit operator name, then the authenticated actor.
func processedBy(ctx context.Context, given string) string {
	if given = strings.TrimSpace(given); given != "" {
		return given
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return store.ErrForbidden
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

// invalidateSummary drops cached BNPL summaries after a commit that
// changed the customer's trackers or credit.
func (s *Service) invalidateSummary(ctx context.Context, customerID string) {
	if customerID == "" {
		return
	}
	if err := s.summary.Delete(ctx, customerID); err != nil {
		s.logger.Warn("invalidate bnpl summary", zap.String("customer_id", customerID), zap.Error(err))
	}
}

func requireKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", store.ErrInvalidRequest.WithMessage("idempotency_key is required")
	}
	return key, nil
}
