package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"grocerp/backend/internal/cache"
	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/metrics"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Notifier accepts notifications for asynchronous delivery to the inbox.
type Notifier interface {
	Enqueue(notifications ...domain.Notification) bool
}

type Options struct {
	DefaultBranchID   string
	WeightTolerance   decimal.Decimal
	LowStockThreshold decimal.Decimal
	DashboardTTL      time.Duration
	Cache             cache.DashboardCache
	Notifier          Notifier
	Metrics           *metrics.Registry
	Logger            zerolog.Logger
}

type Service struct {
	repo            store.Repository
	validate        *validator.Validate
	cache           cache.DashboardCache
	notifier        Notifier
	metrics         *metrics.Registry
	logger          zerolog.Logger
	defaultBranchID string
	weightTolerance decimal.Decimal
	lowStock        decimal.Decimal
	dashboardTTL    time.Duration
	now             func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "br-pusat"
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = 30 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopDashboardCache{}
	}
	if opts.WeightTolerance.IsNegative() {
		opts.WeightTolerance = decimal.Zero
	}

	return &Service{
		repo:            repo,
		validate:        newValidator(),
		cache:           opts.Cache,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		logger:          opts.Logger.With().Str("component", "service").Logger(),
		defaultBranchID: opts.DefaultBranchID,
		weightTolerance: opts.WeightTolerance,
		lowStock:        opts.LowStockThreshold,
		dashboardTTL:    opts.DashboardTTL,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) actor(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: %s role required", store.ErrForbidden, strings.Join(roles, " or "))
	}
	return actor, nil
}

// branchFor resolves the branch an operation runs against. Admins may name
// any branch and fall back to the default one; everyone else is pinned to
// their own branch.
func (s *Service) branchFor(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleAdmin {
		if requested == "" {
			return s.defaultBranchID, nil
		}
		return requested, nil
	}
	return pinnedBranch(actor, requested)
}

// scopeFor is branchFor for read models where an admin without a branch
// means every branch ("").
func (s *Service) scopeFor(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleAdmin {
		return requested, nil
	}
	return pinnedBranch(actor, requested)
}

func pinnedBranch(actor domain.Actor, requested string) (string, error) {
	if actor.BranchID == "" {
		return "", fmt.Errorf("%w: account has no branch", store.ErrForbidden)
	}
	if requested != "" && requested != actor.BranchID {
		return "", fmt.Errorf("%w: forbidden branch", store.ErrForbidden)
	}
	return actor.BranchID, nil
}

// canTouch reports whether the actor may act on behalf of branchID.
func canTouch(actor domain.Actor, branchID string) bool {
	return actor.Role == domain.RoleAdmin || (actor.BranchID != "" && actor.BranchID == branchID)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor := s.actor(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func (s *Service) notify(notifications ...domain.Notification) {
	if s.notifier == nil || len(notifications) == 0 {
		return
	}
	if !s.notifier.Enqueue(notifications...) {
		s.logger.Warn().Str("kind", notifications[0].Kind).Int("count", len(notifications)).Msg("failed to enqueue notification")
	}
}

func (s *Service) countLoss(losses []domain.LossEntry) {
	if s.metrics == nil {
		return
	}
	for _, l := range losses {
		s.metrics.LossValueCents.WithLabelValues(l.Reason).Add(float64(l.ValueCents))
	}
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// parseDay reads a YYYY-MM-DD date, defaulting to today in UTC.
func (s *Service) parseDay(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		now := s.now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse(time.DateOnly, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	return parsed.UTC(), nil
}

// parseRange returns [from, to+1day). An empty from starts 30 days before to.
func (s *Service) parseRange(from string, to string) (time.Time, time.Time, error) {
	end, err := s.parseDay(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end = end.Add(24 * time.Hour)
	start := end.AddDate(0, 0, -30)
	if strings.TrimSpace(from) != "" {
		if start, err = s.parseDay(from); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from must be before to", store.ErrInvalidTransaction)
	}
	return start, end, nil
}
