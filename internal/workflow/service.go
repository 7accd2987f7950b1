// Package workflow coordinates loan application review: it loads records,
// asks the review engine what a user may do, persists the outcome and tells
// the rest of the system about it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opensource-finance/loandesk/internal/bus"
	"github.com/opensource-finance/loandesk/internal/checks"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/repository"
	"github.com/opensource-finance/loandesk/internal/review"
	"github.com/opensource-finance/loandesk/internal/validate"
)

var tracer = otel.Tracer("loandesk-workflow")

var (
	// ErrUnknownUser is returned when a name is not in the user directory.
	ErrUnknownUser = errors.New("unknown user")

	// ErrNotEditable is returned when a form change targets an application
	// that is already under review.
	ErrNotEditable = errors.New("application is no longer editable")
)

// Deps are the collaborators of a Service.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Checks    *checks.Engine
	Validator *validate.Validator

	// ApplicationTTL bounds cached records and counts. Zero disables caching.
	ApplicationTTL time.Duration
}

// Service implements the review workflow.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	events    domain.EventBus
	checks    *checks.Engine
	validator *validate.Validator
	ttl       time.Duration
	now       func() time.Time
}

// New creates a workflow service.
func New(d Deps) *Service {
	return &Service{
		repo:      d.Repo,
		cache:     d.Cache,
		events:    d.Bus,
		checks:    d.Checks,
		validator: d.Validator,
		ttl:       d.ApplicationTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// user loads a directory entry, mapping a miss to ErrUnknownUser.
func (s *Service) user(ctx context.Context, name string) (*domain.User, error) {
	u, err := s.repo.GetUser(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// RequireAdmin returns the named user if they hold the Admin role class.
func (s *Service) RequireAdmin(ctx context.Context, name string) (*domain.User, error) {
	u, err := s.user(ctx, name)
	if err != nil {
		return nil, err
	}
	if !review.NormalizeRole(u.Role).Has(domain.RoleAdmin) {
		return nil, &review.Error{Kind: review.ErrNotAuthorized, Message: "administrator role required"}
	}
	return u, nil
}

// invalidate drops the cached record and counts after a write.
func (s *Service) invalidate(ctx context.Context, appNumber string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, domain.ApplicationCacheKey(appNumber)); err != nil {
		slog.WarnContext(ctx, "failed to invalidate application cache", "app_number", appNumber, "error", err)
	}
	if err := s.cache.Delete(ctx, domain.CacheKeyStatusCounts); err != nil {
		slog.WarnContext(ctx, "failed to invalidate counts cache", "error", err)
	}
}

// publish sends an event; delivery failures are logged, not returned.
func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.events == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.events, topic, v); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "topic", topic, "error", err)
	}
}

// Ping reports whether the backing stores are reachable.
func (s *Service) Ping(ctx context.Context) map[string]error {
	out := map[string]error{"repository": s.repo.Ping(ctx)}
	if s.cache != nil {
		out["cache"] = s.cache.Ping(ctx)
	}
	if s.events != nil {
		out["eventbus"] = s.events.Ping(ctx)
	}
	return out
}

// rejectReason labels an error for the rejection metric.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, review.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, review.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, review.ErrTerminalState):
		return "terminal_state"
	case errors.Is(err, repository.ErrConflict):
		return "conflict"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	default:
		return "error"
	}
}
