package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opensource-finance/loandesk/internal/checks"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/review"
)

// ListChecks returns every stored check configuration.
func (s *Service) ListChecks(ctx context.Context) ([]*domain.CheckConfig, error) {
	return s.repo.ListChecks(ctx)
}

// SaveCheck validates, stores and loads a check on behalf of actor.
func (s *Service) SaveCheck(ctx context.Context, actor string, cfg *domain.CheckConfig) error {
	if _, err := s.RequireAdmin(ctx, actor); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return review.InvalidRequest("expression is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Severity == "" {
		cfg.Severity = domain.SeverityInfo
	}
	if err := s.checks.Validate(cfg); err != nil {
		return review.InvalidRequest(err.Error())
	}

	now := s.now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	if err := s.repo.SaveCheck(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save check: %w", err)
	}
	return s.ReloadChecks(ctx)
}

// DeleteCheck disables a check on behalf of actor.
func (s *Service) DeleteCheck(ctx context.Context, actor, id string) error {
	if _, err := s.RequireAdmin(ctx, actor); err != nil {
		return err
	}
	if err := s.repo.DeleteCheck(ctx, id); err != nil {
		return err
	}
	return s.ReloadChecks(ctx)
}

// ReloadChecks recompiles the enabled checks from the repository.
func (s *Service) ReloadChecks(ctx context.Context) error {
	configs, err := s.repo.ListChecks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checks: %w", err)
	}
	if err := s.checks.Reload(configs); err != nil {
		return fmt.Errorf("failed to compile checks: %w", err)
	}
	slog.InfoContext(ctx, "checks loaded", "count", s.checks.Count())
	return nil
}

// SeedChecks stores the built-in checks when none exist, then loads them.
func (s *Service) SeedChecks(ctx context.Context) error {
	existing, err := s.repo.ListChecks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checks: %w", err)
	}
	if len(existing) == 0 {
		now := s.now()
		for _, cfg := range checks.DefaultChecks() {
			cfg.CreatedAt, cfg.UpdatedAt = now, now
			if err := s.repo.SaveCheck(ctx, cfg); err != nil {
				return fmt.Errorf("failed to seed check %s: %w", cfg.ID, err)
			}
		}
	}
	return s.ReloadChecks(ctx)
}
