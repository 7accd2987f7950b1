package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/review"
)

// Login looks a user up by name. There are no passwords; the caller issues
// a session token for the returned user.
func (s *Service) Login(ctx context.Context, name string) (*domain.User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, review.InvalidRequest("name is required")
	}
	return s.user(ctx, name)
}

// VerifyUser reports whether name is in the directory.
func (s *Service) VerifyUser(ctx context.Context, name string) (bool, error) {
	_, err := s.user(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrUnknownUser) {
		return false, nil
	}
	return false, err
}

// ListUsers returns the directory.
func (s *Service) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// validUser checks a directory entry before it is stored.
func validUser(u *domain.User) error {
	u.Name = strings.TrimSpace(u.Name)
	u.Role = strings.TrimSpace(u.Role)
	if u.Name == "" {
		return review.InvalidRequest("user name is required")
	}
	if review.NormalizeRole(u.Role) == 0 {
		return review.InvalidRequest(fmt.Sprintf("unrecognized role %q", u.Role))
	}
	return nil
}

// AddUser adds u to the directory on behalf of the administrator actor.
func (s *Service) AddUser(ctx context.Context, actor string, u *domain.User) error {
	if _, err := s.RequireAdmin(ctx, actor); err != nil {
		return err
	}
	if err := validUser(u); err != nil {
		return err
	}
	u.CreatedAt = s.now()
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return err
	}
	slog.InfoContext(ctx, "user added", "user", u.Name, "role", u.Role, "by", actor)
	return nil
}

// DeleteUser removes name from the directory. Administrators cannot remove
// themselves.
func (s *Service) DeleteUser(ctx context.Context, actor, name string) error {
	admin, err := s.RequireAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(name), admin.Name) {
		return review.InvalidRequest("administrators cannot delete themselves")
	}
	if err := s.repo.DeleteUser(ctx, name); err != nil {
		return err
	}
	slog.InfoContext(ctx, "user deleted", "user", name, "by", actor)
	return nil
}

type seedFile struct {
	Users []*domain.User `yaml:"users"`
}

// SeedUsers loads users from a YAML file into an empty directory.
// It returns the number of users created.
func (s *Service) SeedUsers(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	existing, err := s.repo.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	created := 0
	for _, u := range seed.Users {
		if err := validUser(u); err != nil {
			slog.WarnContext(ctx, "skipping seed user", "user", u.Name, "error", err)
			continue
		}
		u.CreatedAt = s.now()
		if err := s.repo.SaveUser(ctx, u); err != nil {
			return created, fmt.Errorf("failed to seed user %s: %w", u.Name, err)
		}
		created++
	}

	slog.InfoContext(ctx, "user directory seeded", "count", created, "file", path)
	return created, nil
}
