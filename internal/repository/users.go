package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/loandesk/internal/domain"
)

func userKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SaveUser adds a user. Names are unique ignoring case.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || userKey(user.Name) == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidInput)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}

	query := `
		INSERT INTO users (name_key, name, role, level, email, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_key) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		userKey(user.Name), strings.TrimSpace(user.Name), user.Role, user.Level, user.Email, user.CreatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %q already exists", ErrConflict, user.Name)
	}
	return nil
}

// GetUser looks a user up by name, ignoring case.
func (r *SQLRepository) GetUser(ctx context.Context, name string) (*domain.User, error) {
	query := `SELECT name, role, level, email, created_at FROM users WHERE name_key = ?`

	var u domain.User
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), userKey(name)).Scan(
		&u.Name, &u.Role, &u.Level, &email, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	return &u, nil
}

// ListUsers returns all users ordered by name.
func (r *SQLRepository) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, role, level, email, created_at FROM users ORDER BY name_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		if err := rows.Scan(&u.Name, &u.Role, &u.Level, &email, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		users = append(users, &u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user.
func (r *SQLRepository) DeleteUser(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM users WHERE name_key = ?`), userKey(name))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
