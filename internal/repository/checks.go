package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// SaveCheck creates or updates a check configuration.
func (r *SQLRepository) SaveCheck(ctx context.Context, check *domain.CheckConfig) error {
	if check == nil || check.ID == "" {
		return fmt.Errorf("%w: check id is required", ErrInvalidInput)
	}

	ts := now()
	if check.CreatedAt.IsZero() {
		check.CreatedAt = ts
	}
	check.UpdatedAt = ts

	query := `
		INSERT INTO check_configs (
			id, name, description, expression, severity, message, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			message = excluded.message,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		check.ID, check.Name, check.Description, check.Expression, string(check.Severity),
		check.Message, boolToInt(check.Enabled), check.CreatedAt, check.UpdatedAt,
	)
	return err
}

// GetCheck retrieves a check configuration by ID.
func (r *SQLRepository) GetCheck(ctx context.Context, checkID string) (*domain.CheckConfig, error) {
	query := `
		SELECT id, name, description, expression, severity, message, enabled, created_at, updated_at
		FROM check_configs
		WHERE id = ?
	`
	c, err := scanCheck(r.db.QueryRowContext(ctx, r.rebind(query), checkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListChecks returns every check configuration, enabled or not.
func (r *SQLRepository) ListChecks(ctx context.Context) ([]*domain.CheckConfig, error) {
	query := `
		SELECT id, name, description, expression, severity, message, enabled, created_at, updated_at
		FROM check_configs
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*domain.CheckConfig
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// DeleteCheck soft-deletes a check by disabling it.
func (r *SQLRepository) DeleteCheck(ctx context.Context, checkID string) error {
	query := `UPDATE check_configs SET enabled = 0, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), now(), checkID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheck(row rowScanner) (*domain.CheckConfig, error) {
	var c domain.CheckConfig
	var description, message sql.NullString
	var severity string
	var enabled int
	if err := row.Scan(
		&c.ID, &c.Name, &description, &c.Expression, &severity, &message,
		&enabled, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Description = description.String
	c.Message = message.String
	c.Severity = domain.Severity(severity)
	c.Enabled = enabled == 1
	return &c, nil
}
