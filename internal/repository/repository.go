// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/loandesk/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record was changed concurrently")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		cfg = withPostgresPool(cfg)
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateApplication inserts a new application.
func (r *SQLRepository) CreateApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.AppNumber == "" {
		return fmt.Errorf("%w: appNumber is required", ErrInvalidInput)
	}

	body, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to encode application: %w", err)
	}

	query := `
		INSERT INTO applications (
			app_number, applicant_name, status, stage, completion_status,
			amount, body, created_by, updated_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_number) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		app.AppNumber, app.ApplicantName, string(app.Status), app.Stage, string(app.CompletionStatus),
		app.Amount, string(body), app.CreatedBy, app.UpdatedBy, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("%w: application %s already exists", ErrConflict, app.AppNumber)
	}
	return nil
}

// SaveApplication overwrites a stored application. The row is only written
// while its stored status still equals app.Status.
func (r *SQLRepository) SaveApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.AppNumber == "" {
		return fmt.Errorf("%w: appNumber is required", ErrInvalidInput)
	}

	body, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to encode application: %w", err)
	}

	query := `
		UPDATE applications
		SET applicant_name = ?, stage = ?, completion_status = ?, amount = ?,
			body = ?, updated_by = ?, updated_at = ?
		WHERE app_number = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		app.ApplicantName, app.Stage, string(app.CompletionStatus), app.Amount,
		string(body), app.UpdatedBy, app.UpdatedAt,
		app.AppNumber, string(app.Status),
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetApplication(ctx, app.AppNumber); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// GetApplication retrieves an application by number.
func (r *SQLRepository) GetApplication(ctx context.Context, appNumber string) (*domain.Application, error) {
	query := `
		SELECT status, stage, completion_status, body
		FROM applications
		WHERE app_number = ?
	`

	var status, stage, completion, body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), appNumber).Scan(&status, &stage, &completion, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeApplication(status, stage, completion, body)
}

// ListApplications returns applications in any of the given statuses,
// most recently updated first. No statuses means all applications.
func (r *SQLRepository) ListApplications(ctx context.Context, statuses ...domain.Status) ([]*domain.Application, error) {
	query := `SELECT status, stage, completion_status, body FROM applications`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, s := range statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY updated_at DESC, app_number`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*domain.Application
	for rows.Next() {
		var status, stage, completion, body string
		if err := rows.Scan(&status, &stage, &completion, &body); err != nil {
			return nil, err
		}
		app, err := decodeApplication(status, stage, completion, body)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// CountByStatus returns the number of applications per status.
func (r *SQLRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Status]int, len(domain.Statuses))
	for _, s := range domain.Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

// ApplyTransition writes the transition's status, stage and fields together
// with its history record in one database transaction.
func (r *SQLRepository) ApplyTransition(ctx context.Context, appNumber string, tr *domain.Transition, rec *domain.TransitionRecord) (*domain.Application, error) {
	if tr == nil || rec == nil {
		return nil, fmt.Errorf("%w: transition and record are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT status, stage, completion_status, body FROM applications WHERE app_number = ?`
	if r.driver == "postgres" {
		query += ` FOR UPDATE`
	}

	var status, stage, completion, body string
	err = tx.QueryRowContext(ctx, r.rebind(query), appNumber).Scan(&status, &stage, &completion, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if domain.Status(status) != tr.FromStatus || stage != tr.FromStage {
		return nil, fmt.Errorf("%w: application %s is now %s/%s", ErrConflict, appNumber, status, stage)
	}

	app, err := decodeApplication(status, stage, completion, body)
	if err != nil {
		return nil, err
	}
	app.Status = tr.NewStatus
	app.Stage = tr.NewStage
	app.ApplyFields(tr.FieldsToPersist)
	app.UpdatedBy = rec.Actor
	app.UpdatedAt = rec.CreatedAt

	encoded, err := json.Marshal(app)
	if err != nil {
		return nil, fmt.Errorf("failed to encode application: %w", err)
	}

	update := `
		UPDATE applications
		SET status = ?, stage = ?, body = ?, updated_by = ?, updated_at = ?
		WHERE app_number = ? AND status = ? AND stage = ?
	`
	result, err := tx.ExecContext(ctx, r.rebind(update),
		string(app.Status), app.Stage, string(encoded), app.UpdatedBy, app.UpdatedAt,
		appNumber, status, stage,
	)
	if err != nil {
		return nil, err
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if rows != 1 {
		return nil, ErrConflict
	}

	insert := `
		INSERT INTO transition_history (
			id, app_number, action, actor, role, editor,
			from_status, from_stage, to_status, to_stage, comment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(insert),
		rec.ID, appNumber, string(rec.Action), rec.Actor, rec.Role, string(rec.Editor),
		string(rec.FromStatus), rec.FromStage, string(rec.ToStatus), rec.ToStage, rec.Comment, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return app, nil
}

// ListHistory returns the transitions of an application, oldest first.
func (r *SQLRepository) ListHistory(ctx context.Context, appNumber string) ([]*domain.TransitionRecord, error) {
	query := `
		SELECT id, app_number, action, actor, role, editor,
			   from_status, from_stage, to_status, to_stage, comment, created_at
		FROM transition_history
		WHERE app_number = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), appNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TransitionRecord
	for rows.Next() {
		var rec domain.TransitionRecord
		var action, editor, from, to string
		var comment sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.AppNumber, &action, &rec.Actor, &rec.Role, &editor,
			&from, &rec.FromStage, &to, &rec.ToStage, &comment, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Action = domain.Action(action)
		rec.Editor = domain.Editor(editor)
		rec.FromStatus = domain.Status(from)
		rec.ToStatus = domain.Status(to)
		rec.Comment = comment.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// decodeApplication unmarshals a stored body. The indexed columns are
// authoritative for the fields they duplicate.
func decodeApplication(status, stage, completion, body string) (*domain.Application, error) {
	var app domain.Application
	if err := json.Unmarshal([]byte(body), &app); err != nil {
		return nil, fmt.Errorf("failed to decode application: %w", err)
	}
	app.Status = domain.Status(status)
	app.Stage = stage
	app.CompletionStatus = domain.CompletionStatus(completion)
	return &app, nil
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() time.Time { return time.Now().UTC() }
