// Package domain defines the core interfaces and types for LoanDesk.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Application operations
	CreateApplication(ctx context.Context, app *Application) error
	SaveApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, appNumber string) (*Application, error)
	ListApplications(ctx context.Context, statuses ...Status) ([]*Application, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// ApplyTransition persists a computed transition atomically. The write only
	// happens if the stored status and stage still match the transition's
	// origin; otherwise ErrConflict is returned.
	ApplyTransition(ctx context.Context, appNumber string, tr *Transition, rec *TransitionRecord) (*Application, error)
	ListHistory(ctx context.Context, appNumber string) ([]*TransitionRecord, error)

	// User directory
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, name string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	DeleteUser(ctx context.Context, name string) error

	// Advisory check configuration
	SaveCheck(ctx context.Context, check *CheckConfig) error
	GetCheck(ctx context.Context, checkID string) (*CheckConfig, error)
	ListChecks(ctx context.Context) ([]*CheckConfig, error)
	DeleteCheck(ctx context.Context, checkID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
