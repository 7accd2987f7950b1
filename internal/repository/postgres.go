package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// Pool sizing used for PostgreSQL when the config leaves it unset. Several
// instances share one server, so each keeps a modest pool.
const (
	postgresMaxOpenConns    = 20
	postgresMaxIdleConns    = 5
	postgresConnMaxLifetime = 30 * time.Minute
)

// postgresDSN builds a connection URL. Credentials are escaped, so passwords
// may contain spaces or '@'.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "loandesk"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}, "application_name": {"loandesk"}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}

// withPostgresPool fills unset pool settings with the PostgreSQL defaults.
func withPostgresPool(cfg domain.RepositoryConfig) domain.RepositoryConfig {
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = postgresMaxOpenConns
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = postgresMaxIdleConns
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = postgresConnMaxLifetime
	}
	return cfg
}

// openPostgres opens the distributed database.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database %s: %w", cfg.PostgresHost, err)
	}
	return db, nil
}
