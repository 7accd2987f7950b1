package domain

import "time"

// Config holds the complete LoanDesk configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Profile selects the infrastructure backing the service
	Profile Profile `mapstructure:"profile"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`

	Auth   AuthConfig   `mapstructure:"auth"`
	Notify NotifyConfig `mapstructure:"notify"`

	// SeedUsersFile is an optional YAML file of users created at startup
	// when the directory is empty.
	SeedUsersFile string `mapstructure:"seed_users_file"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// NotifyConfig holds notification delivery settings.
type NotifyConfig struct {
	// Channel is "log" or "email"
	Channel string `mapstructure:"channel"`

	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	From         string `mapstructure:"from"`

	// DigestSchedule is a cron spec for the pending-action digest.
	// Empty disables the digest.
	DigestSchedule string `mapstructure:"digest_schedule"`

	// DigestWindow suppresses repeat digests to the same user.
	DigestWindow time.Duration `mapstructure:"digest_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Profile represents the deployment profile.
type Profile string

const (
	// ProfileStandalone runs on SQLite + channels + in-process cache
	ProfileStandalone Profile = "standalone"

	// ProfileDistributed runs on PostgreSQL + NATS + Redis
	ProfileDistributed Profile = "distributed"
)

// DefaultConfig returns a default configuration for the standalone profile.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Profile: ProfileStandalone,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./loandesk.db",
		},
		Cache: CacheConfig{
			Type:           "memory",
			LocalMaxSize:   10000,
			LocalTTL:       5 * time.Minute,
			ApplicationTTL: 10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Auth: AuthConfig{
			Secret:   "change-me",
			Issuer:   "loandesk",
			TokenTTL: 12 * time.Hour,
		},
		Notify: NotifyConfig{
			Channel:      "log",
			SMTPPort:     587,
			DigestWindow: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "loandesk",
		},
	}
}

// DistributedConfig returns a configuration for the distributed profile.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileDistributed
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "loandesk",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ApplicationTTL: 10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
