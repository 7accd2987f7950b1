// Package config loads the LoanDesk configuration.
//
// Values are layered: profile defaults, then an optional config file, then
// a .env file, then LOANDESK_* environment variables. Nested keys use
// underscores in the environment, so repository.postgres_host is read from
// LOANDESK_REPOSITORY_POSTGRES_HOST.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOANDESK"

var durationType = reflect.TypeOf(time.Duration(0))

// Load builds the configuration. path may be empty.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Debug("config file loaded", "path", v.ConfigFileUsed())
	}

	base := domain.DefaultConfig()
	if domain.Profile(v.GetString("profile")) == domain.ProfileDistributed {
		base = domain.DistributedConfig()
	}
	setDefaults(v, "", reflect.ValueOf(*base))

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every leaf of a config struct as a viper default so
// that environment overrides apply to keys absent from the file.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Profile {
	case domain.ProfileStandalone, domain.ProfileDistributed:
	default:
		return fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	switch cfg.Notify.Channel {
	case "", "log", "email":
	default:
		return fmt.Errorf("unknown notify.channel %q", cfg.Notify.Channel)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", cfg.Logging.Level)
	}
	return nil
}
