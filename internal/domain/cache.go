package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (standalone) + Redis (distributed).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetApplication retrieves a cached application record.
	// Returns nil, nil on a miss.
	GetApplication(ctx context.Context, appNumber string) (*Application, error)

	// SetApplication caches an application record.
	SetApplication(ctx context.Context, app *Application, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// The counter expires one window after its first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache keys shared between the workflow service and the worker.
const (
	CacheKeyStatusCounts = "counts:status"
)

// ApplicationCacheKey returns the cache key of an application record.
func ApplicationCacheKey(appNumber string) string {
	return "app:" + appNumber
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (standalone profile)
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings (distributed profile)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis

	// ApplicationTTL bounds how long a record is served from cache.
	ApplicationTTL time.Duration `mapstructure:"application_ttl"`
}
