// Package config provides configuration management for the edgelink service.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - PRIMARY_HOST: Redirect host of this deployment; requests on other
//     hosts resolve custom-domain links. Empty disables custom domains.
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./edgelink.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Event Bus:
//   - BUS_TYPE: Event transport - "memory" or "redis" (default: memory)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - STREAM_PREFIX: Redis stream key prefix (default: edgelink:events)
//   - CONSUMER_NAME: Consumer name within the dispatcher group (default: consumer-1)
//
// Click Ingestion:
//   - INGEST_QUEUE_SIZE: Bounded click queue depth (default: 4096)
//   - INGEST_WORKERS: Click persistence workers (default: 4)
//   - DEDUPE_WINDOW: Client dedupe window, 0 disables (default: 30s)
//
// Webhook Delivery:
//   - WEBHOOK_MAX_ATTEMPTS: Delivery attempts per subscription (default: 5)
//   - WEBHOOK_INITIAL_DELAY: Delay before the first retry (default: 1s)
//   - WEBHOOK_MAX_DELAY: Backoff ceiling (default: 5m)
//   - WEBHOOK_TIMEOUT: Per-request timeout (default: 10s)
//
// Resolution:
//   - GEOIP_DATABASE_PATH: MaxMind database path, empty disables geo rules
//   - RULE_CACHE_TTL: Rule snapshot freshness window (default: 30s)
//
// Link Retention:
//   - RETENTION_WINDOW: How long deleted slugs stay reserved (default: 720h)
//   - PRUNE_SCHEDULE: Cron expression for tombstone pruning (default: @daily)
//
// Analytics:
//   - AGGREGATION_SCHEDULE: Cron expression for rollup runs (default: @every 5m)
//   - AGGREGATION_LOOKBACK: Recompute window per run (default: 2h)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the edgelink service.
// Load it with Load() and check it with Validate() before use.
type Config struct {
	// Application settings
	Port        string
	LogLevel    string
	PrimaryHost string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Event bus
	BusType       string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	StreamPrefix  string
	ConsumerName  string

	// Click ingestion
	IngestQueueSize int
	IngestWorkers   int
	DedupeWindow    time.Duration

	// Webhook delivery
	WebhookMaxAttempts  int
	WebhookInitialDelay time.Duration
	WebhookMaxDelay     time.Duration
	WebhookTimeout      time.Duration

	// Resolution
	GeoIPDatabasePath string
	RuleCacheTTL      time.Duration

	// Link retention
	RetentionWindow time.Duration
	PruneSchedule   string

	// Analytics
	AggregationSchedule string
	AggregationLookback time.Duration
}

// Load creates a Config from the environment, reading a .env file first if
// one is present. It does not validate; call Validate() on the result.
func Load() *Config {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PrimaryHost: getEnv("PRIMARY_HOST", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./edgelink.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "edgelink"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		BusType:       getEnv("BUS_TYPE", "memory"),
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		StreamPrefix:  getEnv("STREAM_PREFIX", "edgelink:events"),
		ConsumerName:  getEnv("CONSUMER_NAME", "consumer-1"),

		IngestQueueSize: getIntEnv("INGEST_QUEUE_SIZE", 4096),
		IngestWorkers:   getIntEnv("INGEST_WORKERS", 4),
		DedupeWindow:    getDurationEnv("DEDUPE_WINDOW", 30*time.Second),

		WebhookMaxAttempts:  getIntEnv("WEBHOOK_MAX_ATTEMPTS", 5),
		WebhookInitialDelay: getDurationEnv("WEBHOOK_INITIAL_DELAY", time.Second),
		WebhookMaxDelay:     getDurationEnv("WEBHOOK_MAX_DELAY", 5*time.Minute),
		WebhookTimeout:      getDurationEnv("WEBHOOK_TIMEOUT", 10*time.Second),

		GeoIPDatabasePath: getEnv("GEOIP_DATABASE_PATH", ""),
		RuleCacheTTL:      getDurationEnv("RULE_CACHE_TTL", 30*time.Second),

		RetentionWindow: getDurationEnv("RETENTION_WINDOW", 720*time.Hour),
		PruneSchedule:   getEnv("PRUNE_SCHEDULE", "@daily"),

		AggregationSchedule: getEnv("AGGREGATION_SCHEDULE", "@every 5m"),
		AggregationLookback: getDurationEnv("AGGREGATION_LOOKBACK", 2*time.Hour),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable, falling back to the
// default on absence or parse failure.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable, falling back to
// the default on absence or parse failure.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration: required fields,
// format checks, and cross-field dependencies. Call it after Load() and
// before starting the service.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	switch c.BusType {
	case "memory":
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when using the redis bus")
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	default:
		return fmt.Errorf("BUS_TYPE must be 'memory' or 'redis'")
	}

	if c.IngestQueueSize < 1 {
		return fmt.Errorf("INGEST_QUEUE_SIZE must be a positive number")
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be a positive number")
	}
	if c.DedupeWindow < 0 {
		return fmt.Errorf("DEDUPE_WINDOW must not be negative")
	}

	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if c.WebhookInitialDelay <= 0 {
		return fmt.Errorf("WEBHOOK_INITIAL_DELAY must be a positive duration")
	}
	if c.WebhookMaxDelay < c.WebhookInitialDelay {
		return fmt.Errorf("WEBHOOK_MAX_DELAY must be at least WEBHOOK_INITIAL_DELAY")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be a positive duration")
	}

	if c.RuleCacheTTL <= 0 {
		return fmt.Errorf("RULE_CACHE_TTL must be a positive duration")
	}
	if c.RetentionWindow <= 0 {
		return fmt.Errorf("RETENTION_WINDOW must be a positive duration")
	}
	if c.AggregationLookback <= 0 {
		return fmt.Errorf("AGGREGATION_LOOKBACK must be a positive duration")
	}

	return nil
}
