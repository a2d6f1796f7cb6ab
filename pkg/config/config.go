// Package config loads server configuration from environment variables,
// with an optional YAML profile overlay for per-deployment overrides.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string
	// Debug switches error responses to the debug wire shape. Never enable
	// in production.
	Debug bool

	// StoreBackend selects the record/job store: memory, sqlite, postgres.
	StoreBackend string
	DatabaseURL  string
	SQLitePath   string

	// CacheBackend selects the context cache and limiter store: memory, redis.
	CacheBackend string
	RedisURL     string

	// CredentialKey is the base64-encoded 32-byte key sealing integration
	// credentials at rest.
	CredentialKey string

	WebhookEndpoint string
	WebhookSecret   string

	Auth0Domain       string
	Auth0Audience     string
	Auth0ClientSecret string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	SyncBatchSize    int
	SyncBatchTimeout time.Duration

	OTELEnabled    bool
	OTELEndpoint   string
	OTELInsecure   bool
	OTELSampleRate float64
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:              envDefault("PORT", "8080"),
		LogLevel:          envDefault("LOG_LEVEL", "INFO"),
		Debug:             os.Getenv("DEBUG") == "true",
		StoreBackend:      envDefault("STORE_BACKEND", "memory"),
		DatabaseURL:       envDefault("DATABASE_URL", "postgres://skein@localhost:5432/skein?sslmode=disable"),
		SQLitePath:        envDefault("SQLITE_PATH", "skein.db"),
		CacheBackend:      envDefault("CACHE_BACKEND", "memory"),
		RedisURL:          envDefault("REDIS_URL", "redis://localhost:6379/0"),
		CredentialKey:     os.Getenv("CREDENTIAL_KEY"),
		WebhookEndpoint:   os.Getenv("WEBHOOK_ENDPOINT"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		Auth0Domain:       os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience:     os.Getenv("AUTH0_AUDIENCE"),
		Auth0ClientSecret: os.Getenv("AUTH0_CLIENT_SECRET"),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		SyncBatchSize:     envInt("SYNC_BATCH_SIZE", 100),
		SyncBatchTimeout:  envDuration("SYNC_BATCH_TIMEOUT", 30*time.Second),
		OTELEnabled:       os.Getenv("OTEL_ENABLED") == "true",
		OTELEndpoint:      envDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELInsecure:      os.Getenv("OTEL_INSECURE") == "true",
		OTELSampleRate:    envFloat("OTEL_SAMPLE_RATE", 1.0),
	}
	return cfg
}

// DecodeCredentialKey decodes the configured credential key. A missing key
// is an error since credentials cannot be sealed without it.
func (c *Config) DecodeCredentialKey() ([]byte, error) {
	if c.CredentialKey == "" {
		return nil, fmt.Errorf("config: CREDENTIAL_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(c.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("config: CREDENTIAL_KEY is not valid base64: %w", err)
	}
	return key, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
