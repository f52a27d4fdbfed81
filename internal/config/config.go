// Package config provides centralized configuration management for the
// ingestion service. It loads configuration from environment variables
// with sensible defaults and validates all settings on startup to fail
// fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Fetch     FetchConfig
	Aggregate AggregateConfig
	Retry     RetryConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings for the webhook listener.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// MigrateOnStart runs pending schema migrations during startup (default: true)
	MigrateOnStart bool `env:"DB_MIGRATE_ON_START" default:"true"`
}

// WebhookConfig holds settings for the event webhook listener.
type WebhookConfig struct {
	// APIKey authenticates incoming webhook requests via the X-Api-Key
	// header. Empty disables authentication (local development only).
	APIKey string `env:"WEBHOOK_API_KEY"`

	// EventFetchTimeout is the deadline for fetching the payload a
	// delivered event points at (default: 10s)
	EventFetchTimeout time.Duration `env:"WEBHOOK_EVENT_FETCH_TIMEOUT" default:"10s"`

	// MaxBodyBytes caps the size of accepted webhook bodies (default: 10MB)
	MaxBodyBytes int64 `env:"WEBHOOK_MAX_BODY_BYTES" default:"10485760"`
}

// FetchConfig holds settings for the scheduled API pollers.
type FetchConfig struct {
	// Enabled turns the pollers on (default: false)
	Enabled bool `env:"FETCH_ENABLED" default:"false"`

	// BaseURL is the vendor API root the pollers page through
	BaseURL string `env:"FETCH_BASE_URL"`

	// SubscriptionKey is sent as the Ocp-Apim-Subscription-Key header
	SubscriptionKey string `env:"FETCH_SUBSCRIPTION_KEY"`

	// Feeds lists the feed names to poll (default: sites,chargingstations)
	Feeds []string `env:"FETCH_FEEDS" default:"sites,chargingstations"`

	// Interval is the time between polling cycles (default: 15m)
	Interval time.Duration `env:"FETCH_INTERVAL" default:"15m"`

	// Timeout is the per-request deadline (default: 30s)
	Timeout time.Duration `env:"FETCH_TIMEOUT" default:"30s"`
}

// AggregateConfig holds settings for the staging-area aggregator.
type AggregateConfig struct {
	// Enabled turns the aggregator on (default: false)
	Enabled bool `env:"AGGREGATE_ENABLED" default:"false"`

	// StagingDir is the directory holding staged record blobs
	StagingDir string `env:"AGGREGATE_STAGING_DIR"`

	// ExportDir receives the current-rows CSV snapshots
	ExportDir string `env:"AGGREGATE_EXPORT_DIR"`

	// Interval is the time between aggregation cycles (default: 5m)
	Interval time.Duration `env:"AGGREGATE_INTERVAL" default:"5m"`

	// MaxBlobs caps how many staged blobs one cycle ingests (default: 1000)
	MaxBlobs int `env:"AGGREGATE_MAX_BLOBS" default:"1000"`
}

// RetryConfig holds retry settings for transient store errors.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per record (default: 4)
	MaxAttempts int `env:"RETRY_MAX_ATTEMPTS" default:"4"`

	// InitialInterval is the first backoff delay (default: 100ms)
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" default:"100ms"`

	// MaxInterval caps the backoff delay (default: 2s)
	MaxInterval time.Duration `env:"RETRY_MAX_INTERVAL" default:"2s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
