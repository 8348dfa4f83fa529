// Package config defines the process configuration for the API and the
// data poller. It is loaded once at startup and treated as immutable.
//
// Values resolve in priority order:
//
//	OS environment -> .env file -> AWS SSM Parameter Store (via *_SSM_PARAM)
package config

import (
	"log/slog"
	"strings"
	"time"

	"weatherbingo/internal/types"
)

// SecretString is the redacted secret type used for sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"weather-bingo"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Yr            YrConfig
	Poller        PollerConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080" validate:"numeric"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the connection string and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"5s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// YrConfig configures the upstream forecast client.
type YrConfig struct {
	BaseURL   string        `envconfig:"YR_BASE_URL" default:"https://api.met.no" validate:"url"`
	UserAgent string        `envconfig:"YR_USER_AGENT" default:"WeatherBingo/0.1 github.com/LC-Zurich-Doppelstock/weather-bingo" validate:"required"`
	Timeout   time.Duration `envconfig:"YR_TIMEOUT" default:"30s"`
}

// PollerConfig toggles the in-process background poller of the API.
type PollerConfig struct {
	Enabled bool `envconfig:"POLLER_ENABLED" default:"true"`
}

// AWSConfig holds optional side-channel resources. An empty identifier
// disables the matching component.
type AWSConfig struct {
	Region                 string `envconfig:"AWS_REGION" default:"eu-north-1"`
	ArchiveBucket          string `envconfig:"ARCHIVE_BUCKET"`
	ForecastEventsQueueURL string `envconfig:"FORECAST_EVENTS_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack support; empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// ObservabilityConfig holds metric settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"WeatherBingo"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
