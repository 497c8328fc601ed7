// Package config provides configuration loading for stevedored.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete stevedored configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Session       SessionConfig       `koanf:"session"`
	Scoring       ScoringConfig       `koanf:"scoring"`
	Retry         RetryConfig         `koanf:"retry"`
	Gates         GatesConfig         `koanf:"gates"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Progress      ProgressConfig      `koanf:"progress"`
	Artifacts     ArtifactsConfig     `koanf:"artifacts"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`

	// Endpoint is the OTLP collector address, e.g. localhost:4317.
	Endpoint string `koanf:"endpoint"`

	// Protocol is grpc or http.
	Protocol string `koanf:"protocol"`
}

// SessionConfig holds session store configuration.
type SessionConfig struct {
	TTL                 time.Duration `koanf:"ttl"`
	CompletionRetention time.Duration `koanf:"completion_retention"`
	MaxSessions         int           `koanf:"max_sessions"`
	CleanupInterval     time.Duration `koanf:"cleanup_interval"`
}

// ScoringConfig holds candidate scoring configuration.
type ScoringConfig struct {
	// Weights maps metric names to percentages; must sum to 100.
	Weights map[string]float64 `koanf:"weights"`

	// EarlyStopThreshold stops scoring once a candidate reaches it.
	// Zero disables early stop.
	EarlyStopThreshold float64 `koanf:"early_stop_threshold"`

	// TieBreakMargin is the score distance treated as a tie.
	TieBreakMargin float64 `koanf:"tie_break_margin"`
}

// RetryConfig holds step retry configuration.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Delay       time.Duration `koanf:"delay"`

	// Backoff is none, linear, or exponential.
	Backoff string `koanf:"backoff"`
}

// GatesConfig holds phase gate configuration.
type GatesConfig struct {
	// AnalysisRequiredFields lists the analysis output fields that must be
	// present and non-empty.
	AnalysisRequiredFields []string `koanf:"analysis_required_fields"`

	// VulnerabilityThresholds maps severity to the highest allowed count.
	VulnerabilityThresholds map[string]int `koanf:"vulnerability_thresholds"`
}

// PipelineConfig holds default pipeline run options.
type PipelineConfig struct {
	SkipScan   bool `koanf:"skip_scan"`
	SkipDeploy bool `koanf:"skip_deploy"`
	Strict     bool `koanf:"strict"`
}

// ProgressConfig holds progress event delivery configuration.
type ProgressConfig struct {
	// NATSURL enables the NATS sink when non-empty.
	NATSURL string `koanf:"nats_url"`

	// SubjectPrefix is the subject root for published events.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ArtifactsConfig holds artifact cache configuration.
type ArtifactsConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// Load loads configuration from environment variables with defaults, without
// consulting a config file.
//
// Environment variables:
//   - SERVER_HTTP_PORT: HTTP server port (default: 9911)
//   - SERVER_SHUTDOWN_TIMEOUT: graceful shutdown timeout (default: 10s)
//   - LOGGING_LEVEL: log level (default: info)
//   - OTEL_ENABLE: enable OpenTelemetry export (default: false)
//   - OTEL_SERVICE_NAME: service name for traces (default: stevedored)
//   - SESSION_TTL: session time-to-live (default: 24h)
//   - SESSION_MAX_SESSIONS: active session cap (default: 100)
//   - RETRY_MAX_ATTEMPTS: step retry attempts (default: 3)
//   - PROGRESS_NATS_URL: NATS server URL; empty disables the sink
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_HTTP_PORT", 9911),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOGGING_LEVEL", "info"),
			Format: getEnvString("LOGGING_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", false),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "stevedored"),
			Endpoint:        getEnvString("OTEL_ENDPOINT", "localhost:4317"),
			Protocol:        getEnvString("OTEL_PROTOCOL", "grpc"),
		},
		Session: SessionConfig{
			TTL:                 getEnvDuration("SESSION_TTL", 24*time.Hour),
			CompletionRetention: getEnvDuration("SESSION_COMPLETION_RETENTION", 5*time.Minute),
			MaxSessions:         getEnvInt("SESSION_MAX_SESSIONS", 100),
			CleanupInterval:     getEnvDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			Delay:       getEnvDuration("RETRY_DELAY", time.Second),
			Backoff:     getEnvString("RETRY_BACKOFF", "exponential"),
		},
		Progress: ProgressConfig{
			NATSURL:       getEnvString("PROGRESS_NATS_URL", ""),
			SubjectPrefix: getEnvString("PROGRESS_SUBJECT_PREFIX", "sessions"),
		},
	}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		switch c.Observability.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("invalid otlp protocol: %q", c.Observability.Protocol)
		}
	}

	if c.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Session.MaxSessions < 0 {
		return errors.New("max sessions must be non-negative")
	}

	var sum float64
	for name, w := range c.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("scoring weight %q must be non-negative", name)
		}
		sum += w
	}
	if sum != 100 {
		return fmt.Errorf("scoring weights must sum to 100, got %v", sum)
	}
	if c.Scoring.TieBreakMargin < 0 {
		return errors.New("tie-break margin must be non-negative")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}
	if c.Retry.Delay < 0 {
		return errors.New("retry delay must be non-negative")
	}
	switch c.Retry.Backoff {
	case "none", "linear", "exponential":
	default:
		return fmt.Errorf("invalid retry backoff: %q", c.Retry.Backoff)
	}

	for severity, limit := range c.Gates.VulnerabilityThresholds {
		if limit < 0 {
			return fmt.Errorf("vulnerability threshold for %q must be non-negative", severity)
		}
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
