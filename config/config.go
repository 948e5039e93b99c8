// Package config provides configuration loading and validation.
// Configuration is read once at startup and never reloaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Usage     UsageConfig     `yaml:"usage"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig configures the external generation service.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"api_key"`
	Temperature    float64       `yaml:"temperature"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the upstream circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration"`
}

// AuthConfig configures token issuance.
type AuthConfig struct {
	TokenPrefix string        `yaml:"token_prefix"`
	TokenTTL    time.Duration `yaml:"token_ttl"` // Zero = tokens never expire
	DevToken    bool          `yaml:"dev_token"` // Mint and log a startup token
}

// RateLimitConfig configures the sliding-window rate limiter.
type RateLimitConfig struct {
	MaxRequests     int           `yaml:"max_requests"`
	Window          time.Duration `yaml:"window"`
	Shards          int           `yaml:"shards"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// UsageConfig configures the usage journal.
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DatabaseConfig configures the usage journal database.
// An empty DSN keeps the journal in memory.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file. Environment variables override
// file values, and $VAR references inside the file are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	TRADEGATE_UPSTREAM_API_KEY  - Provider credential (required; GEMINI_API_KEY also honored)
//	TRADEGATE_UPSTREAM_BASE_URL - Provider origin
//	TRADEGATE_UPSTREAM_MODEL    - Generation model
//	TRADEGATE_HOST              - Server host (default: 0.0.0.0)
//	TRADEGATE_PORT              - Server port (default: 8080)
//	TRADEGATE_RATE_LIMIT_MAX    - Admissions per window (default: 5)
//	TRADEGATE_RATE_LIMIT_WINDOW - Window duration (default: 60s)
//	TRADEGATE_DATABASE_DSN      - Journal database path (default: in-memory)
//	TRADEGATE_LOG_LEVEL         - debug, info, warn, error (default: info)
//	TRADEGATE_LOG_FORMAT        - json or console (default: json)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries the file first and falls back to environment
// variables when the file is absent.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide a config file or set TRADEGATE_UPSTREAM_API_KEY")
}

// HasEnvConfig reports whether enough environment is set for a file-less run.
func HasEnvConfig() bool {
	return os.Getenv("TRADEGATE_UPSTREAM_API_KEY") != "" || os.Getenv("GEMINI_API_KEY") != ""
}

// applyEnvOverrides applies TRADEGATE_* environment variables to the config.
// Environment always overrides file values.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Host, "TRADEGATE_HOST")
	setInt(&cfg.Server.Port, "TRADEGATE_PORT")
	setDuration(&cfg.Server.ReadTimeout, "TRADEGATE_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "TRADEGATE_WRITE_TIMEOUT")

	setString(&cfg.Upstream.BaseURL, "TRADEGATE_UPSTREAM_BASE_URL")
	setString(&cfg.Upstream.Model, "TRADEGATE_UPSTREAM_MODEL")
	setString(&cfg.Upstream.APIKey, "TRADEGATE_UPSTREAM_API_KEY")
	setDuration(&cfg.Upstream.AttemptTimeout, "TRADEGATE_UPSTREAM_ATTEMPT_TIMEOUT")
	setInt(&cfg.Upstream.MaxAttempts, "TRADEGATE_UPSTREAM_MAX_ATTEMPTS")

	// The provider's conventional credential variable works as a fallback
	if cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	setString(&cfg.Auth.TokenPrefix, "TRADEGATE_TOKEN_PREFIX")
	setDuration(&cfg.Auth.TokenTTL, "TRADEGATE_TOKEN_TTL")
	if v := os.Getenv("TRADEGATE_DEV_TOKEN"); v != "" {
		cfg.Auth.DevToken = parseBool(v)
	}

	setInt(&cfg.RateLimit.MaxRequests, "TRADEGATE_RATE_LIMIT_MAX")
	setDuration(&cfg.RateLimit.Window, "TRADEGATE_RATE_LIMIT_WINDOW")

	if v := os.Getenv("TRADEGATE_USAGE_ENABLED"); v != "" {
		cfg.Usage.Enabled = parseBool(v)
	}
	setString(&cfg.Database.DSN, "TRADEGATE_DATABASE_DSN")

	setString(&cfg.Logging.Level, "TRADEGATE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "TRADEGATE_LOG_FORMAT")

	if v := os.Getenv("TRADEGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	// Writes stay open across the provider retry loop, so the write
	// deadline tracks the worst-case upstream latency.
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 6 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Upstream.Model == "" {
		cfg.Upstream.Model = "gemini-2.5-flash-preview-09-2025"
	}
	if cfg.Upstream.AttemptTimeout == 0 {
		cfg.Upstream.AttemptTimeout = 60 * time.Second
	}
	if cfg.Upstream.MaxAttempts == 0 {
		cfg.Upstream.MaxAttempts = 5
	}
	if cfg.Upstream.BaseDelay == 0 {
		cfg.Upstream.BaseDelay = 2 * time.Second
	}
	if cfg.Upstream.MaxDelay == 0 {
		cfg.Upstream.MaxDelay = 30 * time.Second
	}
	if cfg.Upstream.Breaker.FailureThreshold == 0 {
		cfg.Upstream.Breaker.FailureThreshold = 5
	}
	if cfg.Upstream.Breaker.OpenDuration == 0 {
		cfg.Upstream.Breaker.OpenDuration = 30 * time.Second
	}

	if cfg.Auth.TokenPrefix == "" {
		cfg.Auth.TokenPrefix = "tk_"
	}

	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 5
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}
	if cfg.RateLimit.Shards == 0 {
		cfg.RateLimit.Shards = 32
	}
	if cfg.RateLimit.CleanupInterval == 0 {
		cfg.RateLimit.CleanupInterval = 5 * time.Minute
	}

	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required (or set TRADEGATE_UPSTREAM_API_KEY / GEMINI_API_KEY)")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}

	if cfg.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("rate_limit.max_requests must not be negative, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %v", cfg.RateLimit.Window)
	}

	if cfg.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("upstream.max_attempts must be at least 1, got %d", cfg.Upstream.MaxAttempts)
	}
	if cfg.Upstream.BaseDelay > cfg.Upstream.MaxDelay {
		return fmt.Errorf("upstream.base_delay %v exceeds upstream.max_delay %v", cfg.Upstream.BaseDelay, cfg.Upstream.MaxDelay)
	}

	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", cfg.Logging.Level)
	}

	return nil
}
