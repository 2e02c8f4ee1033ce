// Package config loads server configuration from 12-factor
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Audit backend selectors.
const (
	AuditBackendMemory   = "memory"
	AuditBackendSQLite   = "sqlite"
	AuditBackendPostgres = "postgres"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	Environment string

	PolicyDir    string
	ExtensionDir string
	ProfileDir   string

	AuditBackend    string
	AuditDSN        string
	AuditMaxEntries int
	AuditMaxAge     time.Duration

	RequirementTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	RedisAddr      string

	AuthSecret string

	OTLPEndpoint string

	AttestSecret string
	AttestScope  string
}

// Load reads configuration from environment variables, applying
// defaults for anything unset. Malformed numeric or duration values
// are errors rather than silent fallbacks.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         envStr("PORT", "8080"),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		Environment:  envStr("ENVIRONMENT", "development"),
		PolicyDir:    os.Getenv("POLICY_DIR"),
		ExtensionDir: os.Getenv("EXTENSION_DIR"),
		ProfileDir:   os.Getenv("PROFILE_DIR"),
		AuditBackend: envStr("AUDIT_BACKEND", AuditBackendMemory),
		AuditDSN:     os.Getenv("AUDIT_DSN"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AttestSecret: os.Getenv("ATTEST_MASTER_SECRET"),
		AttestScope:  envStr("ATTEST_SCOPE", "default"),
	}

	var err error
	if cfg.AuditMaxEntries, err = envInt("AUDIT_MAX_ENTRIES", 10000); err != nil {
		return nil, err
	}
	if cfg.AuditMaxAge, err = envDuration("AUDIT_MAX_AGE", 0); err != nil {
		return nil, err
	}
	if cfg.RequirementTimeout, err = envDuration("REQUIREMENT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 40); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AuditBackend {
	case AuditBackendMemory:
	case AuditBackendSQLite, AuditBackendPostgres:
		if c.AuditDSN == "" {
			return fmt.Errorf("config: AUDIT_DSN is required for the %s audit backend", c.AuditBackend)
		}
	default:
		return fmt.Errorf("config: unknown audit backend %q", c.AuditBackend)
	}
	if c.RequirementTimeout <= 0 {
		return fmt.Errorf("config: REQUIREMENT_TIMEOUT must be positive")
	}
	return nil
}

// SlogLevel maps the configured log level onto slog's scale. Unknown
// values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Addr returns the listen address for the API server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
