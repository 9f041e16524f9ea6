// Package config provides environment-driven configuration for Identgate.
//
// All settings come from environment variables (optionally via an
// identgate.yaml file for local development). The service is designed to run
// from env alone in containers.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config is the top-level configuration for the Identgate server.
type Config struct {
	// JWTAlg selects the token signing algorithm.
	JWTAlg string `yaml:"jwt_alg" mapstructure:"jwt_alg" validate:"required,oneof=HS256 RS256"`

	// JWTSecret is the HS256 signing secret. Required when JWTAlg is HS256.
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`

	// JWTPrivateKey is the RS256 signing key: either PEM content or a path
	// to a PEM file. Required for issuing when JWTAlg is RS256.
	JWTPrivateKey string `yaml:"jwt_private_key" mapstructure:"jwt_private_key"`

	// JWTPublicKey is the RS256 verification key: either PEM content or a
	// path to a PEM file. Required when JWTAlg is RS256.
	JWTPublicKey string `yaml:"jwt_public_key" mapstructure:"jwt_public_key"`

	// JWTExpireMinutes is the token lifetime in minutes.
	JWTExpireMinutes int `yaml:"jwt_expire_minutes" mapstructure:"jwt_expire_minutes" validate:"required,gt=0"`

	// PoliciesPath is the filesystem path of the policies document. A
	// starter document is written there on first startup.
	PoliciesPath string `yaml:"policies_path" mapstructure:"policies_path" validate:"required"`

	// DBPath is the filesystem path of the SQLite record store.
	DBPath string `yaml:"db_path" mapstructure:"db_path" validate:"required"`

	// LogLevel sets the minimum log level: DEBUG, INFO, WARNING, or ERROR.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR"`

	// HTTPPort is the listen port.
	HTTPPort int `yaml:"http_port" mapstructure:"http_port" validate:"required,min=1,max=65535"`

	// RateLimit configures the per-IP request limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Audit configures the async audit pipeline.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RatePerMinute is the sustained requests per minute per IP.
	// Defaults to 300 when rate limiting is enabled.
	RatePerMinute int `yaml:"rate_per_minute" mapstructure:"rate_per_minute" validate:"omitempty,min=1"`

	// Burst is the instantaneous burst allowance per IP.
	// Defaults to 50 when rate limiting is enabled.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`
}

// AuditConfig configures the async audit pipeline.
type AuditConfig struct {
	// Dir selects file-backed audit persistence with daily rotation.
	// When empty, records are written as JSON lines to stdout.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// ChannelSize is the buffer size for the audit channel.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g. "1s").
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.JWTAlg == "" {
		c.JWTAlg = "HS256"
	}
	if c.JWTExpireMinutes == 0 {
		c.JWTExpireMinutes = 30
	}
	if c.PoliciesPath == "" {
		c.PoliciesPath = "policies.json"
	}
	if c.DBPath == "" {
		c.DBPath = "identgate.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8000
	}

	if c.RateLimit.RatePerMinute == 0 {
		c.RateLimit.RatePerMinute = 300
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 50
	}

	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SlogLevel maps LogLevel to the slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// KeyMaterial resolves a key setting that may be either inline PEM content
// or a path to a PEM file. Values starting with "-----BEGIN" are taken as
// literal PEM; anything else is read from disk.
func KeyMaterial(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	if strings.HasPrefix(strings.TrimSpace(value), "-----BEGIN") {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", value, err)
	}
	return data, nil
}
