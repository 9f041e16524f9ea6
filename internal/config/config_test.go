package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Config{
		JWTAlg:    "HS256",
		JWTSecret: "test-secret",
	}
	cfg.SetDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.JWTAlg != "HS256" {
		t.Errorf("jwt_alg default = %s, want HS256", cfg.JWTAlg)
	}
	if cfg.JWTExpireMinutes != 30 {
		t.Errorf("jwt_expire_minutes default = %d, want 30", cfg.JWTExpireMinutes)
	}
	if cfg.HTTPPort != 8000 {
		t.Errorf("http_port default = %d, want 8000", cfg.HTTPPort)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("log_level default = %s, want INFO", cfg.LogLevel)
	}
	if cfg.Audit.ChannelSize != 1000 || cfg.Audit.BatchSize != 100 {
		t.Errorf("audit defaults = %+v", cfg.Audit)
	}
}

func TestValidateAcceptsSaneConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed on sane config: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"unknown algorithm", func(c *Config) { c.JWTAlg = "ES256" }, "one of"},
		{"zero expiry", func(c *Config) { c.JWTExpireMinutes = -5 }, "greater than"},
		{"port out of range", func(c *Config) { c.HTTPPort = 70000 }, "at most"},
		{"bad log level", func(c *Config) { c.LogLevel = "TRACE" }, "one of"},
		{"HS256 without secret", func(c *Config) { c.JWTSecret = "" }, "jwt_secret"},
		{"RS256 without public key", func(c *Config) {
			c.JWTAlg = "RS256"
			c.JWTPrivateKey = "key.pem"
		}, "jwt_public_key"},
		{"RS256 without private key", func(c *Config) {
			c.JWTAlg = "RS256"
			c.JWTPublicKey = "pub.pem"
		}, "jwt_private_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Config{HTTPPort: 8000}
	if got := cfg.ListenAddr(); got != ":8000" {
		t.Errorf("ListenAddr() = %s, want :8000", got)
	}
}

func TestKeyMaterial(t *testing.T) {
	inline := "-----BEGIN PUBLIC KEY-----\nZm9v\n-----END PUBLIC KEY-----\n"
	got, err := KeyMaterial(inline)
	if err != nil {
		t.Fatalf("inline PEM failed: %v", err)
	}
	if string(got) != inline {
		t.Error("inline PEM not passed through verbatim")
	}

	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte(inline), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	got, err = KeyMaterial(path)
	if err != nil {
		t.Fatalf("file PEM failed: %v", err)
	}
	if string(got) != inline {
		t.Error("file PEM content mismatch")
	}

	if _, err := KeyMaterial(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("missing key file should error")
	}

	got, err = KeyMaterial("")
	if err != nil || got != nil {
		t.Errorf("empty value = (%v, %v), want (nil, nil)", got, err)
	}
}
