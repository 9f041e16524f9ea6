// Package config provides configuration loading for Identgate.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for identgate.yaml/.yml in
// standard locations; a missing file is not an error because the service is
// fully configurable from environment variables.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found. Set name/type without search paths so
		// ReadInConfig returns ConfigFileNotFoundError, which callers treat
		// as env-only mode.
		viper.SetConfigName("identgate")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	bindEnvKeys()
}

// findConfigFile searches standard locations for an identgate config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".identgate"),
		"/etc/identgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "identgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds every config key to its environment variable. The env
// names are the flat upper-case forms the deployment documentation uses
// (JWT_SECRET, POLICIES_PATH, ...), not viper's derived nested names.
func bindEnvKeys() {
	_ = viper.BindEnv("jwt_alg", "JWT_ALG")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt_private_key", "JWT_PRIVATE_KEY")
	_ = viper.BindEnv("jwt_public_key", "JWT_PUBLIC_KEY")
	_ = viper.BindEnv("jwt_expire_minutes", "JWT_EXPIRE_MINUTES")
	_ = viper.BindEnv("policies_path", "POLICIES_PATH")
	_ = viper.BindEnv("db_path", "DB_PATH")
	_ = viper.BindEnv("log_level", "LOG_LEVEL")
	_ = viper.BindEnv("http_port", "HTTP_PORT")

	_ = viper.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	_ = viper.BindEnv("rate_limit.rate_per_minute", "RATE_LIMIT_RATE_PER_MINUTE")
	_ = viper.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")

	_ = viper.BindEnv("audit.dir", "AUDIT_DIR")
	_ = viper.BindEnv("audit.channel_size", "AUDIT_CHANNEL_SIZE")
	_ = viper.BindEnv("audit.batch_size", "AUDIT_BATCH_SIZE")
	_ = viper.BindEnv("audit.flush_interval", "AUDIT_FLUSH_INTERVAL")
}

// LoadConfig reads the configuration file (if any), applies environment
// overrides and defaults, validates, and returns the Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
