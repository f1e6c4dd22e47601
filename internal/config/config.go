// Package config loads the server configuration from a YAML file with
// ${ENV} substitution, applies environment overrides, and resolves the
// shared MAC key.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vaultbank/vaultbank/internal/crypto"
	"github.com/vaultbank/vaultbank/internal/ratelimit"
)

// Config is the top-level configuration for the banking server.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Security SecurityConfig `yaml:"security"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// ListenConfig defines the bind addresses and ports.
type ListenConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	APIBind      string        `yaml:"api_bind"`
	APIPort      int           `yaml:"api_port"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig holds the shared-key source and nonce lifetime.
type SecurityConfig struct {
	// SharedKey is the base64-encoded 32-byte MAC key. Usually supplied
	// via ${SHARED_KEY} substitution rather than written in the file.
	SharedKey string `yaml:"shared_key"`
	// SharedKeyFile is a file containing the raw 32 key bytes, used
	// when SharedKey is empty.
	SharedKeyFile string        `yaml:"shared_key_file"`
	NonceTTL      time.Duration `yaml:"nonce_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LimitsConfig holds the login rate-limiter parameters.
type LimitsConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
	Lockout     time.Duration `yaml:"lockout"`
}

// RateLimitSettings converts the config block to limiter settings.
func (l LimitsConfig) RateLimitSettings() ratelimit.Settings {
	return ratelimit.Settings{
		MaxAttempts: l.MaxAttempts,
		Window:      l.Window,
		Lockout:     l.Lockout,
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment
// variable values. Unset variables are left untouched.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the built-in configuration, before env overrides.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file with env var substitution,
// then applies SERVER_HOST/SERVER_PORT/DB_PATH/SHARED_KEY overrides. An
// empty path yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = substituteEnvVars(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "127.0.0.1"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 5000
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8081
	}
	if cfg.Listen.ReadTimeout == 0 {
		cfg.Listen.ReadTimeout = 5 * time.Second
	}
	if cfg.Listen.WriteTimeout == 0 {
		cfg.Listen.WriteTimeout = 5 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/vaultbank.db"
	}
	if cfg.Security.SharedKeyFile == "" {
		cfg.Security.SharedKeyFile = "config/shared_key.key"
	}
	if cfg.Security.NonceTTL == 0 {
		cfg.Security.NonceTTL = 5 * time.Minute
	}
	if cfg.Security.SweepInterval == 0 {
		cfg.Security.SweepInterval = time.Minute
	}
	if cfg.Limits.MaxAttempts == 0 {
		cfg.Limits.MaxAttempts = ratelimit.DefaultMaxAttempts
	}
	if cfg.Limits.Window == 0 {
		cfg.Limits.Window = ratelimit.DefaultWindow
	}
	if cfg.Limits.Lockout == 0 {
		cfg.Limits.Lockout = ratelimit.DefaultLockout
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Listen.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Listen.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SHARED_KEY"); v != "" {
		cfg.Security.SharedKey = v
	}
}

func validate(cfg *Config) error {
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", cfg.Listen.Port)
	}
	if cfg.Listen.APIPort <= 0 || cfg.Listen.APIPort > 65535 {
		return fmt.Errorf("api port %d out of range", cfg.Listen.APIPort)
	}
	if cfg.Limits.MaxAttempts < 1 {
		return fmt.Errorf("limits.max_attempts must be at least 1")
	}
	return nil
}

// SharedKeyBytes resolves the shared MAC key: the base64 SharedKey value
// when present, otherwise the raw bytes of SharedKeyFile. The key must
// be exactly crypto.KeySize bytes; startup fails fast without one.
func (c *Config) SharedKeyBytes() ([]byte, error) {
	if c.Security.SharedKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Security.SharedKey)
		if err != nil {
			return nil, fmt.Errorf("decoding SHARED_KEY: %w", err)
		}
		if len(key) != crypto.KeySize {
			return nil, fmt.Errorf("shared key is %d bytes, want %d", len(key), crypto.KeySize)
		}
		return key, nil
	}

	key, err := os.ReadFile(c.Security.SharedKeyFile)
	if err != nil {
		return nil, fmt.Errorf("no shared key available (set SHARED_KEY or provide %s): %w", c.Security.SharedKeyFile, err)
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("shared key file is %d bytes, want %d", len(key), crypto.KeySize)
	}
	return key, nil
}
