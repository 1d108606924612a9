// Package config loads and resolves pyp's configuration: gateway
// networking, logging, the JavaScript sandbox pool, the cron scheduler,
// local storage, and default grammar selection. Precedence follows
// viper's usual layering: flags > environment (PYP_ prefix) > config
// file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved application configuration.
type Config struct {
	Version string `mapstructure:"version"`

	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     LogConfig     `mapstructure:"log"`
	JSVM    JSVMConfig    `mapstructure:"jsvm"`
	Cron    CronConfig    `mapstructure:"cron"`
	Storage StorageConfig `mapstructure:"storage"`
	Grammar GrammarConfig `mapstructure:"grammar"`
}

// GatewayConfig configures the live-preview HTTP/WebSocket server.
type GatewayConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds request rate on the gateway.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
	File   string `mapstructure:"file"`   // empty means stderr
}

// JSVMConfig configures the goja VM pool and the sandbox each region
// script runs under.
type JSVMConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PoolSize       int           `mapstructure:"pool_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxWriteSize   int64         `mapstructure:"max_write_size"`
	AllowedPaths   []string      `mapstructure:"allowed_paths"`
}

// CronConfig configures the scheduled batch preprocessing subsystem.
type CronConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	HistoryLimit int         `mapstructure:"history_limit"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// RetryConfig configures cron job retry backoff.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// StorageConfig configures the sqlite-backed cron/trie-cache store.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// GrammarConfig selects which tag grammar a run uses when none is
// given explicitly on the command line.
type GrammarConfig struct {
	Path          string `mapstructure:"path"` // empty uses the built-in default
	Continuations bool   `mapstructure:"continuations"`
}

var (
	mu      sync.RWMutex
	current *Config
	v       *viper.Viper
)

// Load reads configuration from path (if non-empty and present),
// layering environment variables and defaults underneath, and caches
// the result for GetConfig.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	v = viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PYP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	current = &cfg
	return current, nil
}

// GetConfig returns the most recently loaded configuration, loading
// defaults if Load has not been called yet.
func GetConfig() *Config {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return current
	}
	mu.RUnlock()

	cfg, err := Load("")
	if err != nil {
		// setDefaults alone never fails to unmarshal; this path is
		// unreachable in practice.
		return &Config{}
	}
	return cfg
}

// Get returns a raw config value by dotted key (e.g. "gateway.port").
func Get(key string) any {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return nil
	}
	return v.Get(key)
}

// GetString returns a config value as a string.
func GetString(key string) string {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetInt returns a config value as an int.
func GetInt(key string) int {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetBool returns a config value as a bool.
func GetBool(key string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// Set overrides a config value by dotted key and re-unmarshals the
// cached Config so GetConfig reflects the change immediately.
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	v.Set(key, value)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	current = &cfg
	return nil
}

// Save writes the current configuration to path as YAML.
func Save(path string) error {
	mu.RLock()
	vv := v
	mu.RUnlock()
	if vv == nil {
		return fmt.Errorf("config: nothing loaded to save")
	}
	return vv.WriteConfigAs(path)
}

// Reset clears the cached configuration, forcing the next GetConfig
// call to reload defaults. Used by tests to avoid cross-test leakage.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
	v = nil
}

// SetTestConfig installs cfg as the cached configuration directly,
// bypassing viper. Used by tests that want a fully controlled Config
// without touching the filesystem or environment.
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}
