// Package config loads gidx's configuration from a YAML file, environment
// variables, and .env files, following the same viper+godotenv layering the
// rest of the ecosystem uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for a gidx process.
type Config struct {
	// Store selects and configures the relational backend.
	Store StoreConfig `yaml:"store"`

	// Pool configures the reader connection pool shared by both backends.
	Pool PoolConfig `yaml:"pool"`

	// Resolver configures the fuzzy-suggestion cache.
	Resolver ResolverConfig `yaml:"resolver"`

	// RPC holds dispatcher settings. `gidx serve` does not pass them to the
	// dispatcher, which uses its own built-in response budget and
	// slow-query constants.
	RPC RPCConfig `yaml:"rpc"`

	// Narrate holds narrative-summarizer settings. The summarizer does not
	// read them; it takes its API key from OPENAI_API_KEY.
	Narrate NarrateConfig `yaml:"narrate"`

	// Logging configures the process-wide logger.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects sqlite or postgres and its connection parameters.
type StoreConfig struct {
	Type        string `yaml:"type"` // "sqlite" or "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PoolConfig bounds the reader pool; it applies to both the SQLite and
// the pgx-backed Postgres reader pools.
type PoolConfig struct {
	MaxReaders     int           `yaml:"max_readers"`
	MinIdleReaders int           `yaml:"min_idle_readers"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
}

// ResolverConfig configures the EdgeResolver's bbolt-backed suggestion cache.
type ResolverConfig struct {
	CachePath      string `yaml:"cache_path"`
	MaxSuggestions int    `yaml:"max_suggestions"`
}

// RPCConfig holds Dispatcher settings loaded from config; they are not
// wired into the Dispatcher.
type RPCConfig struct {
	MaxResponseBytes   int           `yaml:"max_response_bytes"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	SlowLogRatePerSec  float64       `yaml:"slow_log_rate_per_sec"`
}

// NarrateConfig holds settings for the optional LLM-backed summarizer;
// they are not wired into it.
type NarrateConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
	OutputFile string `yaml:"output_file"`
}

// Default returns the configuration used when no file or env override is
// present: a SQLite store under .gidx/graph.db in the current directory.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(".gidx", "graph.db"),
		},
		Pool: PoolConfig{
			MaxReaders:     8,
			MinIdleReaders: 2,
			AcquireTimeout: 30 * time.Second,
			BusyTimeout:    30 * time.Second,
		},
		Resolver: ResolverConfig{
			CachePath:      filepath.Join(".gidx", "resolver-cache.db"),
			MaxSuggestions: 5,
		},
		RPC: RPCConfig{
			MaxResponseBytes:   1 << 20, // 1 MiB
			SlowQueryThreshold: 100 * time.Millisecond,
			SlowLogRatePerSec:  5,
		},
		Narrate: NarrateConfig{
			Enabled: false,
			Model:   "gpt-4o-mini",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (or from the standard search
// locations if path is empty), applying .env files and environment
// variable overrides on top of Default().
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("store", cfg.Store)
	v.SetDefault("pool", cfg.Pool)
	v.SetDefault("resolver", cfg.Resolver)
	v.SetDefault("rpc", cfg.RPC)
	v.SetDefault("narrate", cfg.Narrate)
	v.SetDefault("logging", cfg.Logging)

	v.SetEnvPrefix("GIDX")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".gidx")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".gidx"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence, same as the rest
// of the pack: local overrides first, then the repo's own .env.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

// applyEnvOverrides applies a handful of environment variables that take
// precedence even over an explicit config file, mirroring CI/CD usage
// where secrets are injected as plain env vars.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("GIDX_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
		cfg.Store.Type = "postgres"
	}
	if path := os.Getenv("GIDX_SQLITE_PATH"); path != "" {
		cfg.Store.SQLitePath = expandPath(path)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Narrate.APIKey = key
		cfg.Narrate.Enabled = true
	}
	if model := os.Getenv("GIDX_NARRATE_MODEL"); model != "" {
		cfg.Narrate.Model = model
	}
	if n := os.Getenv("GIDX_MAX_READERS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Pool.MaxReaders = v
		}
	}
	if level := os.Getenv("GIDX_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("store", c.Store)
	v.Set("pool", c.Pool)
	v.Set("resolver", c.Resolver)
	v.Set("rpc", c.RPC)
	v.Set("narrate", c.Narrate)
	v.Set("logging", c.Logging)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
