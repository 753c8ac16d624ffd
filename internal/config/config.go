/*
Package config loads server configuration from a YAML file with
environment variable overrides.

PRECEDENCE (highest wins):
  1. Environment variables (LEDGER_*)
  2. YAML file values
  3. Built-in defaults

USAGE:
  cfg, err := config.Load("config.yaml")   // path may be ""
  if err != nil { ... }

ENVIRONMENT OVERRIDES:
  LEDGER_LISTEN_ADDR    Server listen address
  LEDGER_STORE_DRIVER   "sqlite" or "postgres"
  LEDGER_SQLITE_PATH    SQLite database file
  LEDGER_POSTGRES_DSN   lib/pq connection string
  LEDGER_LOG_LEVEL      zap level: debug, info, warn, error

SEE ALSO:
  - cmd/server/main.go: The only consumer
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	Driver      string `yaml:"driver"` // "sqlite" or "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./data/ledger.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file is absent), applies environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LEDGER_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("LEDGER_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("LEDGER_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("LEDGER_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("LEDGER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must not be empty for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn must not be empty for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}
