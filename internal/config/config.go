// Package config defines the top-level configuration for the strategy engine
// and provides validation helpers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by environment variables.
type Config struct {
	Redis       RedisConfig       `toml:"redis"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Credentials CredentialsConfig `toml:"credentials"`
	Strategies  StrategiesConfig  `toml:"strategies"`
	Notify      NotifyConfig      `toml:"notify"`
	NodeEnv     string            `toml:"node_env"`
	LogLevel    string            `toml:"log_level"`
}

// RedisConfig holds Redis connection parameters for the cache layer (candle
// membership sets, settings hashes, distributed locks, signal pub/sub).
type RedisConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Addr returns the host:port form expected by the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig holds connection parameters for the durable store
// (strategies, subscriptions, executions, trades, audit log, credentials).
type DatabaseConfig struct {
	URL           string `toml:"url"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// SchedulerConfig holds parameters for the candle-boundary scheduler worker.
type SchedulerConfig struct {
	WorkerID        string   `toml:"worker_id"`
	Resolutions     []string `toml:"resolutions"`
	ReconcileCron   string   `toml:"reconcile_cron"`
	ExecutionFanout int      `toml:"execution_fanout"`
}

// CredentialsConfig holds parameters for the broker-credential encryption box.
type CredentialsConfig struct {
	MasterKey string `toml:"master_key"`
}

// StrategiesConfig holds parameters for locating on-disk strategy code.
type StrategiesConfig struct {
	BaseDir string `toml:"base_dir"`
}

// NotifyConfig holds notification channel credentials for operational alerts.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Host:       "localhost",
			Port:       6379,
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "strategy_engine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Scheduler: SchedulerConfig{
			WorkerID:        defaultWorkerID(),
			Resolutions:     []string{"1", "5", "15", "60"},
			ReconcileCron:   "*/5 * * * *",
			ExecutionFanout: 32,
		},
		Strategies: StrategiesConfig{
			BaseDir: "strategies",
		},
		Notify: NotifyConfig{
			Events: []string{"execution.error", "subscription.cancelled"},
		},
		NodeEnv:  "development",
		LogLevel: "info",
	}
}

// defaultWorkerID returns the scheduler worker ID default named by the
// environment: "scheduler-{pid}".
func defaultWorkerID() string {
	return fmt.Sprintf("scheduler-%d", os.Getpid())
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Redis
	if c.Redis.Host == "" {
		errs = append(errs, "redis: host must not be empty")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("redis: port must be 1-65535, got %d", c.Redis.Port))
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Database
	if strings.TrimSpace(c.Database.URL) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.url)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Scheduler
	if strings.TrimSpace(c.Scheduler.WorkerID) == "" {
		errs = append(errs, "scheduler: worker_id must not be empty")
	}
	if len(c.Scheduler.Resolutions) == 0 {
		errs = append(errs, "scheduler: resolutions must not be empty")
	}
	if c.Scheduler.ExecutionFanout < 1 {
		errs = append(errs, "scheduler: execution_fanout must be >= 1")
	}

	// Credentials
	if strings.TrimSpace(c.Credentials.MasterKey) == "" {
		errs = append(errs, "credentials: master_key must not be empty (set via BROKER_CREDENTIAL_KEY)")
	}

	// Strategies
	if strings.TrimSpace(c.Strategies.BaseDir) == "" {
		errs = append(errs, "strategies: base_dir must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
