package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Log      LogConfig
	Redis    RedisConfig
	Billing  BillingConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name     string
	Env      string
	Currency string
}

// DatabaseConfig points at the SQLite file; ":memory:" is allowed.
type DatabaseConfig struct {
	Path string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// RedisConfig enables the distributed invoice-number lock. When disabled the
// process-local lock is used.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// BillingConfig drives invoice defaults and the billing worker.
type BillingConfig struct {
	DueDays        int
	IncludeBalance bool
	// Schedule is a standard 5-field cron expression or a descriptor like "@daily".
	Schedule        string
	Workers         int
	SequenceRetries int
}

// Load reads config.toml from the working directory, if present, and
// RENT_-prefixed environment overrides.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// working directory.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("RENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true cannot be told apart from unset below.
	v.SetDefault("billing.include_balance", true)

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("app.name"),
			Env:      v.GetString("app.env"),
			Currency: v.GetString("app.currency"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		Billing: BillingConfig{
			DueDays:         v.GetInt("billing.due_days"),
			IncludeBalance:  v.GetBool("billing.include_balance"),
			Schedule:        v.GetString("billing.schedule"),
			Workers:         v.GetInt("billing.workers"),
			SequenceRetries: v.GetInt("billing.sequence_retries"),
		},
	}

	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "rent-billing"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Currency == "" {
		cfg.App.Currency = "KES"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/billing.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.Billing.DueDays == 0 {
		cfg.Billing.DueDays = 7
	}
	if cfg.Billing.Schedule == "" {
		cfg.Billing.Schedule = "15 0 * * *"
	}
	if cfg.Billing.Workers == 0 {
		cfg.Billing.Workers = 4
	}
	if cfg.Billing.SequenceRetries == 0 {
		cfg.Billing.SequenceRetries = 3
	}
}

func (c *Config) validate() error {
	if len(c.App.Currency) != 3 || strings.ToUpper(c.App.Currency) != c.App.Currency {
		return fmt.Errorf("app.currency must be a 3-letter upper-case code, got %q", c.App.Currency)
	}
	if c.Billing.DueDays < 0 {
		return fmt.Errorf("billing.due_days cannot be negative")
	}
	if c.Billing.Workers < 0 {
		return fmt.Errorf("billing.workers cannot be negative")
	}
	if c.Billing.SequenceRetries < 0 {
		return fmt.Errorf("billing.sequence_retries cannot be negative")
	}
	if _, err := cron.ParseStandard(c.Billing.Schedule); err != nil {
		return fmt.Errorf("billing.schedule %q: %w", c.Billing.Schedule, err)
	}
	if c.Redis.LockTTL < time.Second {
		return fmt.Errorf("redis.lock_ttl must be at least 1s, got %s", c.Redis.LockTTL)
	}
	return nil
}

// IsProduction reports whether app.env is "production".
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
