// Package config loads the engine configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config represents the full application configuration surface.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Rates       RatesConfig
	Jobs        JobsConfig
	Concurrency ConcurrencyConfig
	LogLevel    string
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// DatabaseConfig selects the store. Driver is memory, sqlite or postgres.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// RedisConfig is optional; an empty Addr disables the Redis-backed locker,
// rate cache and alert feed.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// RatesConfig configures the karat rate provider. SourceURL wins over Static.
type RatesConfig struct {
	SourceURL string
	CacheTTL  time.Duration
	Static    string // "18k=80,21k=100,24k=115"
}

// JobsConfig holds scheduler settings. An empty cron spec disables the job.
type JobsConfig struct {
	AlertThreshold    decimal.Decimal
	AlertCron         string
	ConsolidationCron string
}

type ConcurrencyConfig struct {
	LockTimeout      time.Duration
	MaxRetryAttempts int
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// A missing .env is fine when the environment is set directly.
		_ = godotenv.Load()
	}

	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getenvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	threshold, err := decimal.NewFromString(getenvWithDefault("ALERT_THRESHOLD_PERCENT", "50"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ALERT_THRESHOLD_PERCENT: %w", err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getenvWithDefault("APP_PORT", "8080"),
			AllowedOrigins: splitList(getenvWithDefault("ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getenvWithDefault("DATABASE_DRIVER", "sqlite")),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intVar("REDIS_DB", 0),
		},
		Rates: RatesConfig{
			SourceURL: os.Getenv("RATE_SOURCE_URL"),
			CacheTTL:  time.Duration(intVar("RATE_CACHE_TTL_SECONDS", 60)) * time.Second,
			Static:    os.Getenv("STATIC_RATES"),
		},
		Jobs: JobsConfig{
			AlertThreshold:    threshold,
			AlertCron:         getenvWithDefault("ALERT_CRON", "*/15 * * * *"),
			ConsolidationCron: getenvWithDefault("CONSOLIDATION_CRON", "0 2 * * *"),
		},
		Concurrency: ConcurrencyConfig{
			LockTimeout:      time.Duration(intVar("LOCK_TIMEOUT_MS", 5000)) * time.Millisecond,
			MaxRetryAttempts: intVar("MAX_RETRY_ATTEMPTS", 3),
		},
		LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.URL == "" {
		cfg.Database.URL = "./data/gold.db"
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL must be provided for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER must be memory, sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Jobs.AlertThreshold.IsNegative() || c.Jobs.AlertThreshold.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("ALERT_THRESHOLD_PERCENT must be between 0 and 100")
	}
	for key, spec := range map[string]string{"ALERT_CRON": c.Jobs.AlertCron, "CONSOLIDATION_CRON": c.Jobs.ConsolidationCron} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s is invalid: %w", key, err)
		}
	}

	if c.Concurrency.LockTimeout <= 0 {
		return errors.New("LOCK_TIMEOUT_MS must be positive")
	}
	if c.Concurrency.MaxRetryAttempts < 1 {
		return errors.New("MAX_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Rates.CacheTTL < 0 {
		return errors.New("RATE_CACHE_TTL_SECONDS must not be negative")
	}
	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
