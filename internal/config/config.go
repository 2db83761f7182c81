// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/signals"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Audit store. At most one of these is set; none means in-memory.
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Decision tables
	PolicyFile    string // YAML ladder override
	PlaybookFile  string // YAML playbook override
	LocalTimezone string // time-of-day predicates
	IPBlocklist   []string
	IPWatchlist   []string

	// Collaborators
	StoreTimeout      time.Duration
	ActionTimeout     time.Duration
	ActionConcurrency int
	WebhookURL        string
	WebhookSecret     string
	PubSubProject     string
	PubSubTopic       string
	OTLPEndpoint      string

	// Security
	RateLimitRPS int
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultTimezone          = "UTC"
	DefaultStoreTimeout      = 2 * time.Second
	DefaultActionTimeout     = 5 * time.Second
	DefaultActionConcurrency = 8
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RedisURL:          os.Getenv("REDIS_URL"),
		PolicyFile:        os.Getenv("POLICY_FILE"),
		PlaybookFile:      os.Getenv("PLAYBOOK_FILE"),
		LocalTimezone:     getEnv("LOCAL_TIMEZONE", DefaultTimezone),
		IPBlocklist:       getEnvList("IP_BLOCKLIST"),
		IPWatchlist:       getEnvList("IP_WATCHLIST"),
		StoreTimeout:      getEnvDuration("STORE_TIMEOUT", DefaultStoreTimeout),
		ActionTimeout:     getEnvDuration("ACTION_TIMEOUT", DefaultActionTimeout),
		ActionConcurrency: getEnvInt("ACTION_CONCURRENCY", DefaultActionConcurrency),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		PubSubProject:     os.Getenv("PUBSUB_PROJECT"),
		PubSubTopic:       os.Getenv("PUBSUB_TOPIC"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:      getEnvInt("RATE_LIMIT_RPS", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	var errs []error

	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.ActionTimeout <= 0 {
		errs = append(errs, errors.New("ACTION_TIMEOUT must be positive"))
	}
	if c.ActionConcurrency <= 0 {
		errs = append(errs, errors.New("ACTION_CONCURRENCY must be positive"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	stores := 0
	for _, s := range []string{c.DatabaseURL, c.SQLitePath, c.RedisURL} {
		if s != "" {
			stores++
		}
	}
	if stores > 1 {
		errs = append(errs, errors.New("set at most one of DATABASE_URL, SQLITE_PATH and REDIS_URL"))
	}

	if c.WebhookSecret != "" && c.WebhookURL == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET requires WEBHOOK_URL"))
	}
	if c.PubSubTopic != "" && c.PubSubProject == "" {
		errs = append(errs, errors.New("PUBSUB_TOPIC requires PUBSUB_PROJECT"))
	}

	if _, err := time.LoadLocation(c.LocalTimezone); err != nil {
		errs = append(errs, fmt.Errorf("LOCAL_TIMEZONE: %w", err))
	}
	if err := signals.ParsePrefixList(c.IPBlocklist); err != nil {
		errs = append(errs, fmt.Errorf("IP_BLOCKLIST: %w", err))
	}
	if err := signals.ParsePrefixList(c.IPWatchlist); err != nil {
		errs = append(errs, fmt.Errorf("IP_WATCHLIST: %w", err))
	}

	return errors.Join(errs...)
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.LocalTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or whole seconds ("3").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if s, err := strconv.Atoi(value); err == nil {
		return time.Duration(s) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
