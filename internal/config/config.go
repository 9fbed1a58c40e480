// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Elder profile
	Timezone string // IANA zone name for the protected elder's local time

	// Auth tokens. Device agents may only ingest behavior events;
	// care-team tokens can read assessments and trigger reviews.
	DeviceToken   string
	CareTeamToken string

	// Notification delivery
	WebhookSecret      string // HMAC secret for signing outbound notifications
	AdvocateWebhookURL string // elder-rights advocate endpoint (optional, logs if not set)
	UserWebhookURL     string // elder support-contact endpoint (optional, logs if not set)

	// Escalation and background work
	EscalationDelay   time.Duration // delay before MEDIUM alerts reach an advocate
	MonitorInterval   time.Duration // periodic re-assessment sweep interval (0 disables)
	SchedulerInterval time.Duration // how often due notifications are checked

	// HTTP hardening
	RateLimitRPS   int
	AllowedOrigins string // comma-separated CORS origins, "*" in development

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing off if not set)

	loc *time.Location
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultEscalationDelay   = 24 * time.Hour
	DefaultMonitorInterval   = 6 * time.Hour
	DefaultSchedulerInterval = time.Minute
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		Timezone:           os.Getenv("TIMEZONE"),     // Optional, local zone if not set
		DeviceToken:        os.Getenv("DEVICE_TOKEN"),
		CareTeamToken:      os.Getenv("CARE_TEAM_TOKEN"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		AdvocateWebhookURL: os.Getenv("ADVOCATE_WEBHOOK_URL"),
		UserWebhookURL:     os.Getenv("USER_WEBHOOK_URL"),
		EscalationDelay:    getEnvDuration("ESCALATION_DELAY", DefaultEscalationDelay),
		MonitorInterval:    getEnvDuration("MONITOR_INTERVAL", DefaultMonitorInterval),
		SchedulerInterval:  getEnvDuration("SCHEDULER_INTERVAL", DefaultSchedulerInterval),
		RateLimitRPS:       getEnvInt("RATE_LIMIT_RPS", DefaultRateLimit),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", ""),
		OTLPEndpoint:       os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	loc := time.Local
	if c.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", c.Timezone, err)
		}
	}
	c.loc = loc

	if c.EscalationDelay < 0 {
		return fmt.Errorf("ESCALATION_DELAY must not be negative")
	}

	if c.IsProduction() {
		if c.CareTeamToken == "" {
			return fmt.Errorf("CARE_TEAM_TOKEN is required in production")
		}
		if c.DeviceToken == "" {
			return fmt.Errorf("DEVICE_TOKEN is required in production")
		}
		if (c.AdvocateWebhookURL != "" || c.UserWebhookURL != "") && c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required when webhook URLs are configured")
		}
		if len(c.WebhookSecret) > 0 && len(c.WebhookSecret) < 16 {
			return fmt.Errorf("WEBHOOK_SECRET must be at least 16 characters")
		}
	}

	return nil
}

// Location returns the elder-local timezone resolved during Validate.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
