package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration value")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Google       GoogleConfig
	Sync         SyncConfig
	Slots        SlotsConfig
	RateLimiting RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	Environment Environment
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// GoogleConfig holds Google Calendar credentials and calendar identity.
// CalendarID pins an explicit calendar; when empty the calendar is
// discovered by CalendarName (and created if missing).
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
	CalendarName string
	TimeZone     string
}

// Configured reports whether a full credential set is present.
func (g GoogleConfig) Configured() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

// SyncConfig holds reconciliation behavior configuration.
type SyncConfig struct {
	EventDurationMin int
	VerifyInterval   time.Duration
	DailyResync      bool
}

// SlotsConfig holds slot-suggestion defaults.
type SlotsConfig struct {
	WorkdayStart     string
	WorkdayEnd       string
	DurationMin      int
	TopN             int
	WindowDays       int
	BusinessDaysOnly bool
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}

	// Server configuration
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/cardcal.db")

	// Google configuration
	cfg.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.Google.RefreshToken = os.Getenv("GOOGLE_REFRESH_TOKEN")
	cfg.Google.CalendarID = os.Getenv("GOOGLE_CALENDAR_ID")
	cfg.Google.CalendarName = getEnv("GOOGLE_CALENDAR_NAME", "Cards")
	cfg.Google.TimeZone = getEnv("TIMEZONE", "Europe/Vienna")

	if _, err := time.LoadLocation(cfg.Google.TimeZone); err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE: %w", ErrInvalidConfig, err)
	}

	// Partial credentials are a configuration mistake, not an
	// unconfigured deployment.
	if anyGoogleCredentialSet(cfg.Google) && !cfg.Google.Configured() {
		missing := missingGoogleCredentials(cfg.Google)
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	// Sync configuration
	durationMin, err := getEnvInt("EVENT_DURATION_MIN", 90)
	if err != nil {
		return nil, fmt.Errorf("%w: EVENT_DURATION_MIN: %w", ErrInvalidConfig, err)
	}
	if durationMin <= 0 {
		return nil, fmt.Errorf("%w: EVENT_DURATION_MIN must be positive", ErrInvalidConfig)
	}
	cfg.Sync.EventDurationMin = durationMin

	verifyHours, err := getEnvInt("VERIFY_INTERVAL_HOURS", 6)
	if err != nil {
		return nil, fmt.Errorf("%w: VERIFY_INTERVAL_HOURS: %w", ErrInvalidConfig, err)
	}
	if verifyHours <= 0 {
		return nil, fmt.Errorf("%w: VERIFY_INTERVAL_HOURS must be positive", ErrInvalidConfig)
	}
	cfg.Sync.VerifyInterval = time.Duration(verifyHours) * time.Hour

	cfg.Sync.DailyResync, err = getEnvBool("DAILY_RESYNC", true)
	if err != nil {
		return nil, fmt.Errorf("%w: DAILY_RESYNC: %w", ErrInvalidConfig, err)
	}

	// Slot suggestion configuration
	cfg.Slots.WorkdayStart = getEnv("WORKDAY_START", "08:00")
	cfg.Slots.WorkdayEnd = getEnv("WORKDAY_END", "18:00")
	for _, label := range []string{cfg.Slots.WorkdayStart, cfg.Slots.WorkdayEnd} {
		if _, err := time.Parse("15:04", label); err != nil {
			return nil, fmt.Errorf("%w: workday window %q: %w", ErrInvalidConfig, label, err)
		}
	}
	cfg.Slots.DurationMin = durationMin
	cfg.Slots.TopN, err = getEnvInt("SLOT_TOP_N", 5)
	if err != nil {
		return nil, fmt.Errorf("%w: SLOT_TOP_N: %w", ErrInvalidConfig, err)
	}
	cfg.Slots.WindowDays, err = getEnvInt("SLOT_WINDOW_DAYS", 14)
	if err != nil {
		return nil, fmt.Errorf("%w: SLOT_WINDOW_DAYS: %w", ErrInvalidConfig, err)
	}
	cfg.Slots.BusinessDaysOnly, err = getEnvBool("SLOT_BUSINESS_DAYS_ONLY", true)
	if err != nil {
		return nil, fmt.Errorf("%w: SLOT_BUSINESS_DAYS_ONLY: %w", ErrInvalidConfig, err)
	}

	// Rate limiting configuration
	rps, err := getEnvFloat("RATE_LIMIT_RPS", 10.0)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.RPS = rps

	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.Burst = burst

	return cfg, nil
}

func anyGoogleCredentialSet(g GoogleConfig) bool {
	return g.ClientID != "" || g.ClientSecret != "" || g.RefreshToken != ""
}

func missingGoogleCredentials(g GoogleConfig) []string {
	var missing []string
	if g.ClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if g.ClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if g.RefreshToken == "" {
		missing = append(missing, "GOOGLE_REFRESH_TOKEN")
	}
	return missing
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}

// getEnvBool returns the boolean value of an environment variable or a default.
func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %w", err)
	}
	return parsed, nil
}
