// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/telemetrics/telemetrics/internal/model"
)

// firstCoveredYear is the first season the upstream provider publishes.
const firstCoveredYear = 2023

// Config holds all application configuration.
type Config struct {
	// Database settings.
	DatabaseURL string // Postgres URL for queries and upserts.
	NotifyURL   string // Direct Postgres URL for LISTEN/NOTIFY. Empty disables document events.

	// Pipeline scope.
	StartYear    int
	EndYear      int
	SessionTypes []model.SessionType
	DataDir      string // JSON backups. Empty disables them.

	// Upstream provider settings.
	OpenF1BaseURL     string
	CachePath         string        // SQLite response cache. Empty disables caching.
	CacheFreshWindow  time.Duration // Sessions that ended within this window are still being published.
	CacheRecentMaxAge time.Duration // Max age of cached responses for such sessions.
	RateLimitRPS      float64
	RateLimitBurst    int
	HTTPTimeout       time.Duration
	LoadRetries       int
	LoadRetryDelay    time.Duration

	// Read API settings.
	APIPort           int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	APIRateLimitRPS   float64
	APIRateLimitBurst int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg Config
	var err error

	cfg.DatabaseURL = envStr("DATABASE_URL", "")
	cfg.NotifyURL = envStr("NOTIFY_URL", "")

	cfg.StartYear, err = envInt("TELEMETRICS_START_YEAR", firstCoveredYear)
	collect(err)
	cfg.EndYear, err = envInt("TELEMETRICS_END_YEAR", time.Now().Year())
	collect(err)
	cfg.SessionTypes, err = envSessionTypes("TELEMETRICS_SESSION_TYPES", model.AllSessionTypes)
	collect(err)
	cfg.DataDir = envStr("TELEMETRICS_DATA_DIR", "data")

	cfg.OpenF1BaseURL = envStr("OPENF1_BASE_URL", "https://api.openf1.org/v1")
	cfg.CachePath = envStr("TELEMETRICS_CACHE_PATH", "cache/openf1.db")
	cfg.CacheFreshWindow, err = envDuration("TELEMETRICS_CACHE_FRESH_WINDOW", 48*time.Hour)
	collect(err)
	cfg.CacheRecentMaxAge, err = envDuration("TELEMETRICS_CACHE_RECENT_MAX_AGE", 15*time.Minute)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("OPENF1_RATE_LIMIT_RPS", 3)
	collect(err)
	cfg.RateLimitBurst, err = envInt("OPENF1_RATE_LIMIT_BURST", 3)
	collect(err)
	cfg.HTTPTimeout, err = envDuration("TELEMETRICS_HTTP_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.LoadRetries, err = envInt("TELEMETRICS_LOAD_RETRIES", 3)
	collect(err)
	cfg.LoadRetryDelay, err = envDuration("TELEMETRICS_LOAD_RETRY_DELAY", 5*time.Second)
	collect(err)

	cfg.APIPort, err = envInt("TELEMETRICS_API_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("TELEMETRICS_API_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("TELEMETRICS_API_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.APIRateLimitRPS, err = envFloat("TELEMETRICS_API_RATE_LIMIT_RPS", 20)
	collect(err)
	cfg.APIRateLimitBurst, err = envInt("TELEMETRICS_API_RATE_LIMIT_BURST", 40)
	collect(err)

	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "telemetrics")
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	cfg.LogLevel = envStr("TELEMETRICS_LOG_LEVEL", "info")

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	} else if err := validatePostgresURL(c.DatabaseURL); err != nil {
		errs = append(errs, fmt.Errorf("DATABASE_URL: %w", err))
	}
	if c.NotifyURL != "" {
		if err := validatePostgresURL(c.NotifyURL); err != nil {
			errs = append(errs, fmt.Errorf("NOTIFY_URL: %w", err))
		}
	}
	if c.StartYear > c.EndYear {
		errs = append(errs, fmt.Errorf("TELEMETRICS_START_YEAR (%d) is after TELEMETRICS_END_YEAR (%d)", c.StartYear, c.EndYear))
	}
	if c.CacheFreshWindow <= 0 {
		errs = append(errs, errors.New("TELEMETRICS_CACHE_FRESH_WINDOW must be positive"))
	}
	if c.CacheRecentMaxAge <= 0 {
		errs = append(errs, errors.New("TELEMETRICS_CACHE_RECENT_MAX_AGE must be positive"))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("OPENF1_RATE_LIMIT_RPS must be positive"))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("OPENF1_RATE_LIMIT_BURST must be at least 1"))
	}
	if c.LoadRetries < 1 {
		errs = append(errs, errors.New("TELEMETRICS_LOAD_RETRIES must be at least 1"))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("TELEMETRICS_API_PORT %d is out of range", c.APIPort))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Years returns every season in [StartYear, EndYear].
func (c Config) Years() []int {
	var years []int
	for y := c.StartYear; y <= c.EndYear; y++ {
		years = append(years, y)
	}
	return years
}

// SlogLevel returns the configured log level. Validate has already rejected
// unknown names.
func (c Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("TELEMETRICS_LOG_LEVEL=%q is not a valid level", s)
	}
	return lvl, nil
}

func validatePostgresURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envSessionTypes parses a comma-separated list of session names or
// aliases ("Race,Qualifying" or "R,Q").
func envSessionTypes(key string, defaultVal []model.SessionType) ([]model.SessionType, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	var out []model.SessionType
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := model.ParseSessionType(part)
		if err != nil {
			return nil, fmt.Errorf("%s=%q: %w", key, v, err)
		}
		out = append(out, st)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s=%q names no session types", key, v)
	}
	return out, nil
}
