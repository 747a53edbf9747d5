// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/api and cmd/salahctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/salah/internal/countdown"
	"github.com/albapepper/salah/internal/prayer"
)

// --------------------------------------------------------------------------
// Config is populated from environment variables.
// --------------------------------------------------------------------------

type Config struct {
	// Database (optional; empty keeps completions in memory)
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Redis alert registry (optional)
	RedisAddress  string
	RedisUsername string
	RedisPassword string

	// MQTT alert delivery (optional)
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string

	// Schedule provider
	AladhanBaseURL           string
	AladhanMethod            int
	AladhanRequestsPerMinute int

	// Default location
	Location prayer.Location

	// Per-instant minute adjustments
	Adjustments prayer.Adjustments

	// User preferences
	Settings prayer.Settings

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Cache
	CacheEnabled bool

	// Alert dispatch cadence
	DispatchInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	loc := prayer.Location{
		Latitude:  envFloat("LATITUDE", 1.0456),
		Longitude: envFloat("LONGITUDE", 104.0305),
		City:      envOr("CITY_NAME", "Batam"),
		Timezone:  envOr("TIMEZONE", "Asia/Jakarta"),
	}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("LATITUDE/LONGITUDE: %w", err)
	}
	if _, err := time.LoadLocation(loc.Timezone); err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", loc.Timezone, err)
	}

	kemenag := prayer.KemenagAdjustments()
	adj := make(prayer.Adjustments, len(prayer.Names))
	for _, n := range prayer.Names {
		adj[n] = envInt("ADJUST_"+strings.ToUpper(n.Key()), kemenag[n])
	}

	settings := prayer.DefaultSettings()
	settings.ReminderEnabled = envBool("REMINDER_ENABLED", settings.ReminderEnabled)
	settings.ReminderLead = envMinutes("REMINDER_LEAD_MINUTES", settings.ReminderLead)
	settings.ApproachingThreshold = envMinutes("APPROACHING_MINUTES", settings.ApproachingThreshold)

	policy, err := countdown.ParsePolicy(envOr("COUNTDOWN_FORMAT", string(countdown.Digital)))
	if err != nil {
		return nil, fmt.Errorf("COUNTDOWN_FORMAT: %w", err)
	}
	settings.CountdownFormat = string(policy)

	if v := os.Getenv("PRAYER_MODES"); v != "" {
		modes, err := prayer.ParseModes(v)
		if err != nil {
			return nil, fmt.Errorf("PRAYER_MODES: %w", err)
		}
		for k, m := range modes {
			settings.Modes[k] = m
		}
	}

	return &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 1),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 5),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		RedisAddress:  envOr("REDIS_ADDRESS", ""),
		RedisUsername: envOr("REDIS_USERNAME", ""),
		RedisPassword: envOr("REDIS_PASSWORD", ""),

		MQTTBrokerURL:   envOr("MQTT_BROKER_URL", ""),
		MQTTClientID:    envOr("MQTT_CLIENT_ID", "salah"),
		MQTTTopicPrefix: envOr("MQTT_TOPIC_PREFIX", "salah"),

		AladhanBaseURL:           strings.TrimRight(envOr("ALADHAN_BASE_URL", "https://api.aladhan.com/v1"), "/"),
		AladhanMethod:            envInt("ALADHAN_METHOD", 11),
		AladhanRequestsPerMinute: envInt("ALADHAN_REQUESTS_PER_MINUTE", 60),

		Location:    loc,
		Adjustments: adj,
		Settings:    settings,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		CacheEnabled: envBool("CACHE_ENABLED", true),

		DispatchInterval: time.Duration(envInt("DISPATCH_INTERVAL_SECONDS", 1)) * time.Second,
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HasDatabase reports whether a Postgres completion store is configured.
func (c *Config) HasDatabase() bool { return c.DatabaseURL != "" }

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envMinutes(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
