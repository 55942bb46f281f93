package config

import (
	"os"
	"strconv"
	"time"

	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/dispatch"
)

// Config holds all configuration for the service.
type Config struct {
	Port     string
	Env      string
	DBURL    string
	RedisURL string

	Dispatch dispatch.Options
}

// Load reads configuration from environment variables, falling back to the
// documented defaults. Missing DB_URL is a startup error handled by main;
// missing REDIS_URL selects the in-memory queue backend.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		DBURL:    os.Getenv("DB_URL"),
		RedisURL: os.Getenv("REDIS_URL"),
		Dispatch: dispatch.Options{
			BatchSize:      getEnvInt("DISPATCH_BATCH_SIZE", 100),
			MaxConcurrency: getEnvInt("DISPATCH_MAX_CONCURRENCY", 10),
			MaxAttempts:    getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
			AttemptDelay:   getEnvDuration("DISPATCH_ATTEMPT_DELAY", 5*time.Second),
			CycleDelay:     getEnvDuration("DISPATCH_CYCLE_DELAY", 100*time.Millisecond),
			ErrorCooldown:  getEnvDuration("DISPATCH_ERROR_COOLDOWN", 10*time.Second),
			BackoffBase:    getEnvDuration("DISPATCH_BACKOFF_BASE", 5*time.Second),
		},
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil && i > 0 {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
