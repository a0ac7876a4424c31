package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Run modes accepted by serve.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Storage
	MongoDBURL  string
	MongoDBName string
	DatabaseURL string
	RedisURL    string

	// JWT
	JWTSecret            string
	JWTRefreshSecret     string
	JWTAccessExpiration  time.Duration
	JWTRefreshExpiration time.Duration

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Summaries
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModel     string
	LLMMaxTokens int

	FrontendURL   string
	EncryptionKey string

	// Jobs
	SyncInterval    time.Duration
	WakeInterval    time.Duration
	WakeMaxAttempts int
	WakeBackoffBase time.Duration
	WakeBackoffMax  time.Duration

	// SchedulerEnabled=false keeps mode=all from starting the jobs.
	SchedulerEnabled bool

	RateLimitPerMinute int
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "3000"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "triage"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTRefreshSecret:     getEnv("JWT_REFRESH_SECRET", ""),
		JWTAccessExpiration:  getEnvDuration("JWT_ACCESS_EXPIRATION", 15*time.Minute),
		JWTRefreshExpiration: getEnvDuration("JWT_REFRESH_EXPIRATION", 7*24*time.Hour),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		LLMModel:     getEnv("LLM_MODEL", "gemini-2.5-flash"),
		LLMMaxTokens: getEnvInt("LLM_MAX_TOKENS", 512),

		FrontendURL:   getEnv("FRONTEND_URL", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 10*time.Minute),
		WakeInterval:    getEnvDuration("WAKE_INTERVAL", time.Minute),
		WakeMaxAttempts: getEnvInt("WAKE_MAX_ATTEMPTS", 8),
		WakeBackoffBase: getEnvDuration("WAKE_BACKOFF_BASE", time.Minute),
		WakeBackoffMax:  getEnvDuration("WAKE_BACKOFF_MAX", time.Hour),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}, nil
}

// Validate checks the keys the given run mode cannot start without.
func (c *Config) Validate(mode string) error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch mode {
	case ModeAPI, ModeWorker, ModeAll:
	default:
		return fmt.Errorf("unknown mode %q (want api, worker or all)", mode)
	}

	require("MONGODB_URL", c.MongoDBURL)
	require("GOOGLE_CLIENT_ID", c.GoogleClientID)
	require("GOOGLE_CLIENT_SECRET", c.GoogleClientSecret)
	if mode != ModeWorker {
		require("JWT_SECRET", c.JWTSecret)
		require("JWT_REFRESH_SECRET", c.JWTRefreshSecret)
		require("GOOGLE_REDIRECT_URL", c.GoogleRedirectURL)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.JWTSecret != "" && c.JWTSecret == c.JWTRefreshSecret {
		return errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.WakeMaxAttempts < 1 {
		return errors.New("WAKE_MAX_ATTEMPTS must be at least 1")
	}
	if c.SyncInterval <= 0 || c.WakeInterval <= 0 {
		return errors.New("SYNC_INTERVAL and WAKE_INTERVAL must be positive")
	}
	if c.IsProduction() && c.EncryptionKey == "" {
		return errors.New("ENCRYPTION_KEY is required in production")
	}
	return nil
}

// AllowedOrigins is the CORS allow-list derived from FRONTEND_URL.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") and a day suffix ("7d").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
