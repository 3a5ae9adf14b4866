package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RevocationBackendMemory = "memory"
	RevocationBackendRedis  = "redis"

	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	minJWTSecretLength = 32
)

// Config holds application configuration
type Config struct {
	DatabaseURL        string
	ServerPort         string
	BaseURL            string
	FrontendURL        string
	DefaultPortalID    string
	JWTSecret          string
	JWTExpiration      time.Duration
	StateTTL           time.Duration
	CookieSecure       bool
	EnableHSTS         bool
	RedisURL           string
	RevocationBackend  string
	OIDCHTTPTimeout    time.Duration
	OIDCMaxAttempts    int
	OIDCRetryBackoff   time.Duration
	PortalSettingsFile string
	SettingsCacheTTL   time.Duration
	RateLimit          string
	RabbitMQURL        string
	RabbitMQPrefetch   int
	WorkerDebugMode    bool
	WorkerMetricsAddr  string
	ServerDebugMode    bool
	LogFormat          string
	OTELEnabled        bool
	OTELEndpoint       string
	OTELInsecure       bool
	OTELSampleRatio    float64
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first; variables already set take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
		DefaultPortalID:    getEnv("DEFAULT_PORTAL_ID", "default"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTExpiration:      getEnvDuration("JWT_EXPIRATION", 2*time.Hour),
		StateTTL:           getEnvDuration("STATE_TTL", 10*time.Minute),
		CookieSecure:       getEnvBool("COOKIE_SECURE", false),
		EnableHSTS:         getEnvBool("ENABLE_HSTS", false),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RevocationBackend:  strings.ToLower(getEnv("REVOCATION_BACKEND", RevocationBackendMemory)),
		OIDCHTTPTimeout:    getEnvDuration("OIDC_HTTP_TIMEOUT", 10*time.Second),
		OIDCMaxAttempts:    getEnvInt("OIDC_MAX_ATTEMPTS", 3),
		OIDCRetryBackoff:   getEnvDuration("OIDC_RETRY_BACKOFF", 2*time.Second),
		PortalSettingsFile: getEnv("PORTAL_SETTINGS_FILE", ""),
		SettingsCacheTTL:   getEnvDuration("SETTINGS_CACHE_TTL", 30*time.Second),
		RateLimit:          getEnv("RATE_LIMIT", "10-S"),
		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch:   getEnvInt("RABBITMQ_PREFETCH", 1),
		WorkerDebugMode:    getEnvBool("WORKER_DEBUG_MODE", false),
		WorkerMetricsAddr:  getEnv("WORKER_METRICS_ADDR", ":9091"),
		ServerDebugMode:    getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:        getEnvBool("OTEL_ENABLED", false),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", LogFormatJSON)),
		OTELEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTELSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	switch cfg.RevocationBackend {
	case RevocationBackendMemory, RevocationBackendRedis:
	default:
		return nil, fmt.Errorf("REVOCATION_BACKEND must be %q or %q, got %q", RevocationBackendMemory, RevocationBackendRedis, cfg.RevocationBackend)
	}

	switch cfg.LogFormat {
	case LogFormatJSON, LogFormatConsole:
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be %q or %q, got %q", LogFormatJSON, LogFormatConsole, cfg.LogFormat)
	}

	if cfg.OTELSampleRatio < 0 || cfg.OTELSampleRatio > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1, got %v", cfg.OTELSampleRatio)
	}

	if cfg.OIDCMaxAttempts < 1 {
		cfg.OIDCMaxAttempts = 1
	}

	return cfg, nil
}

// UsesRedis reports whether shared state is kept in Redis.
func (c *Config) UsesRedis() bool {
	return c.RevocationBackend == RevocationBackendRedis
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "2h") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
