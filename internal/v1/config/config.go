package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Redis (optional event mirror + rate limit store)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Room health timings
	HostTimeout         time.Duration
	ReconnectionWindow  time.Duration
	HealthCheckInterval time.Duration
	CleanupInterval     time.Duration
	ClientIdleTimeout   time.Duration

	// Per-connection outbound buffer (messages); overflow drops the frame.
	MaxOutboundBacklog int

	// Rate Limits (ulule/limiter formatted, e.g. "100-M")
	RateLimitAPIGlobal string
	RateLimitAPIRooms  string
	RateLimitWsIP      string
}

// Timing defaults, all overridable via *_MS environment variables.
const (
	DefaultHostTimeoutMs         = 600_000
	DefaultReconnectionWindowMs  = 300_000
	DefaultHealthCheckIntervalMs = 10_000
	DefaultCleanupIntervalMs     = 30_000
	DefaultClientIdleTimeoutMs   = 600_000
	DefaultMaxOutboundBacklog    = 256
)

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Room health timings (milliseconds)
	cfg.HostTimeout = durationMsEnv("HOST_TIMEOUT_MS", DefaultHostTimeoutMs, &errs)
	cfg.ReconnectionWindow = durationMsEnv("RECONNECTION_WINDOW_MS", DefaultReconnectionWindowMs, &errs)
	cfg.HealthCheckInterval = durationMsEnv("HEALTH_CHECK_INTERVAL_MS", DefaultHealthCheckIntervalMs, &errs)
	cfg.CleanupInterval = durationMsEnv("CLEANUP_INTERVAL_MS", DefaultCleanupIntervalMs, &errs)
	cfg.ClientIdleTimeout = durationMsEnv("CLIENT_IDLE_TIMEOUT_MS", DefaultClientIdleTimeoutMs, &errs)

	cfg.MaxOutboundBacklog = intEnv("MAX_OUTBOUND_BACKLOG", DefaultMaxOutboundBacklog, &errs)

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// durationMsEnv reads an integer-milliseconds environment variable.
func durationMsEnv(key string, defaultMs int64, errs *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return time.Duration(defaultMs) * time.Millisecond
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer of milliseconds (got '%s')", key, raw))
		return time.Duration(defaultMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

func intEnv(key string, defaultValue int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return defaultValue
	}
	return n
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"host_timeout", cfg.HostTimeout,
		"reconnection_window", cfg.ReconnectionWindow,
		"health_check_interval", cfg.HealthCheckInterval,
		"cleanup_interval", cfg.CleanupInterval,
		"client_idle_timeout", cfg.ClientIdleTimeout,
		"max_outbound_backlog", cfg.MaxOutboundBacklog,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
