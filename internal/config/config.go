package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Messaging gateway (SMS provider REST API)
	GatewayBaseURL string
	GatewayAPIKey  string

	// Reply correlation bounds
	CorrelationLookback int
	ProposalMaxAge      time.Duration

	// Per-appointment lock
	LockTTL time.Duration

	// Failed-send retry worker
	RetryPollInterval time.Duration

	// Conversation directory cache
	DirectoryCacheTTL time.Duration

	AllowedOrigins string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisAddr:           getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		GatewayBaseURL:      getEnv("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:       getEnv("GATEWAY_API_KEY", ""),
		CorrelationLookback: getEnvAsInt("CORRELATION_LOOKBACK", 5),
		ProposalMaxAge:      getEnvAsDuration("PROPOSAL_MAX_AGE", 72*time.Hour),
		LockTTL:             getEnvAsDuration("APPOINTMENT_LOCK_TTL", 15*time.Second),
		RetryPollInterval:   getEnvAsDuration("SEND_RETRY_POLL_INTERVAL", 30*time.Second),
		DirectoryCacheTTL:   getEnvAsDuration("DIRECTORY_CACHE_TTL", 15*time.Minute),
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "*"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
