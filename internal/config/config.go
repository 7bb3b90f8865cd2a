package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API process.
type Config struct {
	Port      string
	AuthToken string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DatabaseURL     string
	StatusTTLSecs   int
	StatusKeyPrefix string

	RetryMaxAttempts   int
	RetryBackoffMinMS  int
	RetryBackoffMaxMS  int
	RefinementEnabled  bool
	ChunkSizeChars     int
	ShutdownTimeoutSec int

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins []string
}

func Load() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		StatusTTLSecs:   getEnvInt("STATUS_TTL_SECONDS", 86400),
		StatusKeyPrefix: getEnv("STATUS_KEY_PREFIX", "docpipe:status:"),

		RetryMaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBackoffMinMS:  getEnvInt("RETRY_BACKOFF_MIN_MS", 2000),
		RetryBackoffMaxMS:  getEnvInt("RETRY_BACKOFF_MAX_MS", 30000),
		RefinementEnabled:  getEnvBool("REFINEMENT_ENABLED", true),
		ChunkSizeChars:     getEnvInt("CHUNK_SIZE_CHARS", 800),
		ShutdownTimeoutSec: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
