package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Everything comes from the
// environment so main stays lean.
type Config struct {
	Addr string

	// RegistryFile overrides the compiled-in typing database registry.
	RegistryFile string

	// FetchConcurrency bounds simultaneous upstream requests.
	FetchConcurrency int64

	// FetchAttempts is the retry budget per upstream call.
	FetchAttempts uint64

	// CacheTTL bounds how long cached reference data can hide newly
	// published alleles. Zero keeps entries for the process lifetime.
	CacheTTL time.Duration

	// CachePath locates the on-disk cache; empty disables the tier.
	CachePath string

	// RedisURL enables the shared cache tier; empty disables it.
	RedisURL string

	// KafkaBrokers/KafkaTopic enable the audit trail publisher.
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Config from environment variables with sensible defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:             envString("STRAINTYPE_ADDR", ":8080"),
		RegistryFile:     os.Getenv("STRAINTYPE_REGISTRY_FILE"),
		FetchConcurrency: envInt64("STRAINTYPE_FETCH_CONCURRENCY", 8),
		FetchAttempts:    uint64(envInt64("STRAINTYPE_FETCH_ATTEMPTS", 3)),
		CacheTTL:         envDuration("STRAINTYPE_CACHE_TTL", 24*time.Hour),
		CachePath:        os.Getenv("STRAINTYPE_CACHE_PATH"),
		RedisURL:         os.Getenv("STRAINTYPE_REDIS_URL"),
		KafkaTopic:       envString("STRAINTYPE_KAFKA_TOPIC", "straintype.audit"),
	}
	if brokers := os.Getenv("STRAINTYPE_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
