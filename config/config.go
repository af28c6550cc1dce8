package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database (optional; enables auth + persistent cost history)
	PostgresDSN string

	// Cache (optional; absent means in-memory caching only)
	RedisAddr string

	// Providers
	AnthropicAPIKey string
	OpenAIAPIKey    string // optional; enables similarity matching

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000

	// Routing
	SimpleThreshold  float64 // score below this routes cheapest
	CapableThreshold float64 // score at or above this routes most capable

	// Caching
	CacheTTL            time.Duration
	CacheOpTimeout      time.Duration
	CacheHealthEvery    time.Duration
	SimilarityThreshold float64
	SimilarityMaxScan   int

	// Inference
	MaxAttempts int
	MaxTokens   int
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.DefaultRateLimitTPM, err = getEnvInt64("DEFAULT_RATE_LIMIT_TPM", 100000); err != nil {
		return nil, err
	}
	if cfg.SimpleThreshold, err = getEnvFloat("ROUTING_SIMPLE_THRESHOLD", 0.3); err != nil {
		return nil, err
	}
	if cfg.CapableThreshold, err = getEnvFloat("ROUTING_CAPABLE_THRESHOLD", 0.6); err != nil {
		return nil, err
	}
	if cfg.SimilarityThreshold, err = getEnvFloat("SIMILARITY_THRESHOLD", 0.85); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getEnvDuration("CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CacheOpTimeout, err = getEnvDuration("CACHE_OP_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheHealthEvery, err = getEnvDuration("CACHE_HEALTH_EVERY", 30*time.Second); err != nil {
		return nil, err
	}

	maxScan, err := getEnvInt64("SIMILARITY_MAX_SCAN", 50)
	if err != nil {
		return nil, err
	}
	cfg.SimilarityMaxScan = int(maxScan)

	attempts, err := getEnvInt64("INFERENCE_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	cfg.MaxAttempts = int(attempts)

	maxTokens, err := getEnvInt64("INFERENCE_MAX_TOKENS", 1024)
	if err != nil {
		return nil, err
	}
	cfg.MaxTokens = int(maxTokens)

	// Validation
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if cfg.SimpleThreshold < 0 || cfg.CapableThreshold > 1 || cfg.SimpleThreshold > cfg.CapableThreshold {
		return nil, fmt.Errorf("routing thresholds must satisfy 0 <= simple <= capable <= 1")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("SIMILARITY_THRESHOLD must be in [0,1]")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
