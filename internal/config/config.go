/**
 * Configuration for the OCR Worker
 *
 * Loads configuration from environment variables matching .env.ocr
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// OCRConfig holds the settings of the extraction core. It has no required
// variables so the CLI can load it without a database.
type OCRConfig struct {
	PoolSize          int
	MaxAttempts       int
	ProcessingTimeout time.Duration
	AttemptTimeout    time.Duration
	MaxImageSize      int64
	Preset            string
	DefaultLanguages  string
	TessdataPrefix    string
}

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Queue configuration
	QueueBackend      string
	QueueName         string
	WorkerConcurrency int

	// Per-user in-flight lock lifetime
	UserLockTTL time.Duration

	OCR OCRConfig

	// Node environment
	NodeEnv string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		DatabaseURL:       getEnvOrThrow("DATABASE_URL"),
		QueueBackend:      strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis)),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "ocr:jobs"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		UserLockTTL:       getEnvAsMillisOrDefault("USER_LOCK_TTL", 60000), // 1 minute
		OCR:               LoadOCRConfig(),
		NodeEnv:           getEnvOrDefault("NODE_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOCRConfig reads only the extraction settings.
func LoadOCRConfig() OCRConfig {
	return OCRConfig{
		PoolSize:          getEnvAsIntOrDefault("OCR_POOL_SIZE", 3),
		MaxAttempts:       getEnvAsIntOrDefault("OCR_MAX_ATTEMPTS", 16),
		ProcessingTimeout: getEnvAsMillisOrDefault("PROCESSING_TIMEOUT", 30000), // 30 seconds
		AttemptTimeout:    getEnvAsMillisOrDefault("ATTEMPT_TIMEOUT", 10000),
		MaxImageSize:      getEnvAsInt64OrDefault("MAX_IMAGE_SIZE", 20*1024*1024), // 20MB
		Preset:            strings.ToLower(getEnvOrDefault("OCR_PRESET", "ultimate")),
		DefaultLanguages:  getEnvOrDefault("DEFAULT_LANGUAGES", "eng+amh"),
		TessdataPrefix:    getEnvOrDefault("TESSDATA_PREFIX", ""),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME must not be empty")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.UserLockTTL < time.Second {
		return fmt.Errorf("USER_LOCK_TTL must be at least 1000ms, got %v", c.UserLockTTL)
	}

	return c.OCR.Validate()
}

// Validate checks the extraction settings.
func (o OCRConfig) Validate() error {
	if o.PoolSize < 2 || o.PoolSize > 4 {
		return fmt.Errorf("OCR_POOL_SIZE must be between 2 and 4, got %d", o.PoolSize)
	}

	if o.MaxAttempts < 1 || o.MaxAttempts > 64 {
		return fmt.Errorf("OCR_MAX_ATTEMPTS must be between 1 and 64, got %d", o.MaxAttempts)
	}

	if o.ProcessingTimeout < time.Second {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %v", o.ProcessingTimeout)
	}

	if o.AttemptTimeout <= 0 || o.AttemptTimeout > o.ProcessingTimeout {
		return fmt.Errorf("ATTEMPT_TIMEOUT must be positive and not exceed PROCESSING_TIMEOUT, got %v", o.AttemptTimeout)
	}

	if o.MaxImageSize < 1024 || o.MaxImageSize > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 1KB and 100MB, got %d", o.MaxImageSize)
	}

	if strings.TrimSpace(o.DefaultLanguages) == "" {
		return fmt.Errorf("DEFAULT_LANGUAGES must not be empty")
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or panics
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsMillisOrDefault reads a millisecond count as a duration
func getEnvAsMillisOrDefault(key string, defaultMillis int64) time.Duration {
	return time.Duration(getEnvAsInt64OrDefault(key, defaultMillis)) * time.Millisecond
}
