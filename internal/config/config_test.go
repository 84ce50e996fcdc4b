package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ocr")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, "ocr:jobs", cfg.QueueName)
	assert.Equal(t, 3, cfg.OCR.PoolSize)
	assert.Equal(t, 16, cfg.OCR.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.OCR.ProcessingTimeout)
	assert.Equal(t, 10*time.Second, cfg.OCR.AttemptTimeout)
	assert.Equal(t, int64(20*1024*1024), cfg.OCR.MaxImageSize)
	assert.Equal(t, "eng+amh", cfg.OCR.DefaultLanguages)
	assert.Equal(t, "ultimate", cfg.OCR.Preset)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ocr")
	t.Setenv("QUEUE_BACKEND", "ASYNQ")
	t.Setenv("OCR_POOL_SIZE", "4")
	t.Setenv("PROCESSING_TIMEOUT", "45000")
	t.Setenv("ATTEMPT_TIMEOUT", "5000")
	t.Setenv("OCR_MAX_ATTEMPTS", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, QueueBackendAsynq, cfg.QueueBackend)
	assert.Equal(t, 4, cfg.OCR.PoolSize)
	assert.Equal(t, 45*time.Second, cfg.OCR.ProcessingTimeout)
	assert.Equal(t, 5*time.Second, cfg.OCR.AttemptTimeout)
	assert.Equal(t, 16, cfg.OCR.MaxAttempts)
}

func TestLoadConfigPanicsWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	assert.Panics(t, func() { _, _ = LoadConfig() })
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	valid := func() Config {
		return Config{
			RedisURL:          "redis://localhost:6379",
			DatabaseURL:       "postgres://localhost/ocr",
			QueueBackend:      QueueBackendRedis,
			QueueName:         "ocr:jobs",
			WorkerConcurrency: 2,
			UserLockTTL:       time.Minute,
			OCR: OCRConfig{
				PoolSize:          3,
				MaxAttempts:       16,
				ProcessingTimeout: 30 * time.Second,
				AttemptTimeout:    10 * time.Second,
				MaxImageSize:      1 << 20,
				DefaultLanguages:  "eng",
			},
		}
	}

	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"pool too small":        func(c *Config) { c.OCR.PoolSize = 1 },
		"pool too large":        func(c *Config) { c.OCR.PoolSize = 5 },
		"attempts zero":         func(c *Config) { c.OCR.MaxAttempts = 0 },
		"attempt over deadline": func(c *Config) { c.OCR.AttemptTimeout = time.Minute },
		"unknown backend":       func(c *Config) { c.QueueBackend = "kafka" },
		"no languages":          func(c *Config) { c.OCR.DefaultLanguages = " " },
		"concurrency":           func(c *Config) { c.WorkerConcurrency = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
