/**
 * OCR Worker - Main Entry Point
 *
 * Queue-driven text extraction from user photographs.
 *
 * Architecture:
 * - Redis LIST or asynq consumer for the job queue
 * - Per-user in-flight guard in Redis
 * - Multi-strategy Tesseract orchestration on a bounded worker pool
 * - PostgreSQL job rows and request log
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// consumer is satisfied by both queue backends.
type consumer interface {
	Start() error
	Stop() error
	GetStats(ctx context.Context) (map[string]int64, error)
}

const statsInterval = time.Minute

func main() {
	logger := logging.NewLogger("ocr-worker")
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Error("Worker exited with error", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	if err := godotenv.Load(".env.ocr"); err != nil {
		logger.Warn(".env.ocr not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info("Configuration loaded",
		"backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"pool", cfg.OCR.PoolSize,
		"preset", cfg.OCR.Preset,
		"languages", cfg.OCR.DefaultLanguages)

	logger.Info("Connecting to PostgreSQL")
	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage manager: %w", err)
	}
	defer storageManager.Close()

	ocr, err := pipeline.New(cfg.OCR, logger.With("component", "ocr"))
	if err != nil {
		return fmt.Errorf("failed to initialize OCR pipeline: %w", err)
	}
	defer ocr.Close()

	probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = ocr.Orchestrator.CheckEngine(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("recognition engine check failed: %w", err)
	}
	if langs, err := ocr.Engine.Languages(); err == nil {
		logger.Info("Tesseract ready", "version", ocr.Engine.Version(), "languages", len(langs))
	}

	proc, err := processor.NewImageProcessor(&processor.ProcessorConfig{
		Orchestrator: ocr.Orchestrator,
		Store:        storageManager,
		MaxImageSize: cfg.OCR.MaxImageSize,
		Logger:       logger.With("component", "processor"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize image processor: %w", err)
	}

	// Download and bookkeeping get headroom beyond the orchestration deadline.
	jobTimeout := cfg.OCR.ProcessingTimeout + 30*time.Second

	var queueConsumer consumer
	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		queueConsumer, err = queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Processor:   proc,
			JobTimeout:  jobTimeout,
			UserLockTTL: cfg.UserLockTTL,
			Logger:      logger.With("component", "queue"),
		})
	default:
		queueConsumer, err = queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Processor:   proc,
			JobTimeout:  jobTimeout,
			UserLockTTL: cfg.UserLockTTL,
			Logger:      logger.With("component", "queue"),
		})
	}
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}

	if err := queueConsumer.Start(); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	logger.Info("OCR worker is ready, waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for running := true; running; {
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())
			running = false
		case <-ticker.C:
			logStats(logger, queueConsumer, ocr, storageManager)
		}
	}

	logStats(logger, queueConsumer, ocr, storageManager)
	if err := queueConsumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// logStats reports queue depth, extraction pool load and database pool usage.
func logStats(logger *logging.Logger, q consumer, ocr *pipeline.Pipeline, sm *storage.StorageManager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kv := []interface{}{
		"attemptsRunning", ocr.Executor.Running(),
		"poolWidth", ocr.Executor.Capacity(),
	}
	if stats, err := q.GetStats(ctx); err != nil {
		logger.Debug("Queue stats unavailable", "error", err)
	} else {
		kv = append(kv, "queue", stats)
	}
	if stats, err := sm.GetStats(ctx); err != nil {
		logger.Debug("Database stats unavailable", "error", err)
	} else {
		kv = append(kv, "database", stats["postgres"])
	}
	logger.Info("Worker stats", kv...)
}
