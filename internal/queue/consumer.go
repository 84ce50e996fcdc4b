/**
 * Asynq Queue Consumer for the OCR Worker
 *
 * Alternative transport selected with QUEUE_BACKEND=asynq. Tasks of type
 * `ocr:extract` carry a JobPayload; results are written back through the
 * task's result writer and mirrored to PostgreSQL.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// TaskTypeExtract is the asynq task type for OCR jobs.
const TaskTypeExtract = "ocr:extract"

// NewExtractTask builds an OCR task for the given queue.
func NewExtractTask(payload *JobPayload, queueName string, timeout time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Retention(24 * time.Hour),
		asynq.TaskID(payload.JobID),
	}
	if queueName != "" {
		opts = append(opts, asynq.Queue(queueName))
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskTypeExtract, data, opts...), nil
}

// Consumer handles job consumption through asynq
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	redis     *redis.Client
	runner    *jobRunner
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.ImageProcessorInterface
	JobTimeout  time.Duration
	UserLockTTL time.Duration
	Logger      *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// The in-flight guard talks to Redis directly.
	guardOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	guardClient := redis.NewClient(guardOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at a minute
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger:          &asynqLogger{logger: logger},
			ShutdownTimeout: cfg.JobTimeout + 5*time.Second,
		},
	)

	consumer := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
		redis:     guardClient,
		runner:    &jobRunner{
			processor: cfg.Processor,
			guard:     NewUserGuard(guardClient, cfg.UserLockTTL, logger),
			timeout:   cfg.JobTimeout,
			logger:    logger,
		},
		config: cfg,
		logger: logger,
	}
	consumer.mux.HandleFunc(TaskTypeExtract, consumer.handleExtract)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start() error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping asynq consumer")
	c.server.Shutdown()
	if err := c.inspector.Close(); err != nil {
		c.logger.Warn("Failed to close asynq inspector", "error", err)
	}
	if err := c.redis.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	return nil
}

func (c *Consumer) handleExtract(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			payload.JobID = id
		}
	}

	c.logger.Info(fmt.Sprintf("[Job %s] Processing image", payload.JobID),
		"filename", payload.Filename, "size", payload.FileSize, "user", payload.UserID)

	if err := c.runner.processor.UpdateJobStatus(ctx, payload.JobID, StatusProcessing, map[string]interface{}{
		"userId": payload.UserID,
	}); err != nil {
		c.logger.Warn(fmt.Sprintf("[Job %s] Failed to update status to processing", payload.JobID), "error", err)
	}

	start := time.Now()
	result, err := c.runner.run(ctx, &payload)
	if err != nil {
		if updateErr := c.runner.processor.UpdateJobStatus(ctx, payload.JobID, StatusFailed, map[string]interface{}{
			"userId":           payload.UserID,
			"error":            err.Error(),
			"processingTimeMs": time.Since(start).Milliseconds(),
		}); updateErr != nil {
			c.logger.Warn(fmt.Sprintf("[Job %s] Failed to update status to failed", payload.JobID), "error", updateErr)
		}
		if !retryable(err) {
			return fmt.Errorf("ocr failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("ocr failed: %w", err)
	}

	metadata := completionMetadata(&payload, result)
	if data, err := json.Marshal(metadata); err == nil {
		if _, err := task.ResultWriter().Write(data); err != nil {
			c.logger.Warn(fmt.Sprintf("[Job %s] Failed to write task result", payload.JobID), "error", err)
		}
	}

	if err := c.runner.processor.UpdateJobStatus(ctx, payload.JobID, StatusCompleted, metadata); err != nil {
		c.logger.Warn(fmt.Sprintf("[Job %s] Failed to update status to completed", payload.JobID), "error", err)
	}

	c.logger.Info(fmt.Sprintf("[Job %s] Completed", payload.JobID),
		"status", result.Status, "ms", time.Since(start).Milliseconds())
	return nil
}

// GetStats returns task counts for the consumer's queue, named like the
// Redis LIST backend's counters.
func (c *Consumer) GetStats(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"waiting":    int64(info.Pending + info.Scheduled),
		"processing": int64(info.Active),
		"retrying":   int64(info.Retry),
		"completed":  int64(info.Completed),
		"failed":     int64(info.Archived),
	}, nil
}

// asynqLogger routes asynq's internal logging through the worker logger.
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	l.logger.Sync()
	os.Exit(1)
}
