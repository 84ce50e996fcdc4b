/**
 * Direct Redis Queue Consumer for the OCR Worker
 *
 * Compatible with the TypeScript RedisQueue producer: job IDs are pushed to a
 * LIST, payloads live in the `<queue>:data` hash, and state is tracked in the
 * `:processing`, `:completed` and `:failed` sets with results and errors in
 * hashes. Every transition is published on `<queue>:events`.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// Job states as stored in Redis and PostgreSQL.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var errNoJob = stderrors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client *redis.Client
	runner *jobRunner
	config *RedisConsumerConfig
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.ImageProcessorInterface
	// JobTimeout bounds one job including download (default: 60s)
	JobTimeout  time.Duration
	UserLockTTL time.Duration
	Logger      *logging.Logger
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "ocr:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		runner: &jobRunner{
			processor: cfg.Processor,
			guard:     NewUserGuard(client, cfg.UserLockTTL, logger),
			timeout:   cfg.JobTimeout,
			logger:    logger,
		},
		config: cfg,
		logger: logger,
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer, letting in-flight jobs finish.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if stderrors.Is(err, errNoJob) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Error("Worker error", "worker", id, "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *RedisConsumer) key(suffix string) string {
	return c.config.QueueName + ":" + suffix
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return errNoJob
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	id := result[1]

	// Jobs already dequeued finish even while the consumer is stopping.
	ctx := context.WithoutCancel(c.ctx)

	jobData, err := c.client.HGet(ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.updateJobStatus(ctx, id, StatusFailed, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	jobID := job.Payload.JobID

	c.updateJobStatus(ctx, jobID, StatusProcessing, map[string]interface{}{
		"userId":   job.Payload.UserID,
		"filename": job.Payload.Filename,
	})

	start := time.Now()
	processResult, err := c.runner.run(ctx, &job.Payload)
	if err != nil {
		job.Attempts++
		c.logger.Warn(fmt.Sprintf("[Job %s] Failed", jobID), "attempt", job.Attempts, "error", err)

		if retryable(err) && job.Attempts < job.MaxRetries {
			updated, _ := json.Marshal(job)
			pipe := c.client.TxPipeline()
			pipe.HSet(ctx, c.key("data"), job.ID, updated)
			pipe.SRem(ctx, c.key("processing"), jobID)
			pipe.LPush(ctx, c.config.QueueName, job.ID)
			if _, perr := pipe.Exec(ctx); perr != nil {
				return fmt.Errorf("re-queue job %s: %w", jobID, perr)
			}
			c.logger.Info(fmt.Sprintf("[Job %s] Re-queued for retry", jobID),
				"attempt", job.Attempts, "max", job.MaxRetries)
			return nil
		}

		c.updateJobStatus(ctx, jobID, StatusFailed, map[string]interface{}{
			"userId":           job.Payload.UserID,
			"error":            err.Error(),
			"attempts":         job.Attempts,
			"processingTimeMs": time.Since(start).Milliseconds(),
		})
		return nil
	}

	c.updateJobStatus(ctx, jobID, StatusCompleted, completionMetadata(&job.Payload, processResult))
	c.logger.Info(fmt.Sprintf("[Job %s] Completed", jobID),
		"status", processResult.Status, "ms", time.Since(start).Milliseconds())
	return nil
}

// updateJobStatus records a transition in Redis and PostgreSQL and publishes
// it. Failures are logged; the queue keeps moving.
func (c *RedisConsumer) updateJobStatus(ctx context.Context, jobID, status string, data map[string]interface{}) {
	pipe := c.client.TxPipeline()
	switch status {
	case StatusProcessing:
		pipe.SAdd(ctx, c.key("processing"), jobID)
	case StatusCompleted:
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("completed"), jobID)
		if data != nil {
			resultData, _ := json.Marshal(data)
			pipe.HSet(ctx, c.key("results"), jobID, resultData)
		}
	case StatusFailed:
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("failed"), jobID)
		if data != nil {
			errorData, _ := json.Marshal(data)
			pipe.HSet(ctx, c.key("errors"), jobID, errorData)
		}
	}

	event := map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s, ok := data["status"]; ok {
		event["result"] = s
	}
	eventData, _ := json.Marshal(event)
	pipe.Publish(ctx, c.key("events"), eventData)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn(fmt.Sprintf("[Job %s] Failed to record %s in Redis", jobID, status), "error", err)
	}

	if err := c.runner.processor.UpdateJobStatus(ctx, jobID, status, data); err != nil {
		c.logger.Warn(fmt.Sprintf("[Job %s] Failed to update job row", jobID), "status", status, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
