package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// MessageUserBusy is sent when a user already has an image in flight.
const MessageUserBusy = "Please wait for your current image to finish processing."

const inflightKeyPrefix = "ocr:inflight:"

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose TTL expired cannot release a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserGuard admits at most one in-flight request per user across all workers.
// Locks expire after ttl so a crashed worker cannot block a user forever.
type UserGuard struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

// NewUserGuard creates a guard on the given Redis client.
func NewUserGuard(client redis.Cmdable, ttl time.Duration, logger *logging.Logger) *UserGuard {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &UserGuard{client: client, ttl: ttl, logger: logger}
}

func inflightKey(userID string) string {
	return inflightKeyPrefix + userID
}

// Acquire takes the user's lock. ok is false when another request holds it.
// Anonymous requests are never guarded. release is safe to call more than once.
func (g *UserGuard) Acquire(ctx context.Context, userID string) (release func(), ok bool, err error) {
	if userID == "" {
		return func() {}, true, nil
	}

	token := uuid.New().String()
	key := inflightKey(userID)
	ok, err = g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire in-flight lock for %s: %w", userID, err)
	}
	if !ok {
		return nil, false, nil
	}

	released := false
	release = func() {
		if released {
			return
		}
		released = true
		// The job context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			g.logger.Warn("Failed to release in-flight lock, user stays blocked until it expires",
				"user", userID, "ttl", g.ttl, "error", err)
		}
	}
	return release, true, nil
}

// busyResult is reported for a job rejected by the guard.
func busyResult(jobID, userID string) *processor.ProcessResult {
	busy := errors.NewUserBusyError(jobID, userID)
	return &processor.ProcessResult{
		JobID:     jobID,
		Status:    processor.StatusError,
		Message:   MessageUserBusy,
		ErrorCode: busy.Code,
	}
}
