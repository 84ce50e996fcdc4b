/**
 * Queue Job Model
 *
 * Payload shared by the Redis LIST and asynq consumers, plus the runner
 * both use to push one job through the guard and the image processor.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId"`
	Filename   string                 `json:"filename,omitempty"`
	MimeType   string                 `json:"mimeType,omitempty"`
	FileSize   int64                  `json:"fileSize,omitempty"`
	FileURL    string                 `json:"fileUrl,omitempty"`
	FileBuffer []byte                 `json:"-"` // set by UnmarshalJSON
	Language   string                 `json:"language,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON writes fileBuffer as base64.
func (p JobPayload) MarshalJSON() ([]byte, error) {
	type Alias JobPayload
	return json.Marshal(&struct {
		FileBuffer string `json:"fileBuffer,omitempty"`
		*Alias
	}{
		FileBuffer: base64.StdEncoding.EncodeToString(p.FileBuffer),
		Alias:      (*Alias)(&p),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for JobPayload to handle Buffer serialization
// Supports both base64 string format and Node.js Buffer object format (legacy)
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	// Create alias type to avoid recursion
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

func (p *JobPayload) toRequest() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		UserID:     p.UserID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileSize:   p.FileSize,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		Language:   p.Language,
		Metadata:   p.Metadata,
	}
}

// jobRunner executes one payload. A nil guard admits every request.
type jobRunner struct {
	processor processor.ImageProcessorInterface
	guard     *UserGuard
	timeout   time.Duration
	logger    *logging.Logger
}

func (r *jobRunner) run(ctx context.Context, p *JobPayload) (*processor.ProcessResult, error) {
	release := func() {}
	if r.guard != nil {
		rel, ok, err := r.guard.Acquire(ctx, p.UserID)
		switch {
		case err != nil:
			r.logger.Warn(fmt.Sprintf("[Job %s] In-flight guard unavailable, continuing unguarded", p.JobID), "error", err)
		case !ok:
			r.logger.Info(fmt.Sprintf("[Job %s] User already has a request in flight", p.JobID), "user", p.UserID)
			return busyResult(p.JobID, p.UserID), nil
		default:
			release = rel
		}
	}
	defer release()

	timeout := r.timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := r.processor.ProcessImage(jobCtx, p.toRequest())
	if err != nil {
		if stderrors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Warn(fmt.Sprintf("[Job %s] Processing timed out after %v", p.JobID, time.Since(start)))
			return nil, errors.NewProcessingTimeoutError(p.JobID, timeout, err)
		}
		return nil, err
	}
	return result, nil
}

// retryable reports whether a failed job may succeed on another attempt.
func retryable(err error) bool {
	var procErr *errors.ProcessingError
	if !stderrors.As(err, &procErr) {
		return true
	}
	switch procErr.Code {
	case errors.ErrorProcessingTimeout, errors.ErrorImageTooLarge, errors.ErrorDecodeFailed, errors.ErrorUserBusy:
		return false
	}
	return true
}

// completionMetadata is what the job row records for a finished job.
func completionMetadata(p *JobPayload, result *processor.ProcessResult) map[string]interface{} {
	m := result.ToMap()
	m["userId"] = p.UserID
	if p.Filename != "" {
		m["filename"] = p.Filename
	}
	return m
}
