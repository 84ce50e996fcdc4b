/**
 * Image Processor for the OCR Worker
 *
 * Wraps the orchestrator for queue jobs:
 * - loads the image from the job buffer or a URL
 * - enforces the size limit before any pixel work
 * - runs extraction and records the outcome in the request log
 */

package processor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// ImageProcessorInterface defines the interface for image processing
type ImageProcessorInterface interface {
	ProcessImage(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error
}

// ResultStore persists job state and the request log.
type ResultStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	LogRequest(ctx context.Context, entry *storage.RequestLog) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Orchestrator *Orchestrator
	Store        ResultStore // optional
	MaxImageSize int64
	HTTPClient   *http.Client
	Logger       *logging.Logger
}

// ProcessRequest represents an image processing request
type ProcessRequest struct {
	JobID      string
	UserID     string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	Language   string
	Metadata   map[string]interface{}
}

// ProcessResult is what the queue reports back for a job.
type ProcessResult struct {
	JobID            string
	Status           Status
	Text             string
	Message          string
	LanguageGroup    string
	TextLength       int
	Score            float64
	Strategy         string
	Defect           Defect
	ErrorCode        errors.ErrorCode
	ProcessingTimeMs int64
}

// ToMap converts the result to the JSON shape stored in Redis and Postgres.
func (r *ProcessResult) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"jobId":            r.JobID,
		"status":           string(r.Status),
		"message":          r.Message,
		"languageGroup":    r.LanguageGroup,
		"textLength":       r.TextLength,
		"processingTimeMs": r.ProcessingTimeMs,
	}
	if r.Status == StatusSuccess {
		m["text"] = r.Text
		m["score"] = r.Score
		m["strategy"] = r.Strategy
	}
	if r.Defect != "" {
		m["defect"] = string(r.Defect)
	}
	if r.ErrorCode != "" {
		m["errorCode"] = string(r.ErrorCode)
	}
	return m
}

// ImageProcessor handles image processing
type ImageProcessor struct {
	config       *ProcessorConfig
	orchestrator *Orchestrator
	store        ResultStore
	httpClient   *http.Client
	logger       *logging.Logger
}

// NewImageProcessor creates a new image processor
func NewImageProcessor(cfg *ProcessorConfig) (*ImageProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &ImageProcessor{
		config:       cfg,
		orchestrator: cfg.Orchestrator,
		store:        cfg.Store,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// ProcessImage runs one job. Recoverable failures come back as a result with
// a non-success status; an error means the job should be retried or failed
// by the queue.
func (p *ImageProcessor) ProcessImage(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	start := time.Now()
	p.logger.Info(fmt.Sprintf("[Job %s] Starting OCR", req.JobID), "user", req.UserID, "language", req.Language)

	imageData, err := p.loadImage(ctx, req)
	if err != nil {
		var tooLarge *errors.ProcessingError
		if stderrors.As(err, &tooLarge) && tooLarge.Code == errors.ErrorImageTooLarge {
			result := &ProcessResult{
				JobID:            req.JobID,
				Status:           StatusError,
				Message:          fmt.Sprintf("This image is too large. Please send one under %d MB.", p.config.MaxImageSize/(1024*1024)),
				ErrorCode:        tooLarge.Code,
				ProcessingTimeMs: time.Since(start).Milliseconds(),
			}
			p.record(ctx, req, result)
			return result, nil
		}
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	if detected := detectImageType(imageData); detected != "" && detected != req.MimeType {
		p.logger.Debug(fmt.Sprintf("[Job %s] Corrected MIME type", req.JobID), "from", req.MimeType, "to", detected)
		req.MimeType = detected
	}

	outcome, err := p.orchestrator.Extract(ctx, imageData, req.Language)
	if err != nil {
		var procErr *errors.ProcessingError
		if stderrors.As(err, &procErr) && procErr.Code == errors.ErrorEngineUnavailable {
			procErr.JobID = req.JobID
			p.logger.Error(fmt.Sprintf("[Job %s] Recognition engine unavailable", req.JobID), "error", err)
			p.record(ctx, req, &ProcessResult{
				JobID:            req.JobID,
				Status:           StatusError,
				Message:          MessageEngineUnavailable,
				ErrorCode:        procErr.Code,
				ProcessingTimeMs: time.Since(start).Milliseconds(),
			})
		}
		return nil, err
	}

	result := &ProcessResult{
		JobID:            req.JobID,
		Status:           outcome.Status,
		Text:             outcome.Text,
		Message:          outcome.Message(),
		LanguageGroup:    outcome.LanguageGroup,
		TextLength:       outcome.TextLength,
		Score:            outcome.Score,
		Strategy:         outcome.Strategy,
		Defect:           outcome.Defect,
		ProcessingTimeMs: outcome.ProcessingTime.Milliseconds(),
	}
	if outcome.Err != nil {
		outcome.Err.JobID = req.JobID
		result.ErrorCode = outcome.Err.Code
	}

	p.logger.Info(fmt.Sprintf("[Job %s] OCR finished", req.JobID),
		"status", result.Status,
		"chars", result.TextLength,
		"attempts", outcome.Attempts,
		"ms", result.ProcessingTimeMs)

	p.record(ctx, req, result)
	return result, nil
}

// UpdateJobStatus updates job status in database
func (p *ImageProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if userID, ok := metadata["userId"].(string); ok {
			update.UserID = userID
		}
		if score, ok := metadata["score"].(float64); ok {
			update.Score = score
		}
		if processingTime, ok := metadata["processingTimeMs"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if languageGroup, ok := metadata["languageGroup"].(string); ok {
			update.LanguageGroup = languageGroup
		}
		if strategy, ok := metadata["strategy"].(string); ok {
			update.Strategy = strategy
		}
		if textLength, ok := metadata["textLength"].(int); ok {
			update.TextLength = textLength
		}
		if errorCode, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = errorCode
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorMessage = errorMsg
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
		}
	}

	if err := p.store.UpdateJobStatus(ctx, update); err != nil {
		return errors.NewStorageFailedError(jobID, err)
	}
	return nil
}

// record writes the request log entry. Failures are logged only.
func (p *ImageProcessor) record(ctx context.Context, req *ProcessRequest, result *ProcessResult) {
	if p.store == nil {
		return
	}
	entry := &storage.RequestLog{
		JobID:            req.JobID,
		UserID:           req.UserID,
		LanguageGroup:    result.LanguageGroup,
		TextLength:       result.TextLength,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Status:           string(result.Status),
		Score:            result.Score,
		Strategy:         result.Strategy,
		Defect:           string(result.Defect),
		ErrorCode:        string(result.ErrorCode),
	}
	if err := p.store.LogRequest(ctx, entry); err != nil {
		p.logger.Warn(fmt.Sprintf("[Job %s] Failed to log OCR request", req.JobID), "error", err)
	}
}

// loadImage returns the job's image bytes from the buffer or its URL.
func (p *ImageProcessor) loadImage(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	limit := p.config.MaxImageSize

	if len(req.FileBuffer) > 0 {
		if limit > 0 && int64(len(req.FileBuffer)) > limit {
			return nil, errors.NewImageTooLargeError(req.JobID, int64(len(req.FileBuffer)), limit)
		}
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		if limit > 0 && req.FileSize > limit {
			return nil, errors.NewImageTooLargeError(req.JobID, req.FileSize, limit)
		}
		p.logger.Info(fmt.Sprintf("[Job %s] Downloading image", req.JobID), "url", req.FileURL)
		return p.downloadImage(ctx, req.JobID, req.FileURL)
	}

	return nil, fmt.Errorf("no image source provided (buffer or URL)")
}

// downloadImage fetches an image with exponential backoff between attempts.
func (p *ImageProcessor) downloadImage(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	const (
		maxRetries       = 3
		initialBackoffMs = 500
		maxBackoffMs     = 4000
	)

	limit := p.config.MaxImageSize
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := p.fetch(ctx, jobID, fileURL, limit)
		if err == nil {
			return data, nil
		}

		var procErr *errors.ProcessingError
		if stderrors.As(err, &procErr) {
			return nil, err
		}

		lastErr = err
		p.logger.Warn(fmt.Sprintf("[Job %s] Download attempt %d/%d failed", jobID, attempt, maxRetries), "error", err)
		if attempt == maxRetries {
			break
		}

		backoffMs := initialBackoffMs * int(math.Pow(2, float64(attempt-1)))
		if backoffMs > maxBackoffMs {
			backoffMs = maxBackoffMs
		}
		select {
		case <-time.After(time.Duration(backoffMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("failed to download image after %d attempts: %w", maxRetries, lastErr)
}

func (p *ImageProcessor) fetch(ctx context.Context, jobID, fileURL string, limit int64) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if limit > 0 && resp.ContentLength > limit {
		return nil, errors.NewImageTooLargeError(jobID, resp.ContentLength, limit)
	}

	reader := io.Reader(resp.Body)
	if limit > 0 {
		// One extra byte detects bodies that exceed the limit without a Content-Length.
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errors.NewImageTooLargeError(jobID, int64(len(data)), limit)
	}
	return data, nil
}

// detectImageType identifies common image formats from magic bytes.
func detectImageType(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	}
	return ""
}
