/**
 * PostgreSQL Client for the OCR Worker
 *
 * Handles job persistence and the per-request OCR log.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	UserID           string
	Status           string
	Score            float64
	ProcessingTimeMs int64
	LanguageGroup    string
	Strategy         string
	TextLength       int
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// RequestLog is one terminal OCR outcome.
type RequestLog struct {
	ID               string
	JobID            string
	UserID           string
	LanguageGroup    string
	TextLength       int
	ProcessingTimeMs int64
	Status           string
	Score            float64
	Strategy         string
	Defect           string
	ErrorCode        string
}

// UserStats aggregates a user's request history.
type UserStats struct {
	TotalRequests   int64
	SuccessCount    int64
	SuccessRate     float64
	AvgProcessingMs float64
	Recent          []RequestLog
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS ocr;

	CREATE TABLE IF NOT EXISTS ocr.processing_jobs (
		id                 UUID PRIMARY KEY,
		user_id            TEXT NOT NULL DEFAULT 'anonymous',
		status             TEXT NOT NULL,
		score              NUMERIC(5,4),
		processing_time_ms BIGINT,
		language_group     TEXT,
		strategy           TEXT,
		text_length        INTEGER,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ocr.request_log (
		id                 UUID PRIMARY KEY,
		job_id             UUID,
		user_id            TEXT NOT NULL,
		language_group     TEXT,
		languages          TEXT[],
		text_length        INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		status             TEXT NOT NULL,
		score              NUMERIC(5,4),
		strategy           TEXT,
		defect             TEXT,
		error_code         TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS request_log_user_created_idx
		ON ocr.request_log (user_id, created_at DESC);
`

// sanitizeConfidence rounds a score to 4 decimal places and clamps it to
// [0.0, 1.0] so it fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the ocr schema and tables when missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create OCR schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row. The worker may see a job before the
// producer has written it, so the first update creates the row.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	score := sanitizeConfidence(update.Score)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO ocr.processing_jobs (
			id, user_id, status, score, processing_time_ms,
			language_group, strategy, text_length,
			error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'anonymous'), $3,
			NULLIF($4::NUMERIC(5,4), 0), NULLIF($5, 0),
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, 0),
			NULLIF($9, ''), NULLIF($10, ''),
			COALESCE($11::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			score = COALESCE(EXCLUDED.score, ocr.processing_jobs.score),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocr.processing_jobs.processing_time_ms),
			language_group = COALESCE(EXCLUDED.language_group, ocr.processing_jobs.language_group),
			strategy = COALESCE(EXCLUDED.strategy, ocr.processing_jobs.strategy),
			text_length = COALESCE(EXCLUDED.text_length, ocr.processing_jobs.text_length),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocr.processing_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.UserID,           // $2
		update.Status,           // $3
		score,                   // $4
		update.ProcessingTimeMs, // $5
		update.LanguageGroup,    // $6
		update.Strategy,         // $7
		update.TextLength,       // $8
		update.ErrorCode,        // $9
		update.ErrorMessage,     // $10
		metadataJSON,            // $11
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, score=%.4f): %w",
			update.JobID, update.Status, score, err)
	}

	return nil
}

// LogRequest inserts one row into the request log.
func (p *PostgresClient) LogRequest(ctx context.Context, entry *RequestLog) error {
	if entry.ID == "" {
		return fmt.Errorf("request ID is required")
	}
	if entry.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if entry.Status == "" {
		return fmt.Errorf("status is required")
	}

	var languages []string
	if entry.LanguageGroup != "" {
		languages = strings.Split(entry.LanguageGroup, "+")
	}

	query := `
		INSERT INTO ocr.request_log (
			id, job_id, user_id, language_group, languages,
			text_length, processing_time_ms, status, score,
			strategy, defect, error_code, created_at
		) VALUES (
			$1::uuid, CASE WHEN $2 = '' THEN NULL ELSE $2::uuid END, $3, NULLIF($4, ''), $5,
			$6, $7, $8, NULLIF($9::NUMERIC(5,4), 0),
			NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NOW()
		)
	`

	_, err := p.db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.JobID,
		entry.UserID,
		entry.LanguageGroup,
		pq.Array(languages),
		entry.TextLength,
		entry.ProcessingTimeMs,
		entry.Status,
		sanitizeConfidence(entry.Score),
		entry.Strategy,
		entry.Defect,
		entry.ErrorCode,
	)
	if err != nil {
		return fmt.Errorf("failed to log OCR request (user=%s, status=%s): %w", entry.UserID, entry.Status, err)
	}
	return nil
}

// GetUserStats returns totals, success rate and the ten most recent requests.
func (p *PostgresClient) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	stats := &UserStats{}
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COALESCE(AVG(processing_time_ms), 0)
		FROM ocr.request_log
		WHERE user_id = $1
	`, userID).Scan(&stats.TotalRequests, &stats.SuccessCount, &stats.AvgProcessingMs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate user stats: %w", err)
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalRequests) * 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT
			id, COALESCE(job_id::text, ''), user_id, COALESCE(language_group, ''),
			text_length, processing_time_ms, status, COALESCE(score, 0),
			COALESCE(strategy, ''), COALESCE(defect, ''), COALESCE(error_code, '')
		FROM ocr.request_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 10
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r RequestLog
		if err := rows.Scan(
			&r.ID, &r.JobID, &r.UserID, &r.LanguageGroup,
			&r.TextLength, &r.ProcessingTimeMs, &r.Status, &r.Score,
			&r.Strategy, &r.Defect, &r.ErrorCode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request row: %w", err)
		}
		stats.Recent = append(stats.Recent, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent requests: %w", err)
	}

	return stats, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, status, score, processing_time_ms,
			language_group, strategy, text_length,
			error_code, error_message, metadata,
			created_at, updated_at
		FROM ocr.processing_jobs
		WHERE id = $1::uuid
	`

	var (
		id, userID, status      string
		score                   sql.NullFloat64
		processingTimeMs        sql.NullInt64
		languageGroup, strategy sql.NullString
		textLength              sql.NullInt64
		errorCode, errorMessage sql.NullString
		metadataJSON            []byte
		createdAt, updatedAt    time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &userID, &status, &score, &processingTimeMs,
		&languageGroup, &strategy, &textLength,
		&errorCode, &errorMessage, &metadataJSON,
		&createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"userId":    userID,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if score.Valid {
		result["score"] = score.Float64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if languageGroup.Valid {
		result["languageGroup"] = languageGroup.String
	}
	if strategy.Valid {
		result["strategy"] = strategy.String
	}
	if textLength.Valid {
		result["textLength"] = textLength.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
