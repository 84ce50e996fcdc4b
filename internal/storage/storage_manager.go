/**
 * Storage Manager for the OCR Worker
 *
 * Single entry point for persistence. Job rows and request-log rows are
 * written independently; a failed log write never fails the job.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// StorageManager coordinates PostgreSQL operations
type StorageManager struct {
	postgres *PostgresClient
}

// NewStorageManager connects to PostgreSQL and prepares the schema.
func NewStorageManager(postgresURL string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close() // Cleanup on failure
		return nil, err
	}

	return &StorageManager{postgres: postgres}, nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// LogRequest records a terminal outcome, assigning an ID when missing.
func (sm *StorageManager) LogRequest(ctx context.Context, entry *RequestLog) error {
	if entry == nil {
		return fmt.Errorf("request log entry is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.UserID == "" {
		entry.UserID = "anonymous"
	}
	return sm.postgres.LogRequest(ctx, entry)
}

// GetUserStats returns a user's request statistics
func (sm *StorageManager) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	return sm.postgres.GetUserStats(ctx, userID)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// GetStats returns connection pool statistics
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if err := sm.postgres.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach PostgreSQL: %w", err)
	}
	pgStats := sm.postgres.GetStats()

	return map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	if sm.postgres != nil {
		if err := sm.postgres.Close(); err != nil {
			return fmt.Errorf("failed to close PostgreSQL: %w", err)
		}
	}
	return nil
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips escapes JSONB rejects. Recognized text can
// carry NUL and other control characters straight from the engine.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
