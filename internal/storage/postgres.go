// PostgreSQL persistence for processed documents and job status.

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/pipeline"
)

// Job statuses written to the processing_jobs table.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusDegraded   = "degraded"
	StatusFailed     = "failed"
)

// PostgresClient handles database operations.
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update.
type JobUpdate struct {
	JobID        string
	Status       string
	DocumentID   string
	ErrorCode    string
	ErrorMessage string
	DurationMs   int64
}

// sanitizeConfidence rounds to 4 decimal places and clamps to [0,1].
// Raw float64 representations like 0.9632000000000001 trip NUMERIC casts.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient opens a pooled connection and verifies it.
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// SaveDocument upserts a finalized document, its fields and its correction
// trail. Reprocessing the same document replaces the previous row.
func (p *PostgresClient) SaveDocument(ctx context.Context, doc *pipeline.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document with an ID is required")
	}

	fieldsJSON, err := json.Marshal(doc.Fields)
	if err != nil {
		return apperrors.NewStorageFailedError(doc.ID, fmt.Errorf("marshal fields: %w", err))
	}
	correctionsJSON, err := json.Marshal(doc.Corrections)
	if err != nil {
		return apperrors.NewStorageFailedError(doc.ID, fmt.Errorf("marshal corrections: %w", err))
	}
	attemptsJSON, err := json.Marshal(doc.Attempts)
	if err != nil {
		return apperrors.NewStorageFailedError(doc.ID, fmt.Errorf("marshal attempts: %w", err))
	}

	query := `
		INSERT INTO docintake.documents (
			id, source_ref, label, label_source, model_confidence,
			rotation, chosen_engine, ocr_text,
			fields, corrections, attempts,
			orientation_undetermined, ocr_failed, degraded,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, $4, $5::NUMERIC(5,4),
			$6, $7, $8,
			$9::jsonb, $10::jsonb, $11::jsonb,
			$12, $13, $14,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			source_ref = EXCLUDED.source_ref,
			label = EXCLUDED.label,
			label_source = EXCLUDED.label_source,
			model_confidence = EXCLUDED.model_confidence,
			rotation = EXCLUDED.rotation,
			chosen_engine = EXCLUDED.chosen_engine,
			ocr_text = EXCLUDED.ocr_text,
			fields = EXCLUDED.fields,
			corrections = EXCLUDED.corrections,
			attempts = EXCLUDED.attempts,
			orientation_undetermined = EXCLUDED.orientation_undetermined,
			ocr_failed = EXCLUDED.ocr_failed,
			degraded = EXCLUDED.degraded,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query,
		doc.ID,
		doc.SourceRef,
		doc.Classification.Label,
		doc.Classification.Source,
		sanitizeConfidence(doc.Classification.Confidence),
		doc.Rotation,
		doc.ChosenAttempt.EngineID,
		doc.ChosenAttempt.Text,
		fieldsJSON,
		correctionsJSON,
		attemptsJSON,
		doc.OrientationUndetermined,
		doc.OCRFailed,
		doc.Degraded,
	)
	if err != nil {
		return apperrors.NewStorageFailedError(doc.ID, err)
	}
	return nil
}

// UpdateJobStatus upserts the job row so the worker can create it when the
// API has not yet.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	query := `
		INSERT INTO docintake.processing_jobs (
			id, status, document_id, error_code, error_message,
			processing_time_ms, created_at, updated_at
		) VALUES (
			$1::uuid, $2,
			CASE WHEN $3 = '' THEN NULL ELSE $3::uuid END,
			NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, 0),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document_id = COALESCE(EXCLUDED.document_id, docintake.processing_jobs.document_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, docintake.processing_jobs.processing_time_ms),
			updated_at = NOW()
	`

	_, err := p.db.ExecContext(ctx, query,
		update.JobID,
		update.Status,
		update.DocumentID,
		update.ErrorCode,
		update.ErrorMessage,
		update.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", update.JobID, err)
	}
	return nil
}

// GetJobStatus returns the current status of a job.
func (p *PostgresClient) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	var status string
	err := p.db.QueryRowContext(ctx,
		`SELECT status FROM docintake.processing_jobs WHERE id = $1::uuid`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query job %s: %w", jobID, err)
	}
	return status, nil
}

// Ping checks database connectivity.
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
