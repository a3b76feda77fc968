package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

// CreateBatch inserts a batch row in status processing.
func (s *Store) CreateBatch(ctx context.Context, b *models.Batch) error {
	query := `
		INSERT INTO batches (user_id, status, total_files, processed_files)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, b.UserID, b.Status, b.TotalFiles, b.ProcessedFiles).
		Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// GetBatch fetches one batch by id.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	query := `
		SELECT id, user_id, status, total_files, processed_files,
		       created_at, completed_at, COALESCE(error_message, '')
		FROM batches
		WHERE id = $1
	`
	var b models.Batch
	err := s.db.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.UserID, &b.Status, &b.TotalFiles, &b.ProcessedFiles,
		&b.CreatedAt, &b.CompletedAt, &b.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

// ListBatchesForUser returns the user's batches, newest first.
func (s *Store) ListBatchesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Batch, error) {
	query := `
		SELECT id, user_id, status, total_files, processed_files,
		       created_at, completed_at, COALESCE(error_message, '')
		FROM batches
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []models.Batch
	for rows.Next() {
		var b models.Batch
		err := rows.Scan(&b.ID, &b.UserID, &b.Status, &b.TotalFiles, &b.ProcessedFiles,
			&b.CreatedAt, &b.CompletedAt, &b.ErrorMessage)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// IncrementProcessedFiles bumps the processed counter. The count only moves
// forward; one background task owns each batch.
func (s *Store) IncrementProcessedFiles(ctx context.Context, batchID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE batches SET processed_files = processed_files + 1 WHERE id = $1`, batchID)
	return err
}

// FinishBatch sets the terminal status and completion timestamp. A batch
// already in a terminal state is left untouched.
func (s *Store) FinishBatch(ctx context.Context, batchID uuid.UUID, status models.BatchStatus, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE batches
		SET status = $1, completed_at = $2, error_message = NULLIF($3, '')
		WHERE id = $4 AND status = 'processing'
	`, status, time.Now(), errMsg, batchID)
	return err
}

// CreateDocumentFile inserts one file row.
func (s *Store) CreateDocumentFile(ctx context.Context, f *models.DocumentFile) error {
	query := `
		INSERT INTO document_files (
			batch_id, display_name, stored_path, declared_type,
			size_bytes, mime_type, content_hash, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		f.BatchID, f.DisplayName, f.StoredPath, f.DeclaredType,
		f.SizeBytes, f.MimeType, f.ContentHash, f.Status,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("create document file: %w", err)
	}
	return nil
}

// ListDocumentFiles returns the batch's files in insertion order.
func (s *Store) ListDocumentFiles(ctx context.Context, batchID uuid.UUID) ([]models.DocumentFile, error) {
	query := `
		SELECT id, batch_id, display_name, stored_path, declared_type,
		       size_bytes, COALESCE(mime_type, ''), COALESCE(content_hash, ''),
		       status, processing_start, processing_end, result_id
		FROM document_files
		WHERE batch_id = $1
		ORDER BY stored_path
	`
	rows, err := s.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("list document files: %w", err)
	}
	defer rows.Close()

	var files []models.DocumentFile
	for rows.Next() {
		var f models.DocumentFile
		err := rows.Scan(&f.ID, &f.BatchID, &f.DisplayName, &f.StoredPath, &f.DeclaredType,
			&f.SizeBytes, &f.MimeType, &f.ContentHash,
			&f.Status, &f.ProcessingStart, &f.ProcessingEnd, &f.ResultID)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// MarkFileProcessing flips a file to processing and stamps the start time.
func (s *Store) MarkFileProcessing(ctx context.Context, fileID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE document_files SET status = 'processing', processing_start = $1 WHERE id = $2
	`, time.Now(), fileID)
	return err
}

// MarkFileCompleted flips a file to completed and links its scan result.
func (s *Store) MarkFileCompleted(ctx context.Context, fileID, resultID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE document_files SET status = 'completed', processing_end = $1, result_id = $2 WHERE id = $3
	`, time.Now(), resultID, fileID)
	return err
}

// MarkFileFailed flips a file to failed.
func (s *Store) MarkFileFailed(ctx context.Context, fileID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE document_files SET status = 'failed', processing_end = $1 WHERE id = $2
	`, time.Now(), fileID)
	return err
}

// AddProcessingLog appends an audit line for the batch.
func (s *Store) AddProcessingLog(ctx context.Context, batchID uuid.UUID, level models.LogLevel, message string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO processing_logs (batch_id, level, message) VALUES ($1, $2, $3)
	`, batchID, level, message)
	return err
}

// ListProcessingLogs returns the batch's audit lines in order.
func (s *Store) ListProcessingLogs(ctx context.Context, batchID uuid.UUID) ([]models.ProcessingLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, batch_id, level, message, created_at
		FROM processing_logs
		WHERE batch_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list processing logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ProcessingLog
	for rows.Next() {
		var l models.ProcessingLog
		if err := rows.Scan(&l.ID, &l.BatchID, &l.Level, &l.Message, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
