package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

// CreateScanResult persists one extraction result. ExtractedData is stored
// as jsonb.
func (s *Store) CreateScanResult(ctx context.Context, r *models.ScanResult) error {
	extracted, err := json.Marshal(r.ExtractedData)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}

	query := `
		INSERT INTO scan_results (
			batch_id, document_file_id, document_type, original_filename,
			raw_text, extracted_data, confidence, engine_used, processing_time_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRow(ctx, query,
		r.BatchID, r.DocumentFileID, r.DocumentType, r.OriginalFilename,
		r.RawText, extracted, r.Confidence, r.EngineUsed, r.ProcessingTimeSeconds,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create scan result: %w", err)
	}
	return nil
}

const scanResultColumns = `
	id, batch_id, document_file_id, document_type, original_filename,
	COALESCE(raw_text, ''), extracted_data, confidence,
	COALESCE(engine_used, ''), processing_time_seconds, created_at, updated_at
`

func scanResultFromRow(scan func(dest ...any) error) (*models.ScanResult, error) {
	var r models.ScanResult
	var extracted []byte
	err := scan(
		&r.ID, &r.BatchID, &r.DocumentFileID, &r.DocumentType, &r.OriginalFilename,
		&r.RawText, &extracted, &r.Confidence,
		&r.EngineUsed, &r.ProcessingTimeSeconds, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &r.ExtractedData); err != nil {
			return nil, fmt.Errorf("unmarshal extracted data: %w", err)
		}
	}
	return &r, nil
}

// GetScanResult fetches one result by id.
func (s *Store) GetScanResult(ctx context.Context, id uuid.UUID) (*models.ScanResult, error) {
	query := `SELECT ` + scanResultColumns + ` FROM scan_results WHERE id = $1`
	r, err := scanResultFromRow(s.db.QueryRow(ctx, query, id).Scan)
	if err != nil {
		return nil, fmt.Errorf("get scan result: %w", err)
	}
	return r, nil
}

// ListScanResults returns all results for a batch in processing order.
func (s *Store) ListScanResults(ctx context.Context, batchID uuid.UUID) ([]models.ScanResult, error) {
	query := `SELECT ` + scanResultColumns + ` FROM scan_results WHERE batch_id = $1 ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("list scan results: %w", err)
	}
	defer rows.Close()

	var results []models.ScanResult
	for rows.Next() {
		r, err := scanResultFromRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}
