// Package pipeline drives batch processing: it owns the per-batch worker,
// the cancellation table, and the progress bus wiring. One worker owns a
// batch id for its whole lifetime; files inside a batch run sequentially.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pajakflow/tax-docs-service/internal/archive"
	"github.com/pajakflow/tax-docs-service/internal/bank/hybrid"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
	"github.com/pajakflow/tax-docs-service/internal/security"
	"github.com/pajakflow/tax-docs-service/internal/vault"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	CreateBatch(ctx context.Context, b *models.Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	ListBatchesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Batch, error)
	IncrementProcessedFiles(ctx context.Context, batchID uuid.UUID) error
	FinishBatch(ctx context.Context, batchID uuid.UUID, status models.BatchStatus, errMsg string) error

	CreateDocumentFile(ctx context.Context, f *models.DocumentFile) error
	ListDocumentFiles(ctx context.Context, batchID uuid.UUID) ([]models.DocumentFile, error)
	MarkFileProcessing(ctx context.Context, fileID uuid.UUID) error
	MarkFileCompleted(ctx context.Context, fileID, resultID uuid.UUID) error
	MarkFileFailed(ctx context.Context, fileID uuid.UUID) error

	CreateScanResult(ctx context.Context, r *models.ScanResult) error
	GetScanResult(ctx context.Context, id uuid.UUID) (*models.ScanResult, error)
	ListScanResults(ctx context.Context, batchID uuid.UUID) ([]models.ScanResult, error)
	AddProcessingLog(ctx context.Context, batchID uuid.UUID, level models.LogLevel, message string) error
}

// Gateway is the OCR entry point.
type Gateway interface {
	ExtractText(ctx context.Context, path string) (*ocr.Result, error)
}

// SmartMapper performs structured extraction for tax documents.
type SmartMapper interface {
	ExtractFromText(ctx context.Context, text, documentType string, metadata map[string]interface{}) (map[string]interface{}, float64, error)
	ProviderName() string
}

// BankProcessor handles rekening-koran statements.
type BankProcessor interface {
	Process(ctx context.Context, res *ocr.Result) (*hybrid.Outcome, error)
}

// Upload is one file of a submitted batch.
type Upload struct {
	Filename     string
	DeclaredMime string
	DeclaredType string
	Data         []byte
}

// FileIssue records why a submitted file was rejected at validation.
type FileIssue struct {
	Filename string   `json:"filename"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
}

// Orchestrator accepts batches and processes them in the background.
type Orchestrator struct {
	store     Store
	vault     *vault.Vault
	validator *security.Validator
	gateway   Gateway
	registry  *parsers.Registry
	bank      BankProcessor
	mapper    SmartMapper
	bus       *Bus

	maxFiles       int
	useSmartMapper bool

	mu      sync.Mutex
	cancels map[uuid.UUID]bool

	log *logrus.Entry
}

// NewOrchestrator wires the pipeline. mapper and bank may be nil when the
// deployment disables them.
func NewOrchestrator(store Store, v *vault.Vault, validator *security.Validator,
	gateway Gateway, registry *parsers.Registry, bank BankProcessor,
	mapper SmartMapper, bus *Bus, cfg *models.Config) *Orchestrator {

	return &Orchestrator{
		store:          store,
		vault:          v,
		validator:      validator,
		gateway:        gateway,
		registry:       registry,
		bank:           bank,
		mapper:         mapper,
		bus:            bus,
		maxFiles:       cfg.Uploads.MaxFilesPerBatch,
		useSmartMapper: cfg.AI.UseSmartMapper,
		cancels:        make(map[uuid.UUID]bool),
		log:            logger.WithComponent("pipeline"),
	}
}

// Bus exposes the progress bus for subscribers.
func (o *Orchestrator) Bus() *Bus {
	return o.bus
}

// SubmitBatch validates and persists an upload. Per-file validation failures
// are recorded and the file is marked failed; the batch only fails outright
// when every file is rejected.
func (o *Orchestrator) SubmitBatch(ctx context.Context, userID uuid.UUID, uploads []Upload) (*models.Batch, []FileIssue, error) {
	if len(uploads) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	if len(uploads) > o.maxFiles {
		return nil, nil, fmt.Errorf("batch exceeds maximum of %d files", o.maxFiles)
	}

	batch := &models.Batch{
		ID:         uuid.New(),
		UserID:     userID,
		Status:     models.BatchProcessing,
		TotalFiles: len(uploads),
	}
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("create batch: %w", err)
	}

	var issues []FileIssue
	accepted := 0
	for i, up := range uploads {
		name := security.SanitizeFilename(up.Filename)
		res := o.validator.Validate(name, up.DeclaredMime, up.Data)

		file := &models.DocumentFile{
			ID:           uuid.New(),
			BatchID:      batch.ID,
			DisplayName:  name,
			DeclaredType: up.DeclaredType,
			SizeBytes:    int64(len(up.Data)),
			MimeType:     res.FileInfo.MimeDetected,
			ContentHash:  res.FileInfo.SHA256,
			Status:       models.FilePending,
		}

		if !res.Valid {
			issues = append(issues, FileIssue{Filename: name, Errors: res.Errors, Warnings: res.Warnings})
			file.Status = models.FileFailed
			if err := o.store.CreateDocumentFile(ctx, file); err != nil {
				return nil, nil, fmt.Errorf("record rejected file: %w", err)
			}
			o.logBatch(ctx, batch.ID, models.LogWarning,
				fmt.Sprintf("file %q rejected: %s", name, strings.Join(res.Errors, "; ")))
			continue
		}
		if len(res.Warnings) > 0 {
			issues = append(issues, FileIssue{Filename: name, Warnings: res.Warnings})
		}

		stored, err := o.vault.Save(batch.ID, i, name, up.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("store file %q: %w", name, err)
		}
		file.StoredPath = stored.Path

		if archive.Enabled() {
			// Mirror failures never block ingestion.
			if aerr := archive.Put(ctx, userID.String(), batch.ID.String(), stored.Name, up.Data, res.FileInfo.MimeDetected); aerr != nil {
				o.log.WithError(aerr).Warn("artifact archive mirror failed")
			}
		}

		if err := o.store.CreateDocumentFile(ctx, file); err != nil {
			return nil, nil, fmt.Errorf("record file: %w", err)
		}
		accepted++
	}

	if accepted == 0 {
		if err := o.store.FinishBatch(ctx, batch.ID, models.BatchFailed, "all files failed validation"); err != nil {
			return nil, nil, err
		}
		batch.Status = models.BatchFailed
		return batch, issues, nil
	}

	o.logBatch(ctx, batch.ID, models.LogInfo,
		fmt.Sprintf("batch accepted: %d of %d files", accepted, len(uploads)))
	return batch, issues, nil
}

// Go launches background processing for a batch. The goroutine is the sole
// owner of the batch id until a terminal status is written.
func (o *Orchestrator) Go(batchID uuid.UUID) {
	go func() {
		if err := o.ProcessBatch(context.Background(), batchID); err != nil {
			o.log.WithField("batch_id", batchID).WithError(err).Error("batch processing aborted")
		}
	}()
}

// Cancel flags the batch for cooperative cancellation; the worker observes
// the flag between files.
func (o *Orchestrator) Cancel(batchID uuid.UUID) {
	o.mu.Lock()
	o.cancels[batchID] = true
	o.mu.Unlock()
}

func (o *Orchestrator) cancelled(batchID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancels[batchID]
}

func (o *Orchestrator) clearCancel(batchID uuid.UUID) {
	o.mu.Lock()
	delete(o.cancels, batchID)
	o.mu.Unlock()
}

// ProcessBatch runs the per-file pipeline to a terminal batch status. Errors
// and panics that escape the per-file loop still land the batch on failed
// with a batch_error event; a worker never leaves its batch in processing.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batchID uuid.UUID) (err error) {
	defer o.clearCancel(batchID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch worker panic: %v", r)
		}
		if err != nil {
			o.failBatch(ctx, batchID, err)
		}
	}()

	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if batch.Status.IsTerminal() {
		return nil
	}

	files, err := o.store.ListDocumentFiles(ctx, batchID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	succeeded, processed := 0, 0
	wasCancelled := false
	for _, file := range files {
		if o.cancelled(batchID) {
			wasCancelled = true
			break
		}

		processed++
		if file.Status != models.FilePending {
			// Rejected at submission; still counts toward progress.
			if err := o.store.IncrementProcessedFiles(ctx, batchID); err != nil {
				return err
			}
			o.publishProgress(batch, processed, EventBatchProgress)
			continue
		}

		if err := o.processFile(ctx, batch, &file); err != nil {
			o.log.WithFields(logrus.Fields{
				"batch_id": batchID,
				"file":     file.DisplayName,
			}).WithError(err).Warn("file processing failed")
			if merr := o.store.MarkFileFailed(ctx, file.ID); merr != nil {
				return merr
			}
			o.logBatch(ctx, batchID, models.LogError,
				fmt.Sprintf("file %q failed: %v", file.DisplayName, err))
			o.publishFile(batch, &file, string(models.FileFailed), err.Error())
		} else {
			succeeded++
			o.publishFile(batch, &file, string(models.FileCompleted), "")
		}

		if err := o.store.IncrementProcessedFiles(ctx, batchID); err != nil {
			return err
		}
		o.publishProgress(batch, processed, EventBatchProgress)
	}

	status := terminalStatus(wasCancelled, succeeded, processed)
	errMsg := ""
	if status == models.BatchFailed {
		errMsg = "no files processed successfully"
	}
	if err := o.store.FinishBatch(ctx, batchID, status, errMsg); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	o.logBatch(ctx, batchID, models.LogInfo, fmt.Sprintf("batch finished: %s", status))

	evtType := EventBatchComplete
	if status == models.BatchFailed {
		evtType = EventBatchError
	}
	o.bus.Publish(Event{
		Type:           evtType,
		BatchID:        batchID,
		Status:         string(status),
		ProcessedFiles: processed,
		TotalFiles:     batch.TotalFiles,
		Percent:        percent(processed, batch.TotalFiles),
		Message:        errMsg,
	})
	return nil
}

// failBatch is the outermost failure boundary. FinishBatch only flips
// batches still in processing, so a batch that already reached a terminal
// status is left alone.
func (o *Orchestrator) failBatch(ctx context.Context, batchID uuid.UUID, cause error) {
	if err := o.store.FinishBatch(ctx, batchID, models.BatchFailed, cause.Error()); err != nil {
		o.log.WithField("batch_id", batchID).WithError(err).Error("could not mark batch failed")
	}
	o.logBatch(ctx, batchID, models.LogError, fmt.Sprintf("batch aborted: %v", cause))
	o.bus.Publish(Event{
		Type:    EventBatchError,
		BatchID: batchID,
		Status:  string(models.BatchFailed),
		Message: cause.Error(),
	})
}

// terminalStatus maps the run outcome onto the batch state machine.
func terminalStatus(cancelled bool, succeeded, processed int) models.BatchStatus {
	switch {
	case cancelled:
		return models.BatchCancelled
	case succeeded == 0:
		return models.BatchFailed
	case succeeded == processed:
		return models.BatchCompleted
	default:
		return models.BatchPartial
	}
}

// processFile runs OCR, parsing/extraction, and persistence for one file.
func (o *Orchestrator) processFile(ctx context.Context, batch *models.Batch, file *models.DocumentFile) error {
	start := time.Now()

	if err := o.store.MarkFileProcessing(ctx, file.ID); err != nil {
		return err
	}
	o.publishFile(batch, file, string(models.FileProcessing), "")

	ocrRes, err := o.gateway.ExtractText(ctx, file.StoredPath)
	if err != nil {
		return fmt.Errorf("ocr: %w", err)
	}

	result := &models.ScanResult{
		ID:               uuid.New(),
		BatchID:          batch.ID,
		DocumentFileID:   file.ID,
		DocumentType:     file.DeclaredType,
		OriginalFilename: file.DisplayName,
		RawText:          ocrRes.RawText,
		Confidence:       ocrRes.Confidence / 100,
		EngineUsed:       ocrRes.EngineUsed,
	}

	if file.DeclaredType == models.DocRekeningKoran && o.bank != nil {
		outcome, berr := o.bank.Process(ctx, ocrRes)
		if berr != nil {
			return fmt.Errorf("bank processing: %w", berr)
		}
		result.ExtractedData = outcomeToMap(outcome)
		result.Confidence = outcome.Confidence
	} else {
		envelope := o.registry.Parse(file.DeclaredType, ocrRes)
		result.DocumentType = envelope.DocumentType
		result.ExtractedData = envelopeToMap(envelope)

		if o.useSmartMapper && o.mapper != nil {
			structured, conf, merr := o.mapper.ExtractFromText(ctx, ocrRes.RawText, envelope.DocumentType, nil)
			if merr != nil {
				// Non-fatal: the raw-text envelope still ships.
				o.logBatch(ctx, batch.ID, models.LogWarning,
					fmt.Sprintf("structured extraction failed for %q: %v", file.DisplayName, merr))
			} else {
				if envelope.DocumentType == models.DocRekeningKoran {
					// Simplified statement path: the importer reads the rows
					// and metadata at the top level, like the hybrid outcome.
					for k, v := range structured {
						result.ExtractedData[k] = v
					}
				} else {
					result.ExtractedData["smart_mapped"] = structured
				}
				result.Confidence = conf
				result.EngineUsed = result.EngineUsed + "+" + o.mapper.ProviderName()
			}
		}
	}

	result.ProcessingTimeSeconds = time.Since(start).Seconds()
	if err := o.store.CreateScanResult(ctx, result); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	if err := o.store.MarkFileCompleted(ctx, file.ID, result.ID); err != nil {
		return err
	}
	file.ResultID = &result.ID
	return nil
}

// Query helpers. Ownership is enforced here so handlers stay thin.

var ErrForbidden = fmt.Errorf("not the owner of this resource")

// GetBatch returns the batch when owned by userID (admins bypass).
func (o *Orchestrator) GetBatch(ctx context.Context, userID uuid.UUID, isAdmin bool, batchID uuid.UUID) (*models.Batch, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.UserID != userID && !isAdmin {
		return nil, ErrForbidden
	}
	return batch, nil
}

// ListBatches returns the caller's batches, newest first.
func (o *Orchestrator) ListBatches(ctx context.Context, userID uuid.UUID, limit int) ([]models.Batch, error) {
	return o.store.ListBatchesForUser(ctx, userID, limit)
}

// ListBatchFiles returns the file rows of an owned batch.
func (o *Orchestrator) ListBatchFiles(ctx context.Context, userID uuid.UUID, isAdmin bool, batchID uuid.UUID) ([]models.DocumentFile, error) {
	if _, err := o.GetBatch(ctx, userID, isAdmin, batchID); err != nil {
		return nil, err
	}
	return o.store.ListDocumentFiles(ctx, batchID)
}

// GetBatchResults returns all scan results of an owned batch.
func (o *Orchestrator) GetBatchResults(ctx context.Context, userID uuid.UUID, isAdmin bool, batchID uuid.UUID) ([]models.ScanResult, error) {
	if _, err := o.GetBatch(ctx, userID, isAdmin, batchID); err != nil {
		return nil, err
	}
	return o.store.ListScanResults(ctx, batchID)
}

// GetResult returns one scan result after checking batch ownership.
func (o *Orchestrator) GetResult(ctx context.Context, userID uuid.UUID, isAdmin bool, resultID uuid.UUID) (*models.ScanResult, error) {
	result, err := o.store.GetScanResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if _, err := o.GetBatch(ctx, userID, isAdmin, result.BatchID); err != nil {
		return nil, err
	}
	return result, nil
}

// CancelBatch verifies ownership then flags cancellation.
func (o *Orchestrator) CancelBatch(ctx context.Context, userID uuid.UUID, isAdmin bool, batchID uuid.UUID) error {
	batch, err := o.GetBatch(ctx, userID, isAdmin, batchID)
	if err != nil {
		return err
	}
	if batch.Status.IsTerminal() {
		return fmt.Errorf("batch already %s", batch.Status)
	}
	o.Cancel(batchID)
	return nil
}

func (o *Orchestrator) publishFile(batch *models.Batch, file *models.DocumentFile, status, message string) {
	o.bus.Publish(Event{
		Type:       EventFileProgress,
		BatchID:    batch.ID,
		FileID:     &file.ID,
		Filename:   file.DisplayName,
		Status:     status,
		TotalFiles: batch.TotalFiles,
		Message:    message,
	})
}

func (o *Orchestrator) publishProgress(batch *models.Batch, processed int, t EventType) {
	o.bus.Publish(Event{
		Type:           t,
		BatchID:        batch.ID,
		ProcessedFiles: processed,
		TotalFiles:     batch.TotalFiles,
		Percent:        percent(processed, batch.TotalFiles),
	})
}

func percent(processed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

func (o *Orchestrator) logBatch(ctx context.Context, batchID uuid.UUID, level models.LogLevel, msg string) {
	if err := o.store.AddProcessingLog(ctx, batchID, level, msg); err != nil {
		o.log.WithError(err).Warn("processing log write failed")
	}
}

// envelopeToMap flattens the typed envelope into the opaque extracted-data
// shape the store persists.
func envelopeToMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

func outcomeToMap(outcome *hybrid.Outcome) map[string]interface{} {
	return envelopeToMap(outcome)
}
