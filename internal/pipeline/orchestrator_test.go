package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajakflow/tax-docs-service/internal/bank/hybrid"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
	"github.com/pajakflow/tax-docs-service/internal/security"
	"github.com/pajakflow/tax-docs-service/internal/vault"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*models.Batch
	files   map[uuid.UUID][]*models.DocumentFile
	results map[uuid.UUID]*models.ScanResult
	logs    map[uuid.UUID][]models.ProcessingLog
}

func newMemStore() *memStore {
	return &memStore{
		batches: make(map[uuid.UUID]*models.Batch),
		files:   make(map[uuid.UUID][]*models.DocumentFile),
		results: make(map[uuid.UUID]*models.ScanResult),
		logs:    make(map[uuid.UUID][]models.ProcessingLog),
	}
}

func (s *memStore) CreateBatch(_ context.Context, b *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *memStore) GetBatch(_ context.Context, id uuid.UUID) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) ListBatchesForUser(_ context.Context, userID uuid.UUID, _ int) ([]models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Batch
	for _, b := range s.batches {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *memStore) IncrementProcessedFiles(_ context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batchID].ProcessedFiles++
	return nil
}

func (s *memStore) FinishBatch(_ context.Context, batchID uuid.UUID, status models.BatchStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[batchID]
	if b.Status != models.BatchProcessing {
		// Mirrors the SQL guard: terminal states are written exactly once.
		return nil
	}
	now := time.Now()
	b.Status = status
	b.CompletedAt = &now
	b.ErrorMessage = errMsg
	return nil
}

func (s *memStore) CreateDocumentFile(_ context.Context, f *models.DocumentFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.files[f.BatchID] = append(s.files[f.BatchID], &cp)
	return nil
}

func (s *memStore) ListDocumentFiles(_ context.Context, batchID uuid.UUID) ([]models.DocumentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DocumentFile
	for _, f := range s.files[batchID] {
		out = append(out, *f)
	}
	return out, nil
}

func (s *memStore) setFileStatus(fileID uuid.UUID, status models.FileStatus, resultID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, files := range s.files {
		for _, f := range files {
			if f.ID == fileID {
				f.Status = status
				if resultID != nil {
					f.ResultID = resultID
				}
				return nil
			}
		}
	}
	return pgx.ErrNoRows
}

func (s *memStore) MarkFileProcessing(_ context.Context, fileID uuid.UUID) error {
	return s.setFileStatus(fileID, models.FileProcessing, nil)
}

func (s *memStore) MarkFileCompleted(_ context.Context, fileID, resultID uuid.UUID) error {
	return s.setFileStatus(fileID, models.FileCompleted, &resultID)
}

func (s *memStore) MarkFileFailed(_ context.Context, fileID uuid.UUID) error {
	return s.setFileStatus(fileID, models.FileFailed, nil)
}

func (s *memStore) CreateScanResult(_ context.Context, r *models.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.ID] = &cp
	return nil
}

func (s *memStore) GetScanResult(_ context.Context, id uuid.UUID) (*models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListScanResults(_ context.Context, batchID uuid.UUID) ([]models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScanResult
	for _, r := range s.results {
		if r.BatchID == batchID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) AddProcessingLog(_ context.Context, batchID uuid.UUID, level models.LogLevel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[batchID] = append(s.logs[batchID], models.ProcessingLog{
		BatchID: batchID, Level: level, Message: message,
	})
	return nil
}

func (s *memStore) logCount(batchID uuid.UUID, level models.LogLevel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs[batchID] {
		if l.Level == level {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, path string) (*ocr.Result, error)
}

func (g *fakeGateway) ExtractText(_ context.Context, path string) (*ocr.Result, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	if g.fn != nil {
		return g.fn(call, path)
	}
	return &ocr.Result{RawText: "FAKTUR PAJAK\nPT A\nPT B", Confidence: 95, EngineUsed: "tesseract"}, nil
}

type fakeMapper struct {
	payload map[string]interface{}
	conf    float64
	err     error
}

func (m *fakeMapper) ExtractFromText(context.Context, string, string, map[string]interface{}) (map[string]interface{}, float64, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.payload, m.conf, nil
}

func (m *fakeMapper) ProviderName() string { return "openai" }

type fakeBank struct{ outcome *hybrid.Outcome }

func (b *fakeBank) Process(context.Context, *ocr.Result) (*hybrid.Outcome, error) {
	return b.outcome, nil
}

func pngUpload(name, docType string) Upload {
	sig := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	return Upload{
		Filename:     name,
		DeclaredMime: "image/png",
		DeclaredType: docType,
		Data:         append(sig, bytes.Repeat([]byte{0}, 128)...),
	}
}

func pdfUpload(name, docType string, size int) Upload {
	data := []byte("%PDF-1.4\n1 0 obj << /Type /Page >> endobj\n")
	if pad := size - len(data); pad > 0 {
		data = append(data, bytes.Repeat([]byte{' '}, pad)...)
	}
	return Upload{Filename: name, DeclaredMime: "application/pdf", DeclaredType: docType, Data: data}
}

func testConfig() *models.Config {
	cfg := &models.Config{}
	cfg.Defaults()
	cfg.Uploads.MaxFileSizeMB = 1
	cfg.AI.UseSmartMapper = true
	return cfg
}

func newTestOrchestrator(t *testing.T, store Store, gw Gateway, mapper SmartMapper, bank BankProcessor) *Orchestrator {
	t.Helper()
	cfg := testConfig()
	v, err := vault.New(t.TempDir())
	require.NoError(t, err)
	validator := security.NewValidator(cfg.Uploads, nil)
	return NewOrchestrator(store, v, validator, gw, parsers.NewRegistry(), bank, mapper, NewBus(), cfg)
}

func TestFakturHappyPath(t *testing.T) {
	store := newMemStore()
	mapper := &fakeMapper{
		payload: map[string]interface{}{
			"seller":     map[string]interface{}{"name": "PT A"},
			"buyer":      map[string]interface{}{"name": "PT B"},
			"financials": map[string]interface{}{"dpp": "1.000.000", "ppn": "110.000", "total": "1.110.000"},
		},
		conf: 0.95,
	}
	o := newTestOrchestrator(t, store, &fakeGateway{}, mapper, nil)
	userID := uuid.New()

	batch, issues, err := o.SubmitBatch(context.Background(), userID, []Upload{
		pngUpload("faktur.png", models.DocFakturPajak),
	})
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Equal(t, models.BatchProcessing, batch.Status)

	require.NoError(t, o.ProcessBatch(context.Background(), batch.ID))

	final, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, final.Status)
	assert.Equal(t, 1, final.ProcessedFiles)

	results, err := store.ListScanResults(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, models.DocFakturPajak, res.DocumentType)
	assert.Equal(t, 0.95, res.Confidence)
	assert.Equal(t, "tesseract+openai", res.EngineUsed)
	mapped, _ := res.ExtractedData["smart_mapped"].(map[string]interface{})
	require.NotNil(t, mapped)
	financials, _ := mapped["financials"].(map[string]interface{})
	assert.Equal(t, "1.110.000", financials["total"])
}

func TestMixedBatchPartialCompletion(t *testing.T) {
	store := newMemStore()
	outcome := &hybrid.Outcome{Confidence: 0.92}
	o := newTestOrchestrator(t, store, &fakeGateway{}, &fakeMapper{payload: map[string]interface{}{}, conf: 0.9}, &fakeBank{outcome: outcome})
	userID := uuid.New()

	batch, issues, err := o.SubmitBatch(context.Background(), userID, []Upload{
		pngUpload("faktur.png", models.DocFakturPajak),
		pdfUpload("huge.pdf", models.DocFakturPajak, 2*1024*1024),
		pdfUpload("rekening.pdf", models.DocRekeningKoran, 4096),
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "huge.pdf", issues[0].Filename)

	require.NoError(t, o.ProcessBatch(context.Background(), batch.ID))

	final, _ := store.GetBatch(context.Background(), batch.ID)
	assert.Equal(t, models.BatchPartial, final.Status)
	assert.Equal(t, 3, final.ProcessedFiles)

	results, _ := store.ListScanResults(context.Background(), batch.ID)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, store.logCount(batch.ID, models.LogWarning))

	// Batch accounting: processedFiles equals terminal file rows.
	files, _ := store.ListDocumentFiles(context.Background(), batch.ID)
	terminal := 0
	for _, f := range files {
		if f.Status == models.FileCompleted || f.Status == models.FileFailed {
			terminal++
		}
	}
	assert.Equal(t, final.ProcessedFiles, terminal)
}

func TestAllFilesRejected(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, store, &fakeGateway{}, nil, nil)

	batch, issues, err := o.SubmitBatch(context.Background(), uuid.New(), []Upload{
		{Filename: "evil.exe", DeclaredType: models.DocInvoice, Data: bytes.Repeat([]byte{0x4D, 0x5A}, 64)},
	})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, models.BatchFailed, batch.Status)
}

func TestCancellationBetweenFiles(t *testing.T) {
	store := newMemStore()
	var o *Orchestrator
	gw := &fakeGateway{fn: func(call int, _ string) (*ocr.Result, error) {
		if call == 3 {
			// Cancel arrives while file 3 is in OCR; it is observed before
			// file 4 starts.
			o.Cancel(batchIDOf(store))
		}
		return &ocr.Result{RawText: "FAKTUR PAJAK", Confidence: 90, EngineUsed: "tesseract"}, nil
	}}
	o = newTestOrchestrator(t, store, gw, nil, nil)

	var uploads []Upload
	for i := 0; i < 10; i++ {
		uploads = append(uploads, pngUpload(fmt.Sprintf("f%02d.png", i), models.DocFakturPajak))
	}
	batch, _, err := o.SubmitBatch(context.Background(), uuid.New(), uploads)
	require.NoError(t, err)

	events, cancelSub := o.Bus().Subscribe(batch.ID)
	defer cancelSub()

	require.NoError(t, o.ProcessBatch(context.Background(), batch.ID))

	final, _ := store.GetBatch(context.Background(), batch.ID)
	assert.Equal(t, models.BatchCancelled, final.Status)

	results, _ := store.ListScanResults(context.Background(), batch.ID)
	assert.Len(t, results, 3)

	// Exactly one terminal event, carrying the cancelled status.
	terminalEvents := 0
	for {
		select {
		case evt := <-events:
			if evt.Type == EventBatchComplete || evt.Type == EventBatchError {
				terminalEvents++
				assert.Equal(t, string(models.BatchCancelled), evt.Status)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, terminalEvents)

	// Reprocessing a terminal batch is a no-op.
	require.NoError(t, o.ProcessBatch(context.Background(), batch.ID))
	again, _ := store.GetBatch(context.Background(), batch.ID)
	assert.Equal(t, models.BatchCancelled, again.Status)
	assert.Equal(t, 3, again.ProcessedFiles)
}

func batchIDOf(store *memStore) uuid.UUID {
	store.mu.Lock()
	defer store.mu.Unlock()
	for id := range store.batches {
		return id
	}
	return uuid.Nil
}

// Structured extraction failure is non-fatal: the raw envelope still ships.
func TestMapperFailureKeepsEnvelope(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, store, &fakeGateway{}, &fakeMapper{err: fmt.Errorf("provider down")}, nil)

	batch, _, err := o.SubmitBatch(context.Background(), uuid.New(), []Upload{
		pngUpload("faktur.png", models.DocFakturPajak),
	})
	require.NoError(t, err)
	require.NoError(t, o.ProcessBatch(context.Background(), batch.ID))

	final, _ := store.GetBatch(context.Background(), batch.ID)
	assert.Equal(t, models.BatchCompleted, final.Status)

	results, _ := store.ListScanResults(context.Background(), batch.ID)
	require.Len(t, results, 1)
	assert.Equal(t, "tesseract", results[0].EngineUsed)
	assert.NotContains(t, results[0].ExtractedData, "smart_mapped")
	assert.NotEmpty(t, results[0].ExtractedData["raw_text"])
	assert.Equal(t, 1, store.logCount(batch.ID, models.LogWarning))
}

// flakyStore injects storage failures into the per-file loop.
type flakyStore struct {
	*memStore
	failIncrement bool
}

func (s *flakyStore) IncrementProcessedFiles(ctx context.Context, batchID uuid.UUID) error {
	if s.failIncrement {
		return fmt.Errorf("connection reset")
	}
	return s.memStore.IncrementProcessedFiles(ctx, batchID)
}

// A storage error mid-loop must not strand the batch in processing: it goes
// to failed and subscribers get a batch_error event.
func TestStorageErrorFailsBatch(t *testing.T) {
	store := &flakyStore{memStore: newMemStore(), failIncrement: true}
	o := newTestOrchestrator(t, store, &fakeGateway{}, nil, nil)

	batch, _, err := o.SubmitBatch(context.Background(), uuid.New(), []Upload{
		pngUpload("faktur.png", models.DocFakturPajak),
	})
	require.NoError(t, err)

	events, cancelSub := o.Bus().Subscribe(batch.ID)
	defer cancelSub()

	err = o.ProcessBatch(context.Background(), batch.ID)
	require.ErrorContains(t, err, "connection reset")

	final, _ := store.GetBatch(context.Background(), batch.ID)
	assert.Equal(t, models.BatchFailed, final.Status)
	assert.NotEmpty(t, final.ErrorMessage)

	errorEvents := 0
	for {
		select {
		case evt := <-events:
			if evt.Type == EventBatchError {
				errorEvents++
				assert.Equal(t, string(models.BatchFailed), evt.Status)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, errorEvents)
}

// A panic inside the worker is converted into the same failure path.
func TestWorkerPanicFailsBatch(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{fn: func(int, string) (*ocr.Result, error) {
		panic("corrupt artifact")
	}}
	o := newTestOrchestrator(t, store, gw, nil, nil)

	batch, _, err := o.SubmitBatch(context.Background(), uuid.New(), []Upload{
		pngUpload("faktur.png", models.DocFakturPajak),
	})
	require.NoError(t, err)

	err = o.ProcessBatch(context.Background(), batch.ID)
	require.ErrorContains(t, err, "panic")

	final, _ := store.GetBatch(context.Background(), batch.ID)
	assert.Equal(t, models.BatchFailed, final.Status)
}

func TestOwnershipChecks(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, store, &fakeGateway{}, nil, nil)
	owner := uuid.New()
	stranger := uuid.New()

	batch, _, err := o.SubmitBatch(context.Background(), owner, []Upload{
		pngUpload("faktur.png", models.DocFakturPajak),
	})
	require.NoError(t, err)

	_, err = o.GetBatch(context.Background(), stranger, false, batch.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Admins bypass ownership.
	_, err = o.GetBatch(context.Background(), stranger, true, batch.ID)
	assert.NoError(t, err)

	_, err = o.GetBatchResults(context.Background(), stranger, false, batch.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	err = o.CancelBatch(context.Background(), stranger, false, batch.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}
