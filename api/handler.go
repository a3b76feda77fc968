// Package api exposes the HTTP surface: authentication, uploads, batch
// queries, exports, reconciliation, and the progress WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/pajakflow/tax-docs-service/internal/archive"
	"github.com/pajakflow/tax-docs-service/internal/auth"
	"github.com/pajakflow/tax-docs-service/internal/db"
	"github.com/pajakflow/tax-docs-service/internal/export"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/pipeline"
	"github.com/pajakflow/tax-docs-service/internal/recon"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Stable error codes surfaced in the uniform error envelope.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeSecurity     = "SECURITY_REJECTED"
	CodeOCRFailed    = "OCR_FAILED"
	CodeExtraction   = "EXTRACTION_FAILED"
	CodeStorage      = "STORAGE_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeRateLimited  = "RATE_LIMITED"
	CodeCancelled    = "BATCH_CANCELLED"
)

// Handler holds the wired services behind the HTTP routes.
type Handler struct {
	cfg   *models.Config
	auth  *auth.Service
	orch  *pipeline.Orchestrator
	recon *recon.Engine

	log *logrus.Entry
}

// NewHandler wires the HTTP layer. recon may be nil when reconciliation is
// disabled.
func NewHandler(cfg *models.Config, authSvc *auth.Service, orch *pipeline.Orchestrator, engine *recon.Engine) *Handler {
	return &Handler{
		cfg:   cfg,
		auth:  authSvc,
		orch:  orch,
		recon: engine,
		log:   logger.WithComponent("api"),
	}
}

// SetupRoutes builds the router with middleware applied.
func (h *Handler) SetupRoutes() http.Handler {
	r := mux.NewRouter()
	r.Use(securityHeaders(h.cfg.Environment == "production"))

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/register", perIPLimit(rateRegister, http.HandlerFunc(h.Register))).Methods("POST")
	r.Handle("/login", perIPLimit(rateLogin, http.HandlerFunc(h.Login))).Methods("POST")

	protected := r.NewRoute().Subrouter()
	protected.Use(auth.Middleware)

	protected.Handle("/upload", perIPLimit(rateUpload, http.HandlerFunc(h.Upload))).Methods("POST")
	protected.HandleFunc("/batches", h.ListBatches).Methods("GET")
	protected.HandleFunc("/batches/{id}", h.GetBatch).Methods("GET")
	protected.HandleFunc("/batches/{id}/results", h.GetBatchResults).Methods("GET")
	protected.HandleFunc("/batches/{id}/export/{format}", h.ExportBatch).Methods("GET")
	protected.HandleFunc("/batches/{id}/cancel", h.CancelBatch).Methods("POST")
	protected.HandleFunc("/results/{id}", h.GetResult).Methods("GET")
	protected.HandleFunc("/ws/batch/{id}", h.BatchProgressWS).Methods("GET")

	if h.recon != nil {
		h.reconRoutes(protected)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   h.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (h *Handler) corsOrigins() []string {
	if len(h.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return h.cfg.CORSOrigins
}

// sendError writes the uniform error envelope.
func (h *Handler) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":     message,
		"errorCode": code,
	})
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("response encode failed")
	}
}

// sendLookupError maps service errors onto the envelope: ownership failures
// become 403, missing rows 404, everything else 500.
func (h *Handler) sendLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrForbidden) || errors.Is(err, recon.ErrForbidden):
		h.sendError(w, http.StatusForbidden, CodeForbidden, "you do not own this resource")
	case errors.Is(err, pgx.ErrNoRows):
		h.sendError(w, http.StatusNotFound, CodeNotFound, "resource not found")
	default:
		h.sendError(w, http.StatusInternalServerError, CodeStorage, err.Error())
	}
}

func (h *Handler) claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.sendError(w, http.StatusUnauthorized, CodeUnauthorized, "missing authentication")
	}
	return claims, ok
}

func pathID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[key])
}

// readAll reads at most limit bytes; exceeding it is an error.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("size limit exceeded")
	}
	return data, nil
}

// --- health ---

// ServiceStatus describes one dependency in the health report.
type ServiceStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Memory    MemoryStats              `json:"memory"`
}

// MemoryStats reports coarse process memory usage.
type MemoryStats struct {
	AllocMB      uint64 `json:"alloc_mb"`
	SysMB        uint64 `json:"sys_mb"`
	NumGoroutine int    `json:"num_goroutine"`
}

// Health reports the status of the service and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	services := map[string]ServiceStatus{
		"tesseract":   checkTesseract(),
		"database":    checkDatabase(r.Context()),
		"uploads_dir": checkDir(h.cfg.Dirs.Uploads),
		"archive":     checkArchive(),
	}

	overall := "healthy"
	for name, s := range services {
		if s.Status == "down" && name != "archive" && name != "tesseract" {
			overall = "degraded"
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.sendJSON(w, status, HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Services:  services,
		Memory: MemoryStats{
			AllocMB:      m.Alloc / 1024 / 1024,
			SysMB:        m.Sys / 1024 / 1024,
			NumGoroutine: runtime.NumGoroutine(),
		},
	})
}

func checkTesseract() ServiceStatus {
	out, err := exec.Command("tesseract", "--version").Output()
	if err != nil {
		return ServiceStatus{Status: "down", Message: "tesseract not available"}
	}
	version := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	return ServiceStatus{Status: "up", Message: version}
}

func checkDatabase(ctx context.Context) ServiceStatus {
	if db.Pool == nil {
		return ServiceStatus{Status: "down", Message: "pool not initialized"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.Pool.Ping(ctx); err != nil {
		return ServiceStatus{Status: "down", Message: err.Error()}
	}
	return ServiceStatus{Status: "up"}
}

func checkDir(dir string) ServiceStatus {
	probe := filepath.Join(dir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return ServiceStatus{Status: "down", Message: err.Error()}
	}
	os.Remove(probe)
	return ServiceStatus{Status: "up"}
}

func checkArchive() ServiceStatus {
	if !archive.Enabled() {
		return ServiceStatus{Status: "disabled"}
	}
	return ServiceStatus{Status: "up"}
}

// --- auth ---

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// Register creates an account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	user, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password, req.FullName)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	h.sendJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies credentials and returns a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	token, user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// --- uploads and batches ---

type uploadedFileInfo struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Status string    `json:"status"`
}

// Upload accepts a multipart batch of files[] with parallel document_types[].
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}

	maxBytes := int64(h.cfg.Uploads.MaxFileSizeMB) * 1024 * 1024 * int64(h.cfg.Uploads.MaxFilesPerBatch)
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid multipart request: "+err.Error())
		return
	}

	files := r.MultipartForm.File["files[]"]
	types := r.MultipartForm.Value["document_types[]"]
	if len(files) == 0 {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "no files provided")
		return
	}
	if len(files) != len(types) {
		h.sendError(w, http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("files[] and document_types[] must have equal length (%d vs %d)", len(files), len(types)))
		return
	}

	uploads := make([]pipeline.Upload, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.sendError(w, http.StatusBadRequest, CodeValidation, "unreadable file: "+fh.Filename)
			return
		}
		data, err := readAll(f, int64(h.cfg.Uploads.MaxFileSizeMB)*1024*1024)
		f.Close()
		if err != nil {
			h.sendError(w, http.StatusRequestEntityTooLarge, CodeValidation,
				fmt.Sprintf("file %q exceeds %d MB", fh.Filename, h.cfg.Uploads.MaxFileSizeMB))
			return
		}
		uploads = append(uploads, pipeline.Upload{
			Filename:     fh.Filename,
			DeclaredMime: fh.Header.Get("Content-Type"),
			DeclaredType: types[i],
			Data:         data,
		})
	}

	batch, issues, err := h.orch.SubmitBatch(r.Context(), claims.UserID, uploads)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	if batch.Status == models.BatchProcessing {
		h.orch.Go(batch.ID)
	}

	fileRows, err := h.orch.ListBatchFiles(r.Context(), claims.UserID, claims.IsAdmin, batch.ID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	fileInfos := make([]uploadedFileInfo, len(fileRows))
	for i := range fileRows {
		status := string(models.FileProcessing)
		if fileRows[i].Status == models.FileFailed {
			status = string(models.FileFailed)
		}
		fileInfos[i] = uploadedFileInfo{
			ID:     fileRows[i].ID,
			Name:   fileRows[i].DisplayName,
			Type:   fileRows[i].DeclaredType,
			Status: status,
		}
	}
	h.sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"batchId":    batch.ID,
		"files":      fileInfos,
		"status":     batch.Status,
		"createdAt":  batch.CreatedAt,
		"totalFiles": batch.TotalFiles,
		"issues":     issues,
	})
}

// ListBatches returns the caller's batches, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	batches, err := h.orch.ListBatches(r.Context(), claims.UserID, 100)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, batches)
}

// GetBatch returns one batch with progress.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	batchID, err := pathID(r, "id")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid batch id")
		return
	}
	batch, err := h.orch.GetBatch(r.Context(), claims.UserID, claims.IsAdmin, batchID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":                 batch.ID,
		"status":             batch.Status,
		"totalFiles":         batch.TotalFiles,
		"processedFiles":     batch.ProcessedFiles,
		"progressPercentage": batch.ProgressPercentage(),
		"createdAt":          batch.CreatedAt,
		"completedAt":        batch.CompletedAt,
		"errorMessage":       batch.ErrorMessage,
	})
}

// GetBatchResults returns the batch's scan results.
func (h *Handler) GetBatchResults(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	batchID, err := pathID(r, "id")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid batch id")
		return
	}
	results, err := h.orch.GetBatchResults(r.Context(), claims.UserID, claims.IsAdmin, batchID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, results)
}

// GetResult returns one scan result.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	resultID, err := pathID(r, "id")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid result id")
		return
	}
	result, err := h.orch.GetResult(r.Context(), claims.UserID, claims.IsAdmin, resultID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

// CancelBatch flags a running batch for cooperative cancellation.
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	batchID, err := pathID(r, "id")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid batch id")
		return
	}
	if err := h.orch.CancelBatch(r.Context(), claims.UserID, claims.IsAdmin, batchID); err != nil {
		if errors.Is(err, pipeline.ErrForbidden) || errors.Is(err, pgx.ErrNoRows) {
			h.sendLookupError(w, err)
			return
		}
		h.sendError(w, http.StatusConflict, CodeCancelled, err.Error())
		return
	}
	h.sendJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

// ExportBatch streams batch results as a spreadsheet download.
func (h *Handler) ExportBatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	batchID, err := pathID(r, "id")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid batch id")
		return
	}
	format := mux.Vars(r)["format"]
	switch format {
	case "excel", "csv":
	case "pdf":
		h.sendError(w, http.StatusBadRequest, CodeValidation, "pdf export is not supported; use excel or csv")
		return
	default:
		h.sendError(w, http.StatusBadRequest, CodeValidation, "format must be excel or csv")
		return
	}

	results, err := h.orch.GetBatchResults(r.Context(), claims.UserID, claims.IsAdmin, batchID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	rows := export.BuildRows(results)

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch_%s.csv", batchID))
		if err := export.WriteCSV(w, rows); err != nil {
			h.log.WithError(err).Error("csv export failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch_%s.xlsx", batchID))
	if err := export.WriteXLSX(w, rows); err != nil {
		h.log.WithError(err).Error("excel export failed")
	}
}
