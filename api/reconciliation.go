package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pajakflow/tax-docs-service/internal/auth"
	"github.com/pajakflow/tax-docs-service/internal/recon"
)

// reconRoutes registers the reconciliation endpoints on the authenticated
// subrouter.
func (h *Handler) reconRoutes(r *mux.Router) {
	r.HandleFunc("/projects", h.CreateProject).Methods("POST")
	r.HandleFunc("/projects/{id}", h.GetProject).Methods("GET")
	r.HandleFunc("/projects/{id}/invoices", h.ListProjectInvoices).Methods("GET")
	r.HandleFunc("/projects/{id}/transactions", h.ListProjectTransactions).Methods("GET")
	r.HandleFunc("/projects/{id}/import/invoices", h.ImportInvoices).Methods("POST")
	r.HandleFunc("/projects/{id}/import/transactions", h.ImportTransactions).Methods("POST")
	r.HandleFunc("/projects/{id}/automatch", h.AutoMatch).Methods("POST")
	r.HandleFunc("/projects/{id}/ppn-reconcile", h.PPNReconcile).Methods("POST")
	r.HandleFunc("/projects/{id}/ai-hints", h.ExtractHints).Methods("POST")
	r.HandleFunc("/projects/{id}/invoices/{invoiceId}/suggestions", h.SuggestMatches).Methods("GET")
	r.HandleFunc("/projects/{id}/matches", h.ManualMatch).Methods("POST")
	r.HandleFunc("/projects/{id}/matches/{matchId}/unmatch", h.Unmatch).Methods("POST")
}

type createProjectRequest struct {
	Name        string `json:"name"`
	CompanyNpwp string `json:"companyNpwp"`
	PeriodStart string `json:"periodStart"`
	PeriodEnd   string `json:"periodEnd"`
}

const dateLayout = "2006-01-02"

// CreateProject opens a reconciliation project for the caller.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "project name is required")
		return
	}
	start, err := time.Parse(dateLayout, req.PeriodStart)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "periodStart must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(dateLayout, req.PeriodEnd)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "periodEnd must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "periodEnd is before periodStart")
		return
	}

	project, err := h.recon.CreateProject(r.Context(), claims.UserID, req.Name, req.CompanyNpwp, start, end)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, project)
}

// GetProject returns one project with its counters.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	project, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, project)
}

// ListProjectInvoices returns the project's imported invoices.
func (h *Handler) ListProjectInvoices(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	invoices, err := h.recon.ListInvoices(r.Context(), claims.UserID, claims.IsAdmin, projectID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, invoices)
}

// ListProjectTransactions returns the project's imported transactions.
func (h *Handler) ListProjectTransactions(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	transactions, err := h.recon.ListTransactions(r.Context(), claims.UserID, claims.IsAdmin, projectID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, transactions)
}

type importRequest struct {
	BatchID uuid.UUID `json:"batchId"`
}

// ImportInvoices copies invoice extractions from a processed batch.
func (h *Handler) ImportInvoices(w http.ResponseWriter, r *http.Request) {
	h.runImport(w, r, h.recon.ImportInvoicesFromBatch)
}

// ImportTransactions copies normalized statement rows from a processed batch.
func (h *Handler) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	h.runImport(w, r, h.recon.ImportTransactionsFromBatch)
}

func (h *Handler) runImport(w http.ResponseWriter, r *http.Request,
	importFn func(ctx context.Context, projectID, batchID uuid.UUID) (*recon.ImportSummary, error)) {

	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BatchID == uuid.Nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "batchId is required")
		return
	}

	// Both the project and the source batch must belong to the caller.
	if _, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID); err != nil {
		h.sendLookupError(w, err)
		return
	}
	if _, err := h.orch.GetBatch(r.Context(), claims.UserID, claims.IsAdmin, req.BatchID); err != nil {
		h.sendLookupError(w, err)
		return
	}

	summary, err := importFn(r.Context(), projectID, req.BatchID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, summary)
}

// AutoMatch runs greedy matching over the project's unmatched rows.
func (h *Handler) AutoMatch(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	if _, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID); err != nil {
		h.sendLookupError(w, err)
		return
	}
	matches, err := h.recon.AutoMatch(r.Context(), projectID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"matched": len(matches),
		"matches": matches,
	})
}

// PPNReconcile runs the VAT-centric variant: auto-split then the two legs.
func (h *Handler) PPNReconcile(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	if _, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID); err != nil {
		h.sendLookupError(w, err)
		return
	}
	result, err := h.recon.PPNReconcile(r.Context(), projectID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

// ExtractHints backfills vendor/invoice hints on unmatched transactions.
func (h *Handler) ExtractHints(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	if _, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID); err != nil {
		h.sendLookupError(w, err)
		return
	}
	updated, err := h.recon.AIExtractVendorHints(r.Context(), projectID)
	if err != nil {
		h.sendError(w, http.StatusBadGateway, CodeExtraction, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// SuggestMatches returns ranked transaction candidates for one invoice.
func (h *Handler) SuggestMatches(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	invoiceID, err := pathID(r, "invoiceId")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid invoice id")
		return
	}
	if _, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID); err != nil {
		h.sendLookupError(w, err)
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	suggestions, err := h.recon.SuggestMatches(r.Context(), projectID, invoiceID, k)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, suggestions)
}

type manualMatchRequest struct {
	InvoiceID     uuid.UUID `json:"invoiceId"`
	TransactionID uuid.UUID `json:"transactionId"`
}

// ManualMatch asserts an invoice-transaction pair chosen by the user.
func (h *Handler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	var req manualMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.InvoiceID == uuid.Nil || req.TransactionID == uuid.Nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invoiceId and transactionId are required")
		return
	}
	if _, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID); err != nil {
		h.sendLookupError(w, err)
		return
	}
	match, err := h.recon.ManualMatch(r.Context(), projectID, req.InvoiceID, req.TransactionID)
	if err != nil {
		h.sendError(w, http.StatusConflict, CodeValidation, err.Error())
		return
	}
	h.sendJSON(w, http.StatusCreated, match)
}

type unmatchRequest struct {
	Reason string `json:"reason"`
}

// Unmatch rejects a match and returns both sides to unmatched.
func (h *Handler) Unmatch(w http.ResponseWriter, r *http.Request) {
	claims, projectID, ok := h.projectAccess(w, r)
	if !ok {
		return
	}
	matchID, err := pathID(r, "matchId")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid match id")
		return
	}
	var req unmatchRequest
	json.NewDecoder(r.Body).Decode(&req)

	if _, err := h.recon.GetProject(r.Context(), claims.UserID, claims.IsAdmin, projectID); err != nil {
		h.sendLookupError(w, err)
		return
	}
	if err := h.recon.Unmatch(r.Context(), matchID, req.Reason); err != nil {
		h.sendError(w, http.StatusConflict, CodeValidation, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "unmatched"})
}

// projectAccess extracts the claims and project id shared by every
// reconciliation handler.
func (h *Handler) projectAccess(w http.ResponseWriter, r *http.Request) (*auth.Claims, uuid.UUID, bool) {
	claims, ok := h.claims(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}
	projectID, err := pathID(r, "id")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid project id")
		return nil, uuid.Nil, false
	}
	return claims, projectID, true
}
