package recon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Store is the persistence surface the engine needs.
type Store interface {
	CreateProject(ctx context.Context, p *models.ReconciliationProject) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.ReconciliationProject, error)
	RecomputeProjectCounters(ctx context.Context, projectID uuid.UUID) error

	CreateTaxInvoice(ctx context.Context, inv *models.TaxInvoice) error
	InvoiceExistsForScan(ctx context.Context, projectID, scanResultID uuid.UUID) (bool, error)
	ListInvoices(ctx context.Context, projectID uuid.UUID) ([]models.TaxInvoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*models.TaxInvoice, error)
	UpdateInvoiceType(ctx context.Context, id uuid.UUID, t models.InvoiceType) error

	CreateBankTransaction(ctx context.Context, t *models.BankTransaction) error
	TransactionExists(ctx context.Context, projectID uuid.UUID, scanResultID *uuid.UUID, date time.Time, description string) (bool, error)
	ListTransactions(ctx context.Context, projectID uuid.UUID) ([]models.BankTransaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error)
	UpdateTransactionExtraction(ctx context.Context, id uuid.UUID, vendor, invoiceNumber string) error

	CreateMatch(ctx context.Context, m *models.ReconciliationMatch, status models.MatchStatus) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.ReconciliationMatch, error)
	RejectMatch(ctx context.Context, m *models.ReconciliationMatch, reason string) error

	GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	ListScanResults(ctx context.Context, batchID uuid.UUID) ([]models.ScanResult, error)
}

// HintExtractor pulls vendor/invoice hints out of transaction descriptions.
type HintExtractor interface {
	ExtractVendorHints(ctx context.Context, descriptions []string) ([]models.TransactionHint, error)
}

// Engine exposes project, import, and matching operations.
type Engine struct {
	store Store
	hints HintExtractor // may be nil

	minConfidence float64
	log           *logrus.Entry
}

// NewEngine builds the engine. hints may be nil when no AI provider is
// configured.
func NewEngine(store Store, hints HintExtractor, minConfidence float64) *Engine {
	if minConfidence <= 0 {
		minConfidence = 0.70
	}
	return &Engine{
		store:         store,
		hints:         hints,
		minConfidence: minConfidence,
		log:           logger.WithComponent("recon"),
	}
}

// CreateProject persists a new project owned by userID.
func (e *Engine) CreateProject(ctx context.Context, userID uuid.UUID, name, companyNpwp string, periodStart, periodEnd time.Time) (*models.ReconciliationProject, error) {
	p := &models.ReconciliationProject{
		UserID:      userID,
		Name:        name,
		CompanyNpwp: companyNpwp,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      "active",
	}
	if err := e.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject enforces ownership.
func (e *Engine) GetProject(ctx context.Context, userID uuid.UUID, isAdmin bool, projectID uuid.UUID) (*models.ReconciliationProject, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID && !isAdmin {
		return nil, ErrForbidden
	}
	return p, nil
}

// ErrForbidden rejects cross-user access.
var ErrForbidden = fmt.Errorf("not the owner of this resource")

// ListInvoices returns the project's invoices after an ownership check.
func (e *Engine) ListInvoices(ctx context.Context, userID uuid.UUID, isAdmin bool, projectID uuid.UUID) ([]models.TaxInvoice, error) {
	if _, err := e.GetProject(ctx, userID, isAdmin, projectID); err != nil {
		return nil, err
	}
	return e.store.ListInvoices(ctx, projectID)
}

// ListTransactions returns the project's transactions after an ownership check.
func (e *Engine) ListTransactions(ctx context.Context, userID uuid.UUID, isAdmin bool, projectID uuid.UUID) ([]models.BankTransaction, error) {
	if _, err := e.GetProject(ctx, userID, isAdmin, projectID); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, projectID)
}

// AutoMatch greedily assigns unmatched invoices to their best-scoring
// unmatched transaction at or above minConfidence. Invoices are visited in
// import order; a transaction consumed by a match is skipped afterwards.
func (e *Engine) AutoMatch(ctx context.Context, projectID uuid.UUID) ([]models.ReconciliationMatch, error) {
	invoices, err := e.store.ListInvoices(ctx, projectID)
	if err != nil {
		return nil, err
	}
	transactions, err := e.store.ListTransactions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	matches, err := e.matchSets(ctx, projectID, invoices, transactions, nil)
	if err != nil {
		return nil, err
	}
	if err := e.store.RecomputeProjectCounters(ctx, projectID); err != nil {
		return nil, err
	}
	return matches, nil
}

// matchSets runs greedy assignment over the given invoice and transaction
// slices. filter, when non-nil, restricts which transactions an invoice may
// consider.
func (e *Engine) matchSets(ctx context.Context, projectID uuid.UUID,
	invoices []models.TaxInvoice, transactions []models.BankTransaction,
	filter func(*models.TaxInvoice, *models.BankTransaction) bool) ([]models.ReconciliationMatch, error) {

	consumed := make(map[uuid.UUID]bool)
	var created []models.ReconciliationMatch

	for i := range invoices {
		inv := &invoices[i]
		if inv.MatchStatus != models.MatchUnmatched {
			continue
		}

		var best *models.BankTransaction
		var bestScore Score
		for j := range transactions {
			txn := &transactions[j]
			if txn.MatchStatus != models.MatchUnmatched || consumed[txn.ID] {
				continue
			}
			if filter != nil && !filter(inv, txn) {
				continue
			}
			s := ScorePair(inv, txn)
			if s.Total < e.minConfidence {
				continue
			}
			if best == nil || s.Total > bestScore.Total {
				best = txn
				bestScore = s
			}
		}
		if best == nil {
			continue
		}

		m := buildMatch(projectID, inv.ID, best.ID, "auto", bestScore)
		if err := e.store.CreateMatch(ctx, &m, models.MatchAutoMatched); err != nil {
			return nil, err
		}
		consumed[best.ID] = true
		created = append(created, m)

		e.log.WithFields(logrus.Fields{
			"invoice":     inv.InvoiceNumber,
			"transaction": best.ID,
			"score":       bestScore.Total,
			"band":        Band(bestScore.Total),
		}).Debug("auto match created")
	}
	return created, nil
}

func buildMatch(projectID, invoiceID, transactionID uuid.UUID, matchType string, s Score) models.ReconciliationMatch {
	return models.ReconciliationMatch{
		ProjectID:        projectID,
		InvoiceID:        invoiceID,
		TransactionID:    transactionID,
		MatchType:        matchType,
		MatchScore:       s.Total,
		AmountVariance:   s.AmountVariance,
		DateVarianceDays: s.DateVarianceDays,
		AmountScore:      s.Amount,
		DateScore:        s.Date,
		VendorScore:      s.Vendor,
		ReferenceScore:   s.Reference,
		Confirmed:        matchType == "manual",
	}
}

// Suggestion is one ranked candidate for a manual-review workflow.
type Suggestion struct {
	Transaction models.BankTransaction `json:"transaction"`
	Score       Score                  `json:"score"`
	Band        string                 `json:"band"`
}

// SuggestMatches returns the top k unmatched transactions for one invoice,
// ranked by score. Candidates below the low band are omitted.
func (e *Engine) SuggestMatches(ctx context.Context, projectID, invoiceID uuid.UUID, k int) ([]Suggestion, error) {
	if k <= 0 {
		k = 5
	}
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.ProjectID != projectID {
		return nil, fmt.Errorf("invoice %s not in project %s", invoiceID, projectID)
	}
	transactions, err := e.store.ListTransactions(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var suggestions []Suggestion
	for i := range transactions {
		txn := &transactions[i]
		if txn.MatchStatus != models.MatchUnmatched {
			continue
		}
		s := ScorePair(inv, txn)
		if s.Total < 0.50 {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Transaction: *txn,
			Score:       s,
			Band:        Band(s.Total),
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score.Total > suggestions[j].Score.Total
	})
	if len(suggestions) > k {
		suggestions = suggestions[:k]
	}
	return suggestions, nil
}

// ManualMatch asserts a pair regardless of threshold. The score is computed
// and stored for audit.
func (e *Engine) ManualMatch(ctx context.Context, projectID, invoiceID, transactionID uuid.UUID) (*models.ReconciliationMatch, error) {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	txn, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if inv.ProjectID != projectID || txn.ProjectID != projectID {
		return nil, fmt.Errorf("invoice and transaction must belong to project %s", projectID)
	}
	if inv.MatchStatus != models.MatchUnmatched {
		return nil, fmt.Errorf("invoice %s is already matched", invoiceID)
	}
	if txn.MatchStatus != models.MatchUnmatched {
		return nil, fmt.Errorf("transaction %s is already matched", transactionID)
	}

	m := buildMatch(projectID, invoiceID, transactionID, "manual", ScorePair(inv, txn))
	if err := e.store.CreateMatch(ctx, &m, models.MatchManualMatched); err != nil {
		return nil, err
	}
	if err := e.store.RecomputeProjectCounters(ctx, projectID); err != nil {
		return nil, err
	}
	return &m, nil
}

// Unmatch rejects a match and returns both sides to unmatched.
func (e *Engine) Unmatch(ctx context.Context, matchID uuid.UUID, reason string) error {
	m, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != "active" {
		return fmt.Errorf("match %s is already %s", matchID, m.Status)
	}
	if err := e.store.RejectMatch(ctx, m, reason); err != nil {
		return err
	}
	return e.store.RecomputeProjectCounters(ctx, m.ProjectID)
}
