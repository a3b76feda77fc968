package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

// CreateProject inserts a reconciliation project.
func (s *Store) CreateProject(ctx context.Context, p *models.ReconciliationProject) error {
	query := `
		INSERT INTO reconciliation_projects (user_id, name, period_start, period_end, company_npwp, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		p.UserID, p.Name, p.PeriodStart, p.PeriodEnd, p.CompanyNpwp, p.Status,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject fetches one project.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*models.ReconciliationProject, error) {
	query := `
		SELECT id, user_id, name, period_start, period_end, COALESCE(company_npwp, ''), status,
		       total_invoices, total_transactions, matched_count,
		       unmatched_invoices, unmatched_transactions,
		       invoice_sum, transaction_sum, variance_amount, created_at
		FROM reconciliation_projects
		WHERE id = $1
	`
	var p models.ReconciliationProject
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.Name, &p.PeriodStart, &p.PeriodEnd, &p.CompanyNpwp, &p.Status,
		&p.TotalInvoices, &p.TotalTransactions, &p.MatchedCount,
		&p.UnmatchedInvoices, &p.UnmatchedTransactions,
		&p.InvoiceSum, &p.TransactionSum, &p.VarianceAmount, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// CreateTaxInvoice inserts an invoice row.
func (s *Store) CreateTaxInvoice(ctx context.Context, inv *models.TaxInvoice) error {
	query := `
		INSERT INTO tax_invoices (
			project_id, scan_result_id, invoice_number, invoice_date, invoice_type,
			source_doc_type, vendor_name, vendor_npwp, dpp, ppn, total_amount,
			match_status, match_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	return s.db.QueryRow(ctx, query,
		inv.ProjectID, inv.ScanResultID, inv.InvoiceNumber, inv.InvoiceDate, inv.InvoiceType,
		inv.SourceDocType, inv.VendorName, inv.VendorNpwp, inv.DPP, inv.PPN, inv.TotalAmount,
		inv.MatchStatus, inv.MatchConfidence,
	).Scan(&inv.ID)
}

// InvoiceExistsForScan reports whether the scan result was already imported
// into the project. Import is idempotent by scan result id.
func (s *Store) InvoiceExistsForScan(ctx context.Context, projectID, scanResultID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM tax_invoices WHERE project_id = $1 AND scan_result_id = $2
		)`, projectID, scanResultID).Scan(&exists)
	return exists, err
}

// TransactionExists reports whether the transaction row was already imported:
// same scan result, date and description.
func (s *Store) TransactionExists(ctx context.Context, projectID uuid.UUID, scanResultID *uuid.UUID, date time.Time, description string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bank_transactions
			WHERE project_id = $1
			  AND scan_result_id IS NOT DISTINCT FROM $2
			  AND transaction_date = $3
			  AND description = $4
		)`, projectID, scanResultID, date, description).Scan(&exists)
	return exists, err
}

// CreateBankTransaction inserts a transaction row.
func (s *Store) CreateBankTransaction(ctx context.Context, t *models.BankTransaction) error {
	query := `
		INSERT INTO bank_transactions (
			project_id, scan_result_id, bank_name, account_number, transaction_date,
			description, reference_number, debit, credit, balance,
			extracted_vendor_name, extracted_invoice_number, match_status, match_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	return s.db.QueryRow(ctx, query,
		t.ProjectID, t.ScanResultID, t.BankName, t.AccountNumber, t.TransactionDate,
		t.Description, t.ReferenceNumber, t.Debit, t.Credit, t.Balance,
		t.ExtractedVendorName, t.ExtractedInvoiceNumber, t.MatchStatus, t.MatchConfidence,
	).Scan(&t.ID)
}

const invoiceColumns = `
	id, project_id, scan_result_id, COALESCE(invoice_number, ''), invoice_date,
	invoice_type, COALESCE(source_doc_type, ''), COALESCE(vendor_name, ''), COALESCE(vendor_npwp, ''),
	dpp, ppn, total_amount, match_status, match_confidence, matched_transaction_id, matched_at
`

func scanInvoice(scan func(dest ...any) error) (*models.TaxInvoice, error) {
	var inv models.TaxInvoice
	err := scan(
		&inv.ID, &inv.ProjectID, &inv.ScanResultID, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.InvoiceType, &inv.SourceDocType, &inv.VendorName, &inv.VendorNpwp,
		&inv.DPP, &inv.PPN, &inv.TotalAmount,
		&inv.MatchStatus, &inv.MatchConfidence, &inv.MatchedTransactionID, &inv.MatchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInvoices returns the project's invoices in import order.
func (s *Store) ListInvoices(ctx context.Context, projectID uuid.UUID) ([]models.TaxInvoice, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+invoiceColumns+` FROM tax_invoices WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.TaxInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// GetInvoice fetches one invoice.
func (s *Store) GetInvoice(ctx context.Context, id uuid.UUID) (*models.TaxInvoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM tax_invoices WHERE id = $1`, id).Scan)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

const transactionColumns = `
	id, project_id, scan_result_id, COALESCE(bank_name, ''), COALESCE(account_number, ''),
	transaction_date, COALESCE(description, ''), COALESCE(reference_number, ''),
	debit, credit, balance, COALESCE(extracted_vendor_name, ''),
	COALESCE(extracted_invoice_number, ''), match_status, match_confidence,
	matched_invoice_id, matched_at
`

func scanTransaction(scan func(dest ...any) error) (*models.BankTransaction, error) {
	var t models.BankTransaction
	err := scan(
		&t.ID, &t.ProjectID, &t.ScanResultID, &t.BankName, &t.AccountNumber,
		&t.TransactionDate, &t.Description, &t.ReferenceNumber,
		&t.Debit, &t.Credit, &t.Balance, &t.ExtractedVendorName,
		&t.ExtractedInvoiceNumber, &t.MatchStatus, &t.MatchConfidence,
		&t.MatchedInvoiceID, &t.MatchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactions returns the project's transactions in import order.
func (s *Store) ListTransactions(ctx context.Context, projectID uuid.UUID) ([]models.BankTransaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM bank_transactions WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// GetTransaction fetches one transaction.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM bank_transactions WHERE id = $1`, id).Scan)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// UpdateTransactionExtraction stores the AI-extracted vendor and invoice
// number hints.
func (s *Store) UpdateTransactionExtraction(ctx context.Context, id uuid.UUID, vendor, invoiceNumber string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE bank_transactions
		SET extracted_vendor_name = $1, extracted_invoice_number = $2
		WHERE id = $3
	`, vendor, invoiceNumber, id)
	return err
}

// UpdateInvoiceType reroutes an invoice between keluaran and masukan, used
// by the PPN auto-split.
func (s *Store) UpdateInvoiceType(ctx context.Context, id uuid.UUID, t models.InvoiceType) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tax_invoices SET invoice_type = $2 WHERE id = $1`, id, t)
	return err
}

// CreateMatch records a match and flips both sides in one transaction, so a
// mid-flight failure never leaves an invoice matched to nothing.
func (s *Store) CreateMatch(ctx context.Context, m *models.ReconciliationMatch, status models.MatchStatus) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin match: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	query := `
		INSERT INTO reconciliation_matches (
			project_id, invoice_id, transaction_id, match_type, match_score,
			amount_variance, date_variance_days,
			amount_score, date_score, vendor_score, reference_score, status, confirmed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active', $12)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		m.ProjectID, m.InvoiceID, m.TransactionID, m.MatchType, m.MatchScore,
		m.AmountVariance, m.DateVarianceDays,
		m.AmountScore, m.DateScore, m.VendorScore, m.ReferenceScore, m.Confirmed,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tax_invoices
		SET match_status = $1, match_confidence = $2, matched_transaction_id = $3, matched_at = $4
		WHERE id = $5
	`, status, m.MatchScore, m.TransactionID, now, m.InvoiceID)
	if err != nil {
		return fmt.Errorf("flip invoice: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bank_transactions
		SET match_status = $1, match_confidence = $2, matched_invoice_id = $3, matched_at = $4
		WHERE id = $5
	`, status, m.MatchScore, m.InvoiceID, now, m.TransactionID)
	if err != nil {
		return fmt.Errorf("flip transaction: %w", err)
	}
	return tx.Commit(ctx)
}

// GetMatch fetches one match.
func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (*models.ReconciliationMatch, error) {
	query := `
		SELECT id, project_id, invoice_id, transaction_id, match_type, match_score,
		       amount_variance, date_variance_days,
		       amount_score, date_score, vendor_score, reference_score,
		       status, confirmed, COALESCE(rejection_reason, ''), created_at
		FROM reconciliation_matches
		WHERE id = $1
	`
	var m models.ReconciliationMatch
	err := s.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.ProjectID, &m.InvoiceID, &m.TransactionID, &m.MatchType, &m.MatchScore,
		&m.AmountVariance, &m.DateVarianceDays,
		&m.AmountScore, &m.DateScore, &m.VendorScore, &m.ReferenceScore,
		&m.Status, &m.Confirmed, &m.RejectionReason, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return &m, nil
}

// RejectMatch flips a match to rejected and returns both sides to unmatched
// with zero confidence, in one transaction.
func (s *Store) RejectMatch(ctx context.Context, m *models.ReconciliationMatch, reason string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unmatch: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE reconciliation_matches
		SET status = 'rejected', rejection_reason = NULLIF($1, '')
		WHERE id = $2
	`, reason, m.ID)
	if err != nil {
		return fmt.Errorf("reject match: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tax_invoices
		SET match_status = 'unmatched', match_confidence = 0, matched_transaction_id = NULL, matched_at = NULL
		WHERE id = $1
	`, m.InvoiceID)
	if err != nil {
		return fmt.Errorf("reset invoice: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bank_transactions
		SET match_status = 'unmatched', match_confidence = 0, matched_invoice_id = NULL, matched_at = NULL
		WHERE id = $1
	`, m.TransactionID)
	if err != nil {
		return fmt.Errorf("reset transaction: %w", err)
	}
	return tx.Commit(ctx)
}

// RecomputeProjectCounters rebuilds the project's counters and totals from
// the authoritative invoice and transaction rows.
func (s *Store) RecomputeProjectCounters(ctx context.Context, projectID uuid.UUID) error {
	var (
		totalInv, totalTxn, matched, unmatchedInv, unmatchedTxn int
		invoiceSum, transactionSum                              decimal.Decimal
	)
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE match_status = 'unmatched'),
		       COALESCE(SUM(total_amount), 0)
		FROM tax_invoices WHERE project_id = $1
	`, projectID).Scan(&totalInv, &unmatchedInv, &invoiceSum)
	if err != nil {
		return fmt.Errorf("count invoices: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE match_status = 'unmatched'),
		       COALESCE(SUM(credit), 0)
		FROM bank_transactions WHERE project_id = $1
	`, projectID).Scan(&totalTxn, &unmatchedTxn, &transactionSum)
	if err != nil {
		return fmt.Errorf("count transactions: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM reconciliation_matches WHERE project_id = $1 AND status = 'active'
	`, projectID).Scan(&matched)
	if err != nil {
		return fmt.Errorf("count matches: %w", err)
	}

	variance := invoiceSum.Sub(transactionSum)
	_, err = s.db.Exec(ctx, `
		UPDATE reconciliation_projects
		SET total_invoices = $1, total_transactions = $2, matched_count = $3,
		    unmatched_invoices = $4, unmatched_transactions = $5,
		    invoice_sum = $6, transaction_sum = $7, variance_amount = $8
		WHERE id = $9
	`, totalInv, totalTxn, matched, unmatchedInv, unmatchedTxn,
		invoiceSum, transactionSum, variance, projectID)
	return err
}
