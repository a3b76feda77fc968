package recon

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pajakflow/tax-docs-service/internal/mapper"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// ImportSummary reports what an import run did.
type ImportSummary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// invoiceDocTypes are the scan result types importable as tax invoices.
var invoiceDocTypes = map[string]bool{
	models.DocFakturPajak: true,
	models.DocPPh21:       true,
	models.DocPPh23:       true,
	models.DocInvoice:     true,
}

// ImportInvoicesFromBatch copies structured invoice extractions from a
// processed batch into the project. Idempotent by scan result id: re-running
// the import skips rows already present.
func (e *Engine) ImportInvoicesFromBatch(ctx context.Context, projectID, batchID uuid.UUID) (*ImportSummary, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	results, err := e.store.ListScanResults(ctx, batchID)
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{}
	for i := range results {
		res := &results[i]
		if !invoiceDocTypes[res.DocumentType] {
			continue
		}

		exists, err := e.store.InvoiceExistsForScan(ctx, projectID, res.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			summary.Skipped++
			continue
		}

		inv, err := invoiceFromScan(project, res)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"scan_result": res.ID,
				"file":        res.OriginalFilename,
			}).WithError(err).Warn("scan result not importable as invoice")
			summary.Failed++
			continue
		}
		if err := e.store.CreateTaxInvoice(ctx, inv); err != nil {
			return nil, err
		}
		summary.Imported++
	}

	if err := e.store.RecomputeProjectCounters(ctx, projectID); err != nil {
		return nil, err
	}
	return summary, nil
}

// invoiceFromScan builds a TaxInvoice from the structured extraction payload.
// The invoice type is routed by comparing the seller NPWP against the
// project's company NPWP: our own NPWP as seller means an output (keluaran)
// invoice.
func invoiceFromScan(project *models.ReconciliationProject, res *models.ScanResult) (*models.TaxInvoice, error) {
	structured := mapper.GetMap(res.ExtractedData, "smart_mapped")
	if structured == nil {
		return nil, fmt.Errorf("no structured extraction")
	}

	number := mapper.GetString(structured, "invoice", "number")
	if number == "" {
		return nil, fmt.Errorf("no invoice number extracted")
	}
	issueDate, ok := parsers.ParseDate(mapper.GetString(structured, "invoice", "issueDate"))
	if !ok {
		return nil, fmt.Errorf("no parseable issue date")
	}

	sellerNpwp := parsers.NormalizeNPWP(mapper.GetString(structured, "seller", "npwp"))
	invoiceType := models.InvoiceMasukan
	vendorName := mapper.GetString(structured, "seller", "name")
	vendorNpwp := sellerNpwp
	if parsers.SameNPWP(sellerNpwp, project.CompanyNpwp) {
		// We are the seller: the counterparty is the buyer.
		invoiceType = models.InvoiceKeluaran
		vendorName = mapper.GetString(structured, "buyer", "name")
		vendorNpwp = parsers.NormalizeNPWP(mapper.GetString(structured, "buyer", "npwp"))
	}

	scanID := res.ID
	return &models.TaxInvoice{
		ProjectID:     project.ID,
		ScanResultID:  &scanID,
		InvoiceNumber: number,
		InvoiceDate:   issueDate,
		InvoiceType:   invoiceType,
		SourceDocType: res.DocumentType,
		VendorName:    vendorName,
		VendorNpwp:    vendorNpwp,
		DPP:           mapper.GetDecimal(structured, "financials", "dpp").Round(2),
		PPN:           mapper.GetDecimal(structured, "financials", "ppn").Round(2),
		TotalAmount:   mapper.GetDecimal(structured, "financials", "total").Round(2),
		MatchStatus:   models.MatchUnmatched,
	}, nil
}

// ImportTransactionsFromBatch copies normalized statement rows from a
// processed batch into the project. Idempotent by (scan result, date,
// description).
func (e *Engine) ImportTransactionsFromBatch(ctx context.Context, projectID, batchID uuid.UUID) (*ImportSummary, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	results, err := e.store.ListScanResults(ctx, batchID)
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{}
	for i := range results {
		res := &results[i]
		if res.DocumentType != models.DocRekeningKoran {
			continue
		}

		rows, _ := res.ExtractedData["transactions"].([]interface{})
		if len(rows) == 0 {
			summary.Failed++
			continue
		}
		bankName := mapper.GetString(res.ExtractedData, "metadata", "bank_name")
		accountNumber := mapper.GetString(res.ExtractedData, "metadata", "account_number")

		for _, item := range rows {
			entry, ok := item.(map[string]interface{})
			if !ok {
				summary.Failed++
				continue
			}
			txn, err := transactionFromPayload(projectID, res.ID, bankName, accountNumber, entry)
			if err != nil {
				summary.Failed++
				continue
			}

			exists, err := e.store.TransactionExists(ctx, projectID, txn.ScanResultID, txn.TransactionDate, txn.Description)
			if err != nil {
				return nil, err
			}
			if exists {
				summary.Skipped++
				continue
			}
			if err := e.store.CreateBankTransaction(ctx, txn); err != nil {
				return nil, err
			}
			summary.Imported++
		}
	}

	if err := e.store.RecomputeProjectCounters(ctx, projectID); err != nil {
		return nil, err
	}
	return summary, nil
}

func transactionFromPayload(projectID, scanResultID uuid.UUID, bankName, accountNumber string, entry map[string]interface{}) (*models.BankTransaction, error) {
	date, ok := parsers.ParseDate(mapper.GetString(entry, "transaction_date"))
	if !ok {
		return nil, fmt.Errorf("unparseable transaction date")
	}
	description := strings.TrimSpace(mapper.GetString(entry, "description"))
	if description == "" {
		return nil, fmt.Errorf("empty description")
	}

	scanID := scanResultID
	return &models.BankTransaction{
		ProjectID:       projectID,
		ScanResultID:    &scanID,
		BankName:        bankName,
		AccountNumber:   accountNumber,
		TransactionDate: date,
		Description:     description,
		ReferenceNumber: mapper.GetString(entry, "reference_number"),
		Debit:           mapper.GetDecimal(entry, "debit").Round(2),
		Credit:          mapper.GetDecimal(entry, "credit").Round(2),
		Balance:         mapper.GetDecimal(entry, "balance").Round(2),
		MatchStatus:     models.MatchUnmatched,
	}, nil
}

// hintBatchSize bounds how many descriptions go into one LLM call.
const hintBatchSize = 40

// AIExtractVendorHints populates extracted vendor names and invoice numbers
// on the project's unmatched transactions. Failures leave the rows untouched.
func (e *Engine) AIExtractVendorHints(ctx context.Context, projectID uuid.UUID) (int, error) {
	if e.hints == nil {
		return 0, fmt.Errorf("no AI provider configured for hint extraction")
	}

	transactions, err := e.store.ListTransactions(ctx, projectID)
	if err != nil {
		return 0, err
	}

	var pending []*models.BankTransaction
	for i := range transactions {
		t := &transactions[i]
		if t.MatchStatus == models.MatchUnmatched && t.ExtractedVendorName == "" {
			pending = append(pending, t)
		}
	}

	updated := 0
	for start := 0; start < len(pending); start += hintBatchSize {
		end := start + hintBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		descriptions := make([]string, len(batch))
		for i, t := range batch {
			descriptions[i] = t.Description
		}
		hints, err := e.hints.ExtractVendorHints(ctx, descriptions)
		if err != nil {
			e.log.WithError(err).Warn("vendor hint extraction failed")
			continue
		}
		for i, h := range hints {
			if i >= len(batch) || (h.VendorName == "" && h.InvoiceNumber == "") {
				continue
			}
			if err := e.store.UpdateTransactionExtraction(ctx, batch[i].ID, h.VendorName, h.InvoiceNumber); err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}
