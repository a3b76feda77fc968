package recon

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// PPNResult summarizes a PPN reconciliation run.
type PPNResult struct {
	SplitKeluaran int `json:"split_keluaran"`
	SplitMasukan  int `json:"split_masukan"`

	KeluaranMatches []models.ReconciliationMatch `json:"keluaran_matches"`
	MasukanMatches  []models.ReconciliationMatch `json:"masukan_matches"`
}

// PPNReconcile runs the VAT-centric variant: every Faktur Pajak is first
// auto-split into keluaran (output, we are the seller) or masukan (input) by
// comparing its NPWP against the project's company NPWP. Keluaran invoices
// are then matched against withholding slips (bukti potong), masukan
// invoices against bank transactions, both with the standard scoring.
func (e *Engine) PPNReconcile(ctx context.Context, projectID uuid.UUID) (*PPNResult, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	invoices, err := e.store.ListInvoices(ctx, projectID)
	if err != nil {
		return nil, err
	}
	transactions, err := e.store.ListTransactions(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result := &PPNResult{}

	// Auto-split. Faktur rows whose stored type disagrees with the NPWP
	// routing are rerouted; bukti potong rows keep their import-time type.
	var keluaran, masukan []models.TaxInvoice
	buktiPotong := make(map[uuid.UUID]bool)
	for i := range invoices {
		inv := &invoices[i]
		switch inv.SourceDocType {
		case models.DocPPh21, models.DocPPh23:
			buktiPotong[inv.ID] = true
			continue
		}

		want := models.InvoiceMasukan
		if parsers.SameNPWP(inv.VendorNpwp, project.CompanyNpwp) {
			// The counterparty NPWP equals ours only when extraction put us
			// on the vendor side; treat as keluaran.
			want = models.InvoiceKeluaran
		} else if inv.InvoiceType == models.InvoiceKeluaran {
			want = models.InvoiceKeluaran
		}
		if inv.InvoiceType != want {
			if err := e.store.UpdateInvoiceType(ctx, inv.ID, want); err != nil {
				return nil, err
			}
			inv.InvoiceType = want
		}
		if want == models.InvoiceKeluaran {
			keluaran = append(keluaran, *inv)
		} else {
			masukan = append(masukan, *inv)
		}
	}
	result.SplitKeluaran = len(keluaran)
	result.SplitMasukan = len(masukan)

	// Keluaran <-> bukti potong. Withholding slips live in the invoice table
	// too, so they are projected onto the transaction shape for scoring.
	slipTxns := make([]models.BankTransaction, 0, len(buktiPotong))
	for i := range invoices {
		inv := &invoices[i]
		if !buktiPotong[inv.ID] || inv.MatchStatus != models.MatchUnmatched {
			continue
		}
		slipTxns = append(slipTxns, models.BankTransaction{
			ID:              inv.ID,
			ProjectID:       inv.ProjectID,
			TransactionDate: inv.InvoiceDate,
			Description:     inv.VendorName,
			ReferenceNumber: inv.InvoiceNumber,
			Credit:          inv.TotalAmount,
			MatchStatus:     inv.MatchStatus,
		})
	}
	keluaranMatches, err := e.matchInvoicesAgainstSlips(ctx, projectID, keluaran, slipTxns)
	if err != nil {
		return nil, err
	}
	result.KeluaranMatches = keluaranMatches

	// Masukan <-> rekening koran.
	masukanMatches, err := e.matchSets(ctx, projectID, masukan, transactions,
		func(_ *models.TaxInvoice, txn *models.BankTransaction) bool {
			// Input VAT is paid out, so only debit-side rows qualify.
			return txn.Debit.IsPositive()
		})
	if err != nil {
		return nil, err
	}
	result.MasukanMatches = masukanMatches

	if err := e.store.RecomputeProjectCounters(ctx, projectID); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"project":          projectID,
		"keluaran":         result.SplitKeluaran,
		"masukan":          result.SplitMasukan,
		"keluaran_matches": len(result.KeluaranMatches),
		"masukan_matches":  len(result.MasukanMatches),
	}).Info("PPN reconciliation complete")
	return result, nil
}

// matchInvoicesAgainstSlips scores keluaran invoices against bukti potong
// rows. Both sides live in the invoice table, so these pairings are reported
// in the result rather than persisted as match rows; only the B<->E leg
// writes matches.
func (e *Engine) matchInvoicesAgainstSlips(ctx context.Context, projectID uuid.UUID,
	invoices []models.TaxInvoice, slips []models.BankTransaction) ([]models.ReconciliationMatch, error) {

	consumed := make(map[uuid.UUID]bool)
	var created []models.ReconciliationMatch

	for i := range invoices {
		inv := &invoices[i]
		if inv.MatchStatus != models.MatchUnmatched {
			continue
		}

		var best *models.BankTransaction
		var bestScore Score
		for j := range slips {
			slip := &slips[j]
			if consumed[slip.ID] {
				continue
			}
			s := ScorePair(inv, slip)
			if s.Total < e.minConfidence {
				continue
			}
			if best == nil || s.Total > bestScore.Total {
				best = slip
				bestScore = s
			}
		}
		if best == nil {
			continue
		}

		// TransactionID carries the bukti potong invoice id here.
		m := buildMatch(projectID, inv.ID, best.ID, "auto", bestScore)
		created = append(created, m)
		consumed[best.ID] = true
	}
	return created, nil
}
