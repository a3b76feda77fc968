// Package recon matches imported tax invoices against bank transactions.
// Scoring is deterministic; the LLM is only involved upstream, when vendor
// hints are extracted from transaction descriptions.
package recon

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

// Score is the weighted breakdown for one (invoice, transaction) candidate.
type Score struct {
	Amount    float64 `json:"amount"`
	Date      float64 `json:"date"`
	Vendor    float64 `json:"vendor"`
	Reference float64 `json:"reference"`
	Total     float64 `json:"total"`

	AmountVariance   decimal.Decimal `json:"amount_variance"`
	DateVarianceDays int             `json:"date_variance_days"`
}

// Weights of the sub-scores in the total.
const (
	weightAmount    = 0.50
	weightDate      = 0.25
	weightVendor    = 0.15
	weightReference = 0.10
)

// Confidence bands.
const (
	BandHigh   = "high"   // >= 0.90
	BandMedium = "medium" // >= 0.70
	BandLow    = "low"    // >= 0.50
)

// Band names the confidence bucket for a total score.
func Band(total float64) string {
	switch {
	case total >= 0.90:
		return BandHigh
	case total >= 0.70:
		return BandMedium
	case total >= 0.50:
		return BandLow
	}
	return "none"
}

// ScorePair evaluates one candidate pair.
func ScorePair(inv *models.TaxInvoice, txn *models.BankTransaction) Score {
	s := Score{
		Amount:    amountScore(inv.TotalAmount, transactionAmount(txn)),
		Date:      dateScore(daysBetween(inv.InvoiceDate, txn.TransactionDate)),
		Vendor:    vendorScore(inv.VendorName, txn),
		Reference: referenceScore(inv.InvoiceNumber, txn),
	}
	s.AmountVariance = transactionAmount(txn).Sub(inv.TotalAmount)
	s.DateVarianceDays = daysBetween(inv.InvoiceDate, txn.TransactionDate)
	s.Total = weightAmount*s.Amount + weightDate*s.Date + weightVendor*s.Vendor + weightReference*s.Reference
	return s
}

// transactionAmount picks the populated side of the debit/credit split.
func transactionAmount(txn *models.BankTransaction) decimal.Decimal {
	if txn.Credit.IsPositive() {
		return txn.Credit
	}
	return txn.Debit
}

func amountScore(invoiceAmount, txnAmount decimal.Decimal) float64 {
	if !invoiceAmount.IsPositive() {
		return 0
	}
	if invoiceAmount.Equal(txnAmount) {
		return 1.0
	}
	ratio, _ := txnAmount.Sub(invoiceAmount).Abs().Div(invoiceAmount).Float64()
	switch {
	case ratio <= 0.01:
		return 0.95
	case ratio <= 0.05:
		return 0.85
	case ratio <= 0.10:
		return 0.70
	}
	score := 0.70 - 2*(ratio-0.10)
	if score < 0 {
		return 0
	}
	return score
}

func dateScore(days int) float64 {
	switch {
	case days == 0:
		return 1.0
	case days <= 1:
		return 0.95
	case days <= 3:
		return 0.85
	case days <= 7:
		return 0.70
	}
	score := 0.70 - 0.05*float64(days-7)
	if score < 0 {
		return 0
	}
	return score
}

// vendorScore prefers the AI-extracted vendor hint when present, falling
// back to the raw description.
func vendorScore(vendorName string, txn *models.BankTransaction) float64 {
	vendor := normalizeName(vendorName)
	if vendor == "" {
		return 0
	}

	haystack := normalizeName(txn.ExtractedVendorName)
	if haystack == "" {
		haystack = normalizeName(txn.Description)
	}
	if haystack == "" {
		return 0
	}
	if strings.Contains(haystack, vendor) {
		return 1.0
	}
	return lcsRatio(vendor, haystack)
}

func referenceScore(invoiceNumber string, txn *models.BankTransaction) float64 {
	number := strings.ToUpper(strings.TrimSpace(invoiceNumber))
	if number == "" {
		return 0
	}
	reference := strings.ToUpper(txn.ReferenceNumber)
	description := strings.ToUpper(txn.Description)
	if txn.ExtractedInvoiceNumber != "" &&
		strings.EqualFold(txn.ExtractedInvoiceNumber, number) {
		return 1.0
	}

	if strings.Contains(reference, number) {
		return 1.0
	}
	if strings.Contains(description, number) {
		return 0.8
	}
	for _, part := range splitReference(number) {
		if len(part) >= 3 && (strings.Contains(reference, part) || strings.Contains(description, part)) {
			return 0.5
		}
	}
	return 0
}

// splitReference breaks an invoice number on its separators.
func splitReference(number string) []string {
	return strings.FieldsFunc(number, func(r rune) bool {
		switch r {
		case '/', '-', '.', ' ', '_':
			return true
		}
		return false
	})
}

// normalizeName uppercases and strips legal-form prefixes and punctuation so
// "PT. Maju Jaya" matches "TRF PT MAJU JAYA INV".
func normalizeName(s string) string {
	upper := strings.ToUpper(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		switch f {
		case "PT", "CV", "UD", "TBK", "PERSERO":
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// lcsRatio is the longest-common-subsequence length over the longer string's
// length.
func lcsRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	return float64(prev[len(rb)]) / float64(longest)
}

func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(bd.Sub(ad).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
