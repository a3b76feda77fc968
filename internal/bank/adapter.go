// Package bank converts heterogeneous statement layouts into
// StandardizedTransaction records. Each supported bank contributes an
// Adapter; detection walks an ordered list so more specific adapters win.
package bank

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// Adapter parses one bank's statement layout.
type Adapter interface {
	Name() string
	Code() string
	Keywords() []string
	// Detect reports whether the OCR text looks like this bank's statement.
	Detect(text string) bool
	// Parse consumes structured tables when present, falling back to
	// ParseFromText otherwise.
	Parse(res *ocr.Result) ([]models.StandardizedTransaction, error)
	// ParseFromText is the regex fallback for table-less OCR output.
	ParseFromText(text string) ([]models.StandardizedTransaction, error)
}

// baseAdapter carries identity and detection shared by every adapter.
type baseAdapter struct {
	name     string
	code     string
	keywords []string
}

func (b *baseAdapter) Name() string       { return b.name }
func (b *baseAdapter) Code() string       { return b.code }
func (b *baseAdapter) Keywords() []string { return b.keywords }

func (b *baseAdapter) Detect(text string) bool {
	upper := strings.ToUpper(text)
	for _, kw := range b.keywords {
		if strings.Contains(upper, strings.ToUpper(kw)) {
			return true
		}
	}
	return false
}

// cellText is the safe indexed accessor: rows with unexpected cell counts
// yield empty strings instead of panics.
func cellText(row ocr.Row, i int) string {
	if i < 0 || i >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[i].Text)
}

// Debit and credit indicator keywords for sign inference from descriptions.
var (
	debitIndicators = []string{
		"TARIK", "BAYAR", "PEMBAYARAN", "TRANSFER KE", "TRF KE", "BIAYA",
		"ADMIN", "ADM", "PAJAK", "POTONGAN", "PEMBELIAN", "BELANJA",
		"WITHDRAWAL", "DEBIT", "KLIRING KELUAR", "SETORAN KLIRING",
	}
	creditIndicators = []string{
		"SETOR", "TERIMA", "PENERIMAAN", "TRANSFER DARI", "TRF DARI",
		"BUNGA", "JASA GIRO", "DEPOSIT", "CREDIT", "KLIRING MASUK", "REFUND",
	}
)

// inferSign decides debit vs credit from the description keywords. Ambiguous
// descriptions default to credit.
func inferSign(description string) string {
	upper := strings.ToUpper(description)
	for _, kw := range debitIndicators {
		if strings.Contains(upper, kw) {
			return "debit"
		}
	}
	for _, kw := range creditIndicators {
		if strings.Contains(upper, kw) {
			return "credit"
		}
	}
	return "credit"
}

// parseFlag interprets explicit D/C style markers. Empty string means the
// marker was absent or unrecognized.
func parseFlag(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "D", "DB", "DR", "DEBIT":
		return "debit"
	case "C", "CR", "K", "KR", "CREDIT", "KREDIT":
		return "credit"
	}
	return ""
}

var accountNumberRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)no\.?\s*rek(?:ening)?\s*[:.]?\s*([\d][\d\-. ]{6,20}\d)`),
	regexp.MustCompile(`(?i)account\s*(?:no|number)\s*[:.]?\s*([\d][\d\-. ]{6,20}\d)`),
	regexp.MustCompile(`(?i)nomor\s*rekening\s*[:.]?\s*([\d][\d\-. ]{6,20}\d)`),
}

// ExtractAccountNumber pulls the account number from the statement header.
func ExtractAccountNumber(text string) string {
	for _, re := range accountNumberRes {
		if m := re.FindStringSubmatch(text); m != nil {
			cleaned := strings.Map(func(r rune) rune {
				if r >= '0' && r <= '9' {
					return r
				}
				return -1
			}, m[1])
			return cleaned
		}
	}
	return ""
}

var accountHolderRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)nama\s*(?:nasabah|pemilik)?\s*[:.]\s*([A-Z][A-Z .,&']{2,60})`),
	regexp.MustCompile(`(?i)account\s*(?:holder|name)\s*[:.]\s*([A-Z][A-Z .,&']{2,60})`),
}

// ExtractAccountHolder pulls the customer name from the header labels.
func ExtractAccountHolder(text string) string {
	for _, re := range accountHolderRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// newTransaction assembles a StandardizedTransaction, applying the
// effective-date preference and two-digit rounding.
func newTransaction(bankName string, date time.Time, posting, effective *time.Time,
	description, reference, txType string, debit, credit, balance decimal.Decimal) models.StandardizedTransaction {

	primary := date
	if effective != nil {
		primary = *effective
	}
	return models.StandardizedTransaction{
		TransactionDate: primary,
		PostingDate:     posting,
		EffectiveDate:   effective,
		Description:     strings.TrimSpace(description),
		TransactionType: txType,
		ReferenceNumber: strings.TrimSpace(reference),
		Debit:           debit.Round(2),
		Credit:          credit.Round(2),
		Balance:         balance.Round(2),
		BankName:        bankName,
	}
}

// amountOrZero parses a cell, returning zero for blanks and junk.
func amountOrZero(s string) decimal.Decimal {
	d, ok := parsers.ParseAmount(s)
	if !ok {
		return decimal.Zero
	}
	return d
}

// splitByFlag assigns an amount to debit or credit using, in order: an
// explicit flag cell, a parenthesized/negative amount, then description
// keywords.
func splitByFlag(amount decimal.Decimal, flag, description string) (debit, credit decimal.Decimal) {
	sign := parseFlag(flag)
	if sign == "" {
		if amount.IsNegative() {
			return amount.Abs(), decimal.Zero
		}
		sign = inferSign(description)
	}
	if sign == "debit" {
		return amount.Abs(), decimal.Zero
	}
	return decimal.Zero, amount.Abs()
}
