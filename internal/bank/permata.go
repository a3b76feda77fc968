package bank

import (
	"regexp"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// PermataAdapter parses PermataBank statements:
// Tanggal | Keterangan | Debit | Kredit | Saldo. Some exports print a single
// signed amount column instead; negative amounts are treated as debits.
type PermataAdapter struct {
	baseAdapter
}

// NewPermataAdapter creates the Permata adapter.
func NewPermataAdapter() *PermataAdapter {
	return &PermataAdapter{baseAdapter{
		name:     "PermataBank",
		code:     "permata",
		keywords: []string{"PERMATABANK", "PERMATA BANK", "BANK PERMATA", "PERMATANET"},
	}}
}

// Parse implements Adapter.
func (a *PermataAdapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
	if len(res.Tables) == 0 {
		return a.ParseFromText(res.RawText)
	}

	account := ExtractAccountNumber(res.RawText)
	holder := ExtractAccountHolder(res.RawText)

	var txns []models.StandardizedTransaction
	for _, table := range res.Tables {
		for _, row := range table.Rows {
			date, ok := parsers.ParseDate(cellText(row, 0))
			if !ok {
				continue
			}

			debit := amountOrZero(cellText(row, 2))
			credit := amountOrZero(cellText(row, 3))
			balance := amountOrZero(cellText(row, 4))
			if debit.IsZero() && credit.IsZero() && len(row.Cells) == 4 {
				// Signed single-amount variant: Tanggal | Keterangan |
				// Jumlah | Saldo.
				debit, credit = splitByFlag(amountOrZero(cellText(row, 2)), "", cellText(row, 1))
				balance = amountOrZero(cellText(row, 3))
			}

			txType := "credit"
			if debit.IsPositive() {
				txType = "debit"
			}
			t := newTransaction(a.name, date, nil, nil,
				cellText(row, 1), "", txType, debit, credit, balance)
			t.AccountNumber = account
			t.AccountHolder = holder
			txns = append(txns, t)
		}
	}
	return txns, nil
}

var permataLineRe = regexp.MustCompile(`(?m)^(\d{2}[/-]\d{2}[/-]\d{4})\s+(.+?)\s+(\(?-?[\d.,]+\)?|-)\s+([\d.,]+|-)\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *PermataAdapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, permataLineRe, func(m []string) textLine {
		return textLine{
			date:        m[1],
			description: m[2],
			debit:       m[3],
			credit:      m[4],
			balance:     m[5],
		}
	})
}
