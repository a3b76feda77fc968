package bank

import (
	"regexp"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// BRIAdapter parses Bank Rakyat Indonesia statements:
// Tanggal | Uraian Transaksi | Sandi | Debet | Kredit | Saldo.
type BRIAdapter struct {
	baseAdapter
}

// NewBRIAdapter creates the BRI adapter.
func NewBRIAdapter() *BRIAdapter {
	return &BRIAdapter{baseAdapter{
		name:     "Bank Rakyat Indonesia",
		code:     "bri",
		keywords: []string{"BANK RAKYAT INDONESIA", "BRI", "BRIMO", "BRITAMA"},
	}}
}

// Parse implements Adapter.
func (a *BRIAdapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
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
			debit := amountOrZero(cellText(row, 3))
			credit := amountOrZero(cellText(row, 4))
			txType := "credit"
			if debit.IsPositive() {
				txType = "debit"
			}
			t := newTransaction(a.name, date, nil, nil,
				cellText(row, 1), cellText(row, 2), txType, debit, credit,
				amountOrZero(cellText(row, 5)))
			t.AccountNumber = account
			t.AccountHolder = holder
			txns = append(txns, t)
		}
	}
	return txns, nil
}

var briLineRe = regexp.MustCompile(`(?m)^(\d{2}[/-]\d{2}[/-]\d{2,4})\s+(.+?)\s+(\d{2,4})\s+([\d.,]+|-)\s+([\d.,]+|-)\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *BRIAdapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, briLineRe, func(m []string) textLine {
		return textLine{
			date:        m[1],
			description: m[2],
			reference:   m[3],
			debit:       m[4],
			credit:      m[5],
			balance:     m[6],
		}
	})
}
