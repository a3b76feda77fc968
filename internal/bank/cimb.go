package bank

import (
	"regexp"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// CIMBAdapter parses CIMB Niaga statements:
// Date | Description | Cheque/Ref No | Withdrawal | Deposit | Balance.
type CIMBAdapter struct {
	baseAdapter
}

// NewCIMBAdapter creates the CIMB Niaga adapter.
func NewCIMBAdapter() *CIMBAdapter {
	return &CIMBAdapter{baseAdapter{
		name:     "CIMB Niaga",
		code:     "cimb",
		keywords: []string{"CIMB NIAGA", "CIMB", "OCTO"},
	}}
}

// Parse implements Adapter.
func (a *CIMBAdapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
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

var cimbLineRe = regexp.MustCompile(`(?m)^(\d{2}[/-]\d{2}[/-]\d{4})\s+(.+?)\s+([\d.,]+|-)\s+([\d.,]+|-)\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *CIMBAdapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, cimbLineRe, func(m []string) textLine {
		return textLine{
			date:        m[1],
			description: m[2],
			debit:       m[3],
			credit:      m[4],
			balance:     m[5],
		}
	})
}
