package bank

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// BCAAdapter parses Bank Central Asia statements.
// Layout: Tanggal | Keterangan | CBG | Mutasi | Saldo. The Mutasi column
// carries a trailing "DB" marker for debits; unmarked amounts are credits.
type BCAAdapter struct {
	baseAdapter
}

// NewBCAAdapter creates the generic BCA adapter.
func NewBCAAdapter() *BCAAdapter {
	return &BCAAdapter{baseAdapter{
		name:     "Bank Central Asia",
		code:     "bca",
		keywords: []string{"BANK CENTRAL ASIA", "KCU BCA", "KCP BCA", "BCA"},
	}}
}

// Parse implements Adapter.
func (a *BCAAdapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
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
				// Continuation line: BCA wraps long descriptions onto
				// dateless rows.
				if len(txns) > 0 && cellText(row, 1) != "" {
					last := &txns[len(txns)-1]
					last.Description = strings.TrimSpace(last.Description + " " + cellText(row, 1))
				}
				continue
			}

			mutasi := cellText(row, 3)
			isDebit := strings.HasSuffix(strings.ToUpper(mutasi), "DB")
			amount := amountOrZero(mutasi)

			debit, credit := decimal.Zero, amount
			txType := "credit"
			if isDebit {
				debit, credit = amount, decimal.Zero
				txType = "debit"
			}

			t := newTransaction(a.name, date, nil, nil,
				cellText(row, 1), cellText(row, 2), txType, debit, credit,
				amountOrZero(cellText(row, 4)))
			t.AccountNumber = account
			t.AccountHolder = holder
			txns = append(txns, t)
		}
	}
	return txns, nil
}

var bcaLineRe = regexp.MustCompile(`(?m)^(\d{2}/\d{2}(?:/\d{2,4})?)\s+(.+?)\s+([\d.,]+)(\s*DB)?\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *BCAAdapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, bcaLineRe, func(m []string) textLine {
		flag := ""
		if strings.TrimSpace(m[4]) != "" {
			flag = "D"
		}
		return textLine{
			date:        m[1],
			description: m[2],
			amount:      m[3],
			flag:        flag,
			balance:     m[5],
		}
	})
}

// BCASyariahAdapter parses BCA Syariah statements. Same column layout as
// BCA, distinct keyword set; it must precede the generic BCA adapter in the
// detector order.
type BCASyariahAdapter struct {
	BCAAdapter
}

// NewBCASyariahAdapter creates the BCA Syariah adapter.
func NewBCASyariahAdapter() *BCASyariahAdapter {
	a := &BCASyariahAdapter{*NewBCAAdapter()}
	a.name = "BCA Syariah"
	a.code = "bca_syariah"
	a.keywords = []string{"BCA SYARIAH", "BCAS"}
	return a
}
