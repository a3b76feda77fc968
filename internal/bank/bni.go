package bank

import (
	"regexp"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// BNIAdapter parses the classic Bank Negara Indonesia layout:
// Tanggal | Uraian | Debet | Kredit | Saldo.
type BNIAdapter struct {
	baseAdapter
}

// NewBNIAdapter creates the legacy-layout BNI adapter.
func NewBNIAdapter() *BNIAdapter {
	return &BNIAdapter{baseAdapter{
		name:     "Bank Negara Indonesia",
		code:     "bni",
		keywords: []string{"BANK NEGARA INDONESIA", "BNI", "TAPLUS"},
	}}
}

// Parse implements Adapter.
func (a *BNIAdapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
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
			txType := "credit"
			if debit.IsPositive() {
				txType = "debit"
			}
			t := newTransaction(a.name, date, nil, nil,
				cellText(row, 1), "", txType, debit, credit,
				amountOrZero(cellText(row, 4)))
			t.AccountNumber = account
			t.AccountHolder = holder
			txns = append(txns, t)
		}
	}
	return txns, nil
}

var bniLineRe = regexp.MustCompile(`(?m)^(\d{2}[/-]\d{2}[/-]\d{4})\s+(.+?)\s+([\d.,]+|-)\s+([\d.,]+|-)\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *BNIAdapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, bniLineRe, func(m []string) textLine {
		return textLine{
			date:        m[1],
			description: m[2],
			debit:       m[3],
			credit:      m[4],
			balance:     m[5],
		}
	})
}

// BNIV2Adapter parses the newer single-amount layout:
// Tanggal | Keterangan | Referensi | Jumlah | D/K | Saldo. Debit vs credit
// rides in an explicit one-letter flag column.
type BNIV2Adapter struct {
	baseAdapter
}

// NewBNIV2Adapter creates the flag-column BNI adapter.
func NewBNIV2Adapter() *BNIV2Adapter {
	return &BNIV2Adapter{baseAdapter{
		name:     "Bank Negara Indonesia",
		code:     "bni_v2",
		keywords: []string{"BNI MOBILE", "BNIDIRECT", "BNI DIRECT"},
	}}
}

// Parse implements Adapter.
func (a *BNIV2Adapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
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
			debit, credit := splitByFlag(amountOrZero(cellText(row, 3)),
				cellText(row, 4), cellText(row, 1))
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

var bniV2LineRe = regexp.MustCompile(`(?m)^(\d{2}[/-]\d{2}[/-]\d{4})\s+(.+?)\s+(\S+)\s+([\d.,]+)\s+([DK])\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *BNIV2Adapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, bniV2LineRe, func(m []string) textLine {
		return textLine{
			date:        m[1],
			description: m[2],
			reference:   m[3],
			amount:      m[4],
			flag:        m[5],
			balance:     m[6],
		}
	})
}
