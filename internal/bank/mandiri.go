package bank

import (
	"regexp"
	"time"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// MandiriAdapter parses the classic Bank Mandiri layout:
// Tanggal | Keterangan | Debet | Kredit | Saldo.
type MandiriAdapter struct {
	baseAdapter
}

// NewMandiriAdapter creates the legacy-layout Mandiri adapter.
func NewMandiriAdapter() *MandiriAdapter {
	return &MandiriAdapter{baseAdapter{
		name:     "Bank Mandiri",
		code:     "mandiri",
		keywords: []string{"BANK MANDIRI", "MANDIRI", "LIVIN"},
	}}
}

// Parse implements Adapter.
func (a *MandiriAdapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
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

var mandiriLineRe = regexp.MustCompile(`(?m)^(\d{2}[/-]\d{2}[/-]\d{4})\s+(.+?)\s+([\d.,]+|-)\s+([\d.,]+|-)\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *MandiriAdapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, mandiriLineRe, func(m []string) textLine {
		return textLine{
			date:        m[1],
			description: m[2],
			debit:       m[3],
			credit:      m[4],
			balance:     m[5],
		}
	})
}

// MandiriV2Adapter parses the newer e-statement export:
// Posting Date | Effective Date | Description | Reference No. | Debit |
// Credit | Balance. It must precede the legacy adapter in detection order.
type MandiriV2Adapter struct {
	baseAdapter
}

// NewMandiriV2Adapter creates the e-statement Mandiri adapter.
func NewMandiriV2Adapter() *MandiriV2Adapter {
	return &MandiriV2Adapter{baseAdapter{
		name:     "Bank Mandiri",
		code:     "mandiri_v2",
		keywords: []string{"MANDIRI E-STATEMENT", "POSTING DATE", "KOPRA"},
	}}
}

// Parse implements Adapter.
func (a *MandiriV2Adapter) Parse(res *ocr.Result) ([]models.StandardizedTransaction, error) {
	if len(res.Tables) == 0 {
		return a.ParseFromText(res.RawText)
	}

	account := ExtractAccountNumber(res.RawText)
	holder := ExtractAccountHolder(res.RawText)

	var txns []models.StandardizedTransaction
	for _, table := range res.Tables {
		for _, row := range table.Rows {
			posting, okPost := parsers.ParseDate(cellText(row, 0))
			effective, okEff := parsers.ParseDate(cellText(row, 1))
			if !okPost && !okEff {
				continue
			}

			var postingPtr, effectivePtr *time.Time
			primary := posting
			if okPost {
				postingPtr = &posting
			}
			if okEff {
				effectivePtr = &effective
				primary = effective
			}

			debit := amountOrZero(cellText(row, 4))
			credit := amountOrZero(cellText(row, 5))
			txType := "credit"
			if debit.IsPositive() {
				txType = "debit"
			}
			t := newTransaction(a.name, primary, postingPtr, effectivePtr,
				cellText(row, 2), cellText(row, 3), txType, debit, credit,
				amountOrZero(cellText(row, 6)))
			t.AccountNumber = account
			t.AccountHolder = holder
			txns = append(txns, t)
		}
	}
	return txns, nil
}

var mandiriV2LineRe = regexp.MustCompile(`(?m)^(\d{2}[/-]\d{2}[/-]\d{4})\s+\d{2}[/-]\d{2}[/-]\d{4}\s+(.+?)\s+(\S+)\s+([\d.,]+|-)\s+([\d.,]+|-)\s+([\d.,]+)$`)

// ParseFromText implements Adapter.
func (a *MandiriV2Adapter) ParseFromText(text string) ([]models.StandardizedTransaction, error) {
	return parseTextWithRegex(a.name, text, mandiriV2LineRe, func(m []string) textLine {
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
