package bank

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajakflow/tax-docs-service/internal/ocr"
)

func tableRow(cells ...string) ocr.Row {
	row := ocr.Row{}
	for _, c := range cells {
		row.Cells = append(row.Cells, ocr.Cell{Text: c})
	}
	return row
}

func TestBCAParseTable(t *testing.T) {
	res := &ocr.Result{
		RawText: "BANK CENTRAL ASIA\nNo. Rek : 123-456-7890\nNama : PT CONTOH ABADI",
		Tables: []ocr.Table{{Rows: []ocr.Row{
			tableRow("01/03/2024", "SETOR TUNAI", "0000", "1.000.000", "11.000.000"),
			tableRow("02/03/2024", "TRSF E-BANKING", "0000", "250.000 DB", "10.750.000"),
		}}},
	}

	txns, err := NewBCAAdapter().Parse(res)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	first := txns[0]
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), first.TransactionDate)
	assert.Equal(t, "SETOR TUNAI", first.Description)
	assert.Equal(t, "credit", first.TransactionType)
	assert.Equal(t, "1000000", first.Credit.String())
	assert.True(t, first.Debit.IsZero())
	assert.Equal(t, "11000000", first.Balance.String())
	assert.Equal(t, "1234567890", first.AccountNumber)
	assert.Equal(t, "PT CONTOH ABADI", first.AccountHolder)

	second := txns[1]
	assert.Equal(t, "debit", second.TransactionType)
	assert.Equal(t, "250000", second.Debit.String())
	assert.True(t, second.Credit.IsZero())
}

// BCA wraps long descriptions onto dateless rows; those rows extend the
// previous transaction instead of producing a new one.
func TestBCAParseContinuationRows(t *testing.T) {
	res := &ocr.Result{
		RawText: "BANK CENTRAL ASIA",
		Tables: []ocr.Table{{Rows: []ocr.Row{
			tableRow("05/03/2024", "TRSF E-BANKING DB", "0000", "500.000 DB", "9.500.000"),
			tableRow("", "PT SUPPLIER MAKMUR", "", "", ""),
			tableRow("", "INV/2024/0042", "", "", ""),
		}}},
	}

	txns, err := NewBCAAdapter().Parse(res)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "TRSF E-BANKING DB PT SUPPLIER MAKMUR INV/2024/0042", txns[0].Description)
}

func TestBCAParseFromText(t *testing.T) {
	text := `BANK CENTRAL ASIA
01/03/2024 SETOR TUNAI 1.000.000 11.000.000
02/03/2024 BIAYA ADM 15.000 DB 10.985.000`

	txns, err := NewBCAAdapter().ParseFromText(text)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "credit", txns[0].TransactionType)
	assert.Equal(t, "debit", txns[1].TransactionType)
	assert.Equal(t, "15000", txns[1].Debit.String())
	assert.Equal(t, "10985000", txns[1].Balance.String())
}

// Yearless dd/MM dates are completed with the current year.
func TestBCAParseFromTextYearlessDate(t *testing.T) {
	text := "07/03 TRSF DARI PT MAJU 2.000.000 13.000.000"
	txns, err := NewBCAAdapter().ParseFromText(text)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, time.Now().Year(), txns[0].TransactionDate.Year())
	assert.Equal(t, time.March, txns[0].TransactionDate.Month())
}

func TestSplitByFlag(t *testing.T) {
	d := func(s string) string { return s }

	debit, credit := splitByFlag(amountOrZero("100.000"), "DB", "whatever")
	assert.Equal(t, d("100000"), debit.String())
	assert.True(t, credit.IsZero())

	debit, credit = splitByFlag(amountOrZero("(50.000)"), "", "whatever")
	assert.Equal(t, d("50000"), debit.String())
	assert.True(t, credit.IsZero())

	debit, credit = splitByFlag(amountOrZero("75.000"), "", "PEMBAYARAN LISTRIK")
	assert.Equal(t, d("75000"), debit.String())
	assert.True(t, credit.IsZero())

	debit, credit = splitByFlag(amountOrZero("200.000"), "", "TRANSFER DARI PT A")
	assert.True(t, debit.IsZero())
	assert.Equal(t, d("200000"), credit.String())

	// Ambiguous descriptions default to credit.
	debit, credit = splitByFlag(amountOrZero("10.000"), "", "XYZ")
	assert.True(t, debit.IsZero())
	assert.Equal(t, d("10000"), credit.String())
}

func TestParseFlag(t *testing.T) {
	for _, f := range []string{"D", "DB", "DR", "debit"} {
		assert.Equal(t, "debit", parseFlag(f), f)
	}
	for _, f := range []string{"C", "CR", "K", "KR", "KREDIT"} {
		assert.Equal(t, "credit", parseFlag(f), f)
	}
	assert.Equal(t, "", parseFlag("X"))
	assert.Equal(t, "", parseFlag(""))
}

func TestExtractAccountMetadata(t *testing.T) {
	text := fmt.Sprintf("Nomor Rekening : %s\nNama Nasabah : PT SINAR JAYA\n", "008-123-4567")
	assert.Equal(t, "0081234567", ExtractAccountNumber(text))
	assert.Equal(t, "PT SINAR JAYA", ExtractAccountHolder(text))

	assert.Equal(t, "", ExtractAccountNumber("no header here"))
	assert.Equal(t, "", ExtractAccountHolder("no header here"))
}
