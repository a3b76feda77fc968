package recon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func day(dd int) time.Time {
	return time.Date(2024, 3, dd, 0, 0, 0, 0, time.UTC)
}

func TestAmountScoreTiers(t *testing.T) {
	base := d(1_000_000)
	tests := []struct {
		txn  decimal.Decimal
		want float64
	}{
		{d(1_000_000), 1.0},
		{d(1_005_000), 0.95}, // 0.5%
		{d(1_030_000), 0.85}, // 3%
		{d(1_080_000), 0.70}, // 8%
		{d(1_200_000), 0.50}, // 20% -> 0.70 - 2*0.10
		{d(2_000_000), 0},    // 100%
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, amountScore(base, tt.txn), 0.0001, "txn %s", tt.txn)
	}
	assert.Equal(t, 0.0, amountScore(decimal.Zero, d(100)))
}

func TestDateScoreTiers(t *testing.T) {
	tests := []struct {
		days int
		want float64
	}{
		{0, 1.0}, {1, 0.95}, {2, 0.85}, {3, 0.85},
		{5, 0.70}, {7, 0.70}, {9, 0.60}, {21, 0.0}, {30, 0.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, dateScore(tt.days), 0.0001, "days %d", tt.days)
	}
}

func TestVendorScore(t *testing.T) {
	txn := &models.BankTransaction{Description: "TRF PT MAJU JAYA INV 2024"}
	assert.Equal(t, 1.0, vendorScore("PT. Maju Jaya", txn))
	assert.Equal(t, 1.0, vendorScore("MAJU JAYA", txn))

	// The AI hint takes precedence over the raw description.
	hinted := &models.BankTransaction{
		Description:         "BYR 83921",
		ExtractedVendorName: "CV Sumber Rezeki",
	}
	assert.Equal(t, 1.0, vendorScore("SUMBER REZEKI", hinted))

	assert.Equal(t, 0.0, vendorScore("", txn))
	assert.Equal(t, 0.0, vendorScore("ANYONE", &models.BankTransaction{}))

	// Partial overlap falls back to subsequence similarity.
	partial := vendorScore("MAJU JAYA ABADI", &models.BankTransaction{Description: "MAJU JY"})
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "MAJU JAYA", normalizeName("PT. Maju Jaya"))
	assert.Equal(t, "BANK XYZ", normalizeName("PT Bank XYZ (Persero) Tbk"))
	assert.Equal(t, "SUMBER", normalizeName("CV Sumber"))
	assert.Equal(t, "", normalizeName("PT"))
}

func TestReferenceScore(t *testing.T) {
	number := "010.000-24.00000042"

	assert.Equal(t, 1.0, referenceScore(number, &models.BankTransaction{
		ReferenceNumber: "TRX 010.000-24.00000042 OK",
	}))
	assert.Equal(t, 0.8, referenceScore(number, &models.BankTransaction{
		Description: "BAYAR FAKTUR 010.000-24.00000042",
	}))
	// Partial token match (>= 3 chars).
	assert.Equal(t, 0.5, referenceScore(number, &models.BankTransaction{
		Description: "PEMBAYARAN 00000042",
	}))
	assert.Equal(t, 1.0, referenceScore("INV-77", &models.BankTransaction{
		ExtractedInvoiceNumber: "INV-77",
	}))
	assert.Equal(t, 0.0, referenceScore(number, &models.BankTransaction{Description: "TARIK TUNAI"}))
	assert.Equal(t, 0.0, referenceScore("", &models.BankTransaction{Description: "X"}))
}

func TestBand(t *testing.T) {
	assert.Equal(t, BandHigh, Band(0.95))
	assert.Equal(t, BandHigh, Band(0.90))
	assert.Equal(t, BandMedium, Band(0.80))
	assert.Equal(t, BandLow, Band(0.55))
	assert.Equal(t, "none", Band(0.49))
}

func TestScorePairWeighting(t *testing.T) {
	inv := &models.TaxInvoice{
		InvoiceNumber: "INV/2024/042",
		InvoiceDate:   day(10),
		VendorName:    "PT MAJU",
		TotalAmount:   d(500_000),
	}
	txn := &models.BankTransaction{
		TransactionDate: day(10),
		Description:     "TRF PT MAJU INV/2024/042",
		Credit:          d(500_000),
	}
	s := ScorePair(inv, txn)
	assert.Equal(t, 1.0, s.Amount)
	assert.Equal(t, 1.0, s.Date)
	assert.Equal(t, 1.0, s.Vendor)
	assert.Equal(t, 0.8, s.Reference)
	assert.InDelta(t, 0.50+0.25+0.15+0.08, s.Total, 0.0001)
	assert.Equal(t, 0, s.DateVarianceDays)
	assert.True(t, s.AmountVariance.IsZero())
}

// Debit-side transactions score on their debit amount.
func TestScorePairDebitSide(t *testing.T) {
	inv := &models.TaxInvoice{InvoiceDate: day(5), VendorName: "X", TotalAmount: d(250_000)}
	txn := &models.BankTransaction{TransactionDate: day(5), Description: "X", Debit: d(250_000)}
	assert.Equal(t, 1.0, ScorePair(inv, txn).Amount)
}

func TestDaysBetweenIgnoresTimeOfDay(t *testing.T) {
	a := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 3, 11, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 1, daysBetween(a, b))
	assert.Equal(t, 1, daysBetween(b, a))
	assert.Equal(t, 0, daysBetween(a, a))
}
