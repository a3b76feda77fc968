package hybrid

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajakflow/tax-docs-service/internal/bank"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

var testConfig = models.BankConfig{
	ChunkSize:           50,
	BalanceTolerance:    0.01,
	ConfidenceThreshold: 0.90,
}

// statement builds a synthetic BCA statement with n credit rows of 1.000
// each, running from the opening balance.
func statement(n int, opening decimal.Decimal, withHeader bool) (*ocr.Result, []decimal.Decimal) {
	header := "BANK CENTRAL ASIA\nNo. Rek : 123-456-7890\n"
	if withHeader {
		header += "SALDO AWAL " + parsers.FormatAmountID(opening) + "\n"
	}

	credit := decimal.NewFromInt(1000)
	balance := opening
	var balances []decimal.Decimal
	var rows []ocr.Row
	for i := 0; i < n; i++ {
		balance = balance.Add(credit)
		balances = append(balances, balance)
		rows = append(rows, ocr.Row{Cells: []ocr.Cell{
			{Text: "01/03/2024"},
			{Text: fmt.Sprintf("SETOR TUNAI %04d", i+1)},
			{Text: "0000"},
			{Text: parsers.FormatAmountID(credit)},
			{Text: parsers.FormatAmountID(balance)},
		}})
	}
	return &ocr.Result{
		RawText: header,
		Tables:  []ocr.Table{{Rows: rows}},
	}, balances
}

// correctingExtractor rebuilds a chunk from the true statement arithmetic,
// standing in for the LLM.
type correctingExtractor struct {
	calls int
}

func (e *correctingExtractor) ExtractBankChunk(_ context.Context, chunkText string, startingBalance decimal.Decimal) ([]models.StandardizedTransaction, error) {
	e.calls++
	credit := decimal.NewFromInt(1000)
	balance := startingBalance
	var out []models.StandardizedTransaction
	for i := 0; i < 50; i++ {
		balance = balance.Add(credit)
		out = append(out, models.StandardizedTransaction{
			TransactionDate: mustDate("01/03/2024"),
			Description:     fmt.Sprintf("SETOR TUNAI (llm %d)", i+1),
			Credit:          credit,
			Balance:         balance,
			BankName:        "Bank Central Asia",
		})
	}
	return out, nil
}

func mustDate(s string) time.Time {
	d, ok := parsers.ParseDate(s)
	if !ok {
		panic("bad test date " + s)
	}
	return d
}

func TestProcessCleanStatement(t *testing.T) {
	res, _ := statement(120, decimal.NewFromInt(10_000_000), true)
	p := NewProcessor(bank.NewDetector(), nil, testConfig)

	out, err := p.Process(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, "bca", out.Metadata.BankCode)
	assert.Equal(t, "1234567890", out.Metadata.AccountNumber)
	assert.True(t, decimal.NewFromInt(10_000_000).Equal(out.Metadata.OpeningBalance))

	assert.Len(t, out.Transactions, 120)
	assert.Equal(t, 3, out.Metrics.ChunksTotal)
	assert.Equal(t, 0, out.Metrics.ChunksWithLLM)
	assert.Equal(t, 0, out.Metrics.UnresolvedChunks)
	assert.Equal(t, 120, out.Metrics.RuleBasedCount)
	assert.InDelta(t, 100.0, out.Metrics.TokenSavingsPercent, 0.001)
	assert.InDelta(t, 1.0, out.Confidence, 0.001)
}

// One corrupted saldo inside chunk 2 routes exactly that chunk to the LLM;
// chunks 1 and 3 stay rule-based.
func TestProcessRoutesBadChunkToLLM(t *testing.T) {
	res, _ := statement(120, decimal.NewFromInt(10_000_000), true)
	// Row 73 (chunk 2) gets an arithmetic error in its saldo.
	bad := res.Tables[0].Rows[72].Cells[4].Text
	res.Tables[0].Rows[72].Cells[4].Text = "9" + bad

	extractor := &correctingExtractor{}
	p := NewProcessor(bank.NewDetector(), extractor, testConfig)

	out, err := p.Process(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 1, out.Metrics.ChunksWithLLM)
	assert.Equal(t, 0, out.Metrics.UnresolvedChunks)
	assert.Equal(t, 50, out.Metrics.LLMCount)
	assert.Equal(t, 70, out.Metrics.RuleBasedCount)
	assert.Len(t, out.Transactions, 120)
	assert.GreaterOrEqual(t, out.Confidence, 0.7)

	// Saldo continuity holds within every chunk after the fallback.
	prev := out.Metadata.OpeningBalance
	for i, txn := range out.Transactions {
		expected := prev.Add(txn.Credit).Sub(txn.Debit)
		assert.True(t, expected.Sub(txn.Balance).Abs().LessThanOrEqual(decimal.NewFromFloat(0.01)),
			"row %d: expected %s got %s", i, expected, txn.Balance)
		prev = txn.Balance
	}
}

// Without an extractor the bad chunk keeps its rule-based rows, is counted
// unresolved, and drags the overall confidence through the pass rate.
func TestProcessFallbackUnavailable(t *testing.T) {
	res, _ := statement(120, decimal.NewFromInt(10_000_000), true)
	res.Tables[0].Rows[72].Cells[4].Text = "1,00"

	p := NewProcessor(bank.NewDetector(), nil, testConfig)
	out, err := p.Process(context.Background(), res)
	require.NoError(t, err)

	assert.Len(t, out.Transactions, 120)
	assert.Equal(t, 0, out.Metrics.ChunksWithLLM)
	assert.Equal(t, 1, out.Metrics.UnresolvedChunks)
	// avg confidence 1.0, pass rate 2/3.
	assert.InDelta(t, 0.6+0.4*(2.0/3.0), out.Confidence, 0.001)
}

// A failing extractor behaves like a missing one: rule rows are kept.
type failingExtractor struct{}

func (failingExtractor) ExtractBankChunk(context.Context, string, decimal.Decimal) ([]models.StandardizedTransaction, error) {
	return nil, fmt.Errorf("provider unavailable")
}

func TestProcessFallbackFailure(t *testing.T) {
	res, _ := statement(60, decimal.NewFromInt(5_000_000), true)
	res.Tables[0].Rows[10].Cells[4].Text = "1,00"

	p := NewProcessor(bank.NewDetector(), failingExtractor{}, testConfig)
	out, err := p.Process(context.Background(), res)
	require.NoError(t, err)

	assert.Len(t, out.Transactions, 60)
	assert.Equal(t, 1, out.Metrics.UnresolvedChunks)
	assert.Equal(t, 0, out.Metrics.ChunksWithLLM)
}

func TestProcessInfersOpeningBalance(t *testing.T) {
	res, _ := statement(10, decimal.NewFromInt(2_000_000), false)
	p := NewProcessor(bank.NewDetector(), nil, testConfig)

	out, err := p.Process(context.Background(), res)
	require.NoError(t, err)
	// First row: balance 2.001.000, credit 1.000 -> opening 2.000.000.
	assert.True(t, decimal.NewFromInt(2_000_000).Equal(out.Metadata.OpeningBalance),
		"got %s", out.Metadata.OpeningBalance)
}

func TestProcessUnknownBank(t *testing.T) {
	p := NewProcessor(bank.NewDetector(), nil, testConfig)
	_, err := p.Process(context.Background(), &ocr.Result{RawText: "just an invoice"})
	assert.ErrorIs(t, err, bank.ErrBankNotDetected)
}

func TestValidatorBalanceContinuity(t *testing.T) {
	v := newProgressiveValidator(decimal.NewFromFloat(0.01), 0.90)

	good := chunk{
		StartBalance: decimal.NewFromInt(1000),
		Transactions: scoreTransactions([]models.StandardizedTransaction{
			{TransactionDate: mustDate("01/03/2024"), Description: "A", Credit: decimal.NewFromInt(500), Balance: decimal.NewFromInt(1500)},
			{TransactionDate: mustDate("02/03/2024"), Description: "B", Debit: decimal.NewFromInt(200), Balance: decimal.NewFromInt(1300)},
		}),
	}
	report := v.validate(&good)
	assert.True(t, report.Passed, "failures: %v", report.Failures)

	bad := good
	bad.Transactions = scoreTransactions([]models.StandardizedTransaction{
		{TransactionDate: mustDate("01/03/2024"), Description: "A", Credit: decimal.NewFromInt(500), Balance: decimal.NewFromInt(9999)},
	})
	report = v.validate(&bad)
	assert.False(t, report.Passed)
	assert.Contains(t, report.Failures[0], "balance discontinuity")
}

// A chunk whose balance legitimately reaches zero is not a missing-balance
// failure.
func TestValidatorZeroBalance(t *testing.T) {
	v := newProgressiveValidator(decimal.NewFromFloat(0.01), 0.50)
	c := chunk{
		StartBalance: decimal.NewFromInt(700),
		Transactions: scoreTransactions([]models.StandardizedTransaction{
			{TransactionDate: mustDate("01/03/2024"), Description: "PAYOUT", Debit: decimal.NewFromInt(700), Balance: decimal.Zero},
		}),
	}
	report := v.validate(&c)
	assert.True(t, report.Passed, "failures: %v", report.Failures)
}
