package mapper

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// ExtractBankChunk re-extracts one failed statement chunk. Implements the
// hybrid processor's fallback contract.
func (m *Mapper) ExtractBankChunk(ctx context.Context, chunkText string, startingBalance decimal.Decimal) ([]models.StandardizedTransaction, error) {
	prompt := buildBankChunkPrompt(chunkText, startingBalance)
	response, err := m.provider.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("bank chunk extraction: %w", err)
	}

	payload, err := decodeJSONObject(response)
	if err != nil {
		return nil, fmt.Errorf("bank chunk response: %w", err)
	}

	rows := GetSlice(payload, "transactions")
	if len(rows) == 0 {
		return nil, fmt.Errorf("bank chunk response: no transactions")
	}

	txns := make([]models.StandardizedTransaction, 0, len(rows))
	for i, item := range rows {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		date, ok := parsers.ParseDate(GetString(entry, "tanggal"))
		if !ok {
			return nil, fmt.Errorf("bank chunk response: row %d has unparseable date %q", i, GetString(entry, "tanggal"))
		}

		debit := ParseLLMDecimal(entry["debet"]).Abs().Round(2)
		credit := ParseLLMDecimal(entry["kredit"]).Abs().Round(2)
		txType := "credit"
		if debit.IsPositive() {
			txType = "debit"
		}

		txns = append(txns, models.StandardizedTransaction{
			TransactionDate: date,
			Description:     strings.TrimSpace(GetString(entry, "keterangan")),
			ReferenceNumber: strings.TrimSpace(GetString(entry, "referensi")),
			TransactionType: txType,
			Debit:           debit,
			Credit:          credit,
			Balance:         ParseLLMDecimal(entry["saldo"]).Round(2),
		})
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("bank chunk response: no parseable rows")
	}
	return txns, nil
}
