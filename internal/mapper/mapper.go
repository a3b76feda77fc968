package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Mapper performs structured extraction over a single LLM provider.
type Mapper struct {
	provider Provider
	log      *logrus.Entry
}

// NewMapper wraps the provider.
func NewMapper(provider Provider) *Mapper {
	return &Mapper{
		provider: provider,
		log:      logger.WithComponent("mapper"),
	}
}

// ProviderName identifies the wired backend for result metadata.
func (m *Mapper) ProviderName() string {
	return m.provider.Name()
}

// ExtractFromText asks the LLM for the document-type-specific structure and
// returns it as an opaque map plus an extraction-quality confidence in [0,1].
func (m *Mapper) ExtractFromText(ctx context.Context, text, documentType string, metadata map[string]interface{}) (map[string]interface{}, float64, error) {
	start := time.Now()

	prompt := buildPrompt(documentType, text, metadata)
	response, err := m.provider.Complete(ctx, prompt)
	if err != nil {
		return nil, 0, fmt.Errorf("smart mapper extraction: %w", err)
	}

	payload, err := decodeJSONObject(response)
	if err != nil {
		return nil, 0, fmt.Errorf("smart mapper response: %w", err)
	}

	conf := scoreExtraction(documentType, payload)
	m.log.WithFields(logrus.Fields{
		"document_type": documentType,
		"provider":      m.provider.Name(),
		"confidence":    conf,
		"duration_s":    time.Since(start).Seconds(),
	}).Debug("structured extraction complete")
	return payload, conf, nil
}

// decodeJSONObject tolerates markdown fences and leading chatter around the
// JSON body.
func decodeJSONObject(response string) (map[string]interface{}, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	// Some models prepend prose; cut to the outermost object.
	if start := strings.IndexByte(cleaned, '{'); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndexByte(cleaned, '}'); end >= 0 {
		cleaned = cleaned[:end+1]
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	return payload, nil
}

// scoreExtraction computes confidence from extraction quality.
//
// Critical fields score 0.15 each, important fields 0.05, plus bonuses for a
// valid seller NPWP and for financial consistency (total ~ dpp + ppn within
// 5%). Mirrors how OCR confidence is banded elsewhere: >=0.90 high.
func scoreExtraction(documentType string, payload map[string]interface{}) float64 {
	if documentType == models.DocRekeningKoran {
		return scoreStatement(payload)
	}
	var score float64

	number := GetString(payload, "invoice", "number")
	sellerNpwp := GetString(payload, "seller", "npwp")
	total := GetDecimal(payload, "financials", "total")
	ppn := GetDecimal(payload, "financials", "ppn")
	dpp := GetDecimal(payload, "financials", "dpp")

	if number != "" {
		score += 0.15
	}
	if sellerNpwp != "" {
		score += 0.15
	}
	if total.GreaterThan(decimal.Zero) {
		score += 0.15
	}
	if !ppn.IsNegative() {
		score += 0.15
	}

	if GetString(payload, "invoice", "issueDate") != "" {
		score += 0.05
	}
	if dpp.GreaterThan(decimal.Zero) {
		score += 0.05
	}
	if GetString(payload, "seller", "name") != "" {
		score += 0.05
	}
	if GetString(payload, "buyer", "name") != "" {
		score += 0.05
	}

	if parsers.IsValidNPWP(sellerNpwp) {
		score += 0.10
	}
	if total.GreaterThan(decimal.Zero) && dpp.GreaterThan(decimal.Zero) {
		expected := dpp.Add(ppn)
		tolerance := total.Mul(decimal.NewFromFloat(0.05))
		if total.Sub(expected).Abs().LessThanOrEqual(tolerance) {
			score += 0.10
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// scoreStatement rates a one-shot statement extraction by row completeness.
// Capped below the hybrid path's ceiling: without the progressive validator
// there is no saldo arithmetic backing the rows.
func scoreStatement(payload map[string]interface{}) float64 {
	rows := GetSlice(payload, "transactions")
	if len(rows) == 0 {
		return 0
	}
	complete := 0
	for _, item := range rows {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if _, dok := parsers.ParseDate(GetString(entry, "transaction_date")); !dok {
			continue
		}
		if strings.TrimSpace(GetString(entry, "description")) == "" {
			continue
		}
		complete++
	}
	return 0.9 * float64(complete) / float64(len(rows))
}

// ParseLLMDecimal handles the numeric shapes LLMs actually return: JSON
// numbers, bare strings, and strings with thousands separators.
func ParseLLMDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case nil:
		return decimal.Zero
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, ok := parsers.ParseAmount(val)
		if !ok {
			return decimal.Zero
		}
		return d
	}
	return decimal.Zero
}

// ExtractVendorHints asks the LLM to pull counterparty names and invoice
// numbers out of bank transaction descriptions. Input and output are aligned
// by index; a missing hint stays empty.
func (m *Mapper) ExtractVendorHints(ctx context.Context, descriptions []string) ([]models.TransactionHint, error) {
	if len(descriptions) == 0 {
		return nil, nil
	}

	prompt := buildVendorHintPrompt(descriptions)
	response, err := m.provider.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("vendor hint extraction: %w", err)
	}

	payload, err := decodeJSONObject(response)
	if err != nil {
		return nil, fmt.Errorf("vendor hint response: %w", err)
	}

	hints := make([]models.TransactionHint, len(descriptions))
	raw, _ := payload["hints"].([]interface{})
	for i, item := range raw {
		if i >= len(hints) {
			break
		}
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hints[i] = models.TransactionHint{
			VendorName:    GetString(entry, "vendor"),
			InvoiceNumber: GetString(entry, "invoiceNumber"),
		}
	}
	return hints, nil
}
