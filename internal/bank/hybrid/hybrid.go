// Package hybrid implements the rekening-koran processing strategy that
// parses statement rows with bank adapter rules first, validates balances
// chunk by chunk, and calls the LLM only for the chunks that fail. On
// well-printed statements most chunks never touch the LLM.
package hybrid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pajakflow/tax-docs-service/internal/bank"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// ParsedTransaction is a rule-parsed statement row plus the parser's
// confidence in it.
type ParsedTransaction struct {
	models.StandardizedTransaction
	Confidence float64 `json:"confidence"`
}

// Metadata captured from the statement header before row parsing.
type Metadata struct {
	BankName       string          `json:"bank_name"`
	BankCode       string          `json:"bank_code"`
	AccountNumber  string          `json:"account_number"`
	AccountHolder  string          `json:"account_holder"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// Metrics summarizes how the hybrid run split work between rules and LLM.
type Metrics struct {
	RuleBasedCount        int     `json:"rule_based_count"`
	LLMCount              int     `json:"llm_count"`
	ChunksTotal           int     `json:"chunks_total"`
	ChunksWithLLM         int     `json:"chunks_with_gpt"`
	UnresolvedChunks      int     `json:"unresolved_chunks"`
	TokenSavingsPercent   float64 `json:"token_savings_percent"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// Outcome is the merged result of a hybrid run.
type Outcome struct {
	Metadata     Metadata            `json:"metadata"`
	Transactions []ParsedTransaction `json:"transactions"`
	// Confidence = 0.6*avg transaction confidence + 0.4*validation pass rate.
	Confidence float64 `json:"confidence"`
	Metrics    Metrics `json:"processing_metadata"`
}

// ChunkExtractor is the LLM fallback for failed chunks. Implemented by the
// smart mapper; failure is non-fatal.
type ChunkExtractor interface {
	ExtractBankChunk(ctx context.Context, chunkText string, startingBalance decimal.Decimal) ([]models.StandardizedTransaction, error)
}

// Processor drives the hybrid pipeline.
type Processor struct {
	detector  *bank.Detector
	extractor ChunkExtractor

	chunkSize           int
	balanceTolerance    decimal.Decimal
	confidenceThreshold float64

	log *logrus.Entry
}

// NewProcessor wires the processor from config. extractor may be nil, in
// which case failed chunks stay rule-based and are marked unresolved.
func NewProcessor(detector *bank.Detector, extractor ChunkExtractor, cfg models.BankConfig) *Processor {
	return &Processor{
		detector:            detector,
		extractor:           extractor,
		chunkSize:           cfg.ChunkSize,
		balanceTolerance:    decimal.NewFromFloat(cfg.BalanceTolerance),
		confidenceThreshold: cfg.ConfidenceThreshold,
		log:                 logger.WithComponent("bank.hybrid"),
	}
}

// Process runs the full hybrid pipeline over one OCR result.
func (p *Processor) Process(ctx context.Context, res *ocr.Result) (*Outcome, error) {
	start := time.Now()

	adapter, err := p.detector.Detect(res.RawText)
	if err != nil {
		return nil, err
	}

	meta := p.extractMetadata(adapter, res.RawText)

	rows, err := adapter.Parse(res)
	if err != nil {
		return nil, fmt.Errorf("rule-based parse (%s): %w", adapter.Code(), err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no transactions parsed from %s statement", adapter.Name())
	}

	parsed := scoreTransactions(rows)
	if meta.OpeningBalance.IsZero() {
		meta.OpeningBalance = inferOpeningBalance(parsed[0])
	}

	chunks := p.chunk(parsed, meta.OpeningBalance)
	validator := newProgressiveValidator(p.balanceTolerance, p.confidenceThreshold)

	llmRows := 0
	for i := range chunks {
		c := &chunks[i]
		c.Report = validator.validate(c)
		if c.Report.Passed {
			continue
		}

		p.log.WithFields(logrus.Fields{
			"chunk":  c.Index,
			"reason": strings.Join(c.Report.Failures, "; "),
		}).Info("chunk failed validation, trying LLM fallback")

		if p.extractor == nil {
			c.Unresolved = true
			continue
		}
		replaced, ferr := p.extractor.ExtractBankChunk(ctx, c.text(), c.StartBalance)
		if ferr != nil || len(replaced) == 0 {
			// Keep the rule-based rows; the chunk stays unresolved and
			// drags overall confidence down through the pass rate.
			p.log.WithField("chunk", c.Index).WithError(ferr).Warn("LLM fallback failed, keeping rule-based rows")
			c.Unresolved = true
			continue
		}
		c.Transactions = scoreTransactions(replaced)
		c.UsedLLM = true
		llmRows += len(replaced)
		c.Report = validator.validate(c)
	}

	outcome := &Outcome{Metadata: meta}
	passedChunks := 0
	confSum := 0.0
	for _, c := range chunks {
		outcome.Transactions = append(outcome.Transactions, c.Transactions...)
		if c.Report.Passed {
			passedChunks++
		}
	}
	for _, t := range outcome.Transactions {
		confSum += t.Confidence
	}

	avgConf := confSum / float64(len(outcome.Transactions))
	passRate := float64(passedChunks) / float64(len(chunks))
	outcome.Confidence = 0.6*avgConf + 0.4*passRate

	ruleRows := len(outcome.Transactions) - llmRows
	outcome.Metrics = Metrics{
		RuleBasedCount:        ruleRows,
		LLMCount:              llmRows,
		ChunksTotal:           len(chunks),
		ChunksWithLLM:         countUsedLLM(chunks),
		UnresolvedChunks:      countUnresolved(chunks),
		TokenSavingsPercent:   100 * float64(ruleRows) / float64(len(outcome.Transactions)),
		ProcessingTimeSeconds: time.Since(start).Seconds(),
	}

	p.log.WithFields(logrus.Fields{
		"bank":          meta.BankCode,
		"transactions":  len(outcome.Transactions),
		"chunks":        len(chunks),
		"llm_chunks":    outcome.Metrics.ChunksWithLLM,
		"confidence":    outcome.Confidence,
		"token_savings": outcome.Metrics.TokenSavingsPercent,
	}).Info("hybrid processing complete")
	return outcome, nil
}

// extractMetadata pulls header fields; the adapter already knows the bank.
func (p *Processor) extractMetadata(adapter bank.Adapter, text string) Metadata {
	return Metadata{
		BankName:       adapter.Name(),
		BankCode:       adapter.Code(),
		AccountNumber:  bank.ExtractAccountNumber(text),
		AccountHolder:  bank.ExtractAccountHolder(text),
		OpeningBalance: extractOpeningBalance(text),
	}
}

// scoreTransactions attaches a rule confidence to each row: 0.25 for a
// plausible date, 0.15 for a description, 0.30 for a debit/credit amount,
// 0.30 for a balance.
func scoreTransactions(rows []models.StandardizedTransaction) []ParsedTransaction {
	out := make([]ParsedTransaction, 0, len(rows))
	for _, r := range rows {
		conf := 0.0
		if !r.TransactionDate.IsZero() {
			conf += 0.25
		}
		if strings.TrimSpace(r.Description) != "" {
			conf += 0.15
		}
		if r.Debit.IsPositive() || r.Credit.IsPositive() {
			conf += 0.30
		}
		if !r.Balance.IsZero() {
			conf += 0.30
		}
		out = append(out, ParsedTransaction{StandardizedTransaction: r, Confidence: conf})
	}
	return out
}

// chunk partitions transactions; each chunk carries the balance it expects
// to start from.
func (p *Processor) chunk(txns []ParsedTransaction, opening decimal.Decimal) []chunk {
	size := p.chunkSize
	if size <= 0 {
		size = 50
	}

	var chunks []chunk
	startBalance := opening
	for i := 0; i < len(txns); i += size {
		end := i + size
		if end > len(txns) {
			end = len(txns)
		}
		c := chunk{
			Index:        len(chunks),
			StartBalance: startBalance,
			Transactions: txns[i:end],
		}
		chunks = append(chunks, c)
		startBalance = txns[end-1].Balance
	}
	return chunks
}

// inferOpeningBalance back-computes the balance before the first row when no
// header value was found.
func inferOpeningBalance(first ParsedTransaction) decimal.Decimal {
	return first.Balance.Sub(first.Credit).Add(first.Debit)
}

var openingBalanceLabels = []string{
	"SALDO AWAL", "OPENING BALANCE", "BEGINNING BALANCE", "SALDO AKHIR PERIODE LALU",
}

// extractOpeningBalance looks for the labelled opening balance on the first
// page text.
func extractOpeningBalance(text string) decimal.Decimal {
	upper := strings.ToUpper(text)
	for _, label := range openingBalanceLabels {
		idx := strings.Index(upper, label)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(label):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		for _, field := range strings.Fields(rest) {
			if d, ok := parsers.ParseAmount(field); ok && !d.IsZero() {
				return d
			}
		}
	}
	return decimal.Zero
}

func countUsedLLM(chunks []chunk) int {
	n := 0
	for _, c := range chunks {
		if c.UsedLLM {
			n++
		}
	}
	return n
}

func countUnresolved(chunks []chunk) int {
	n := 0
	for _, c := range chunks {
		if c.Unresolved {
			n++
		}
	}
	return n
}
