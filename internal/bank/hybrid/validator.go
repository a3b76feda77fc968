package hybrid

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// chunk is one validation unit of the statement.
type chunk struct {
	Index        int
	StartBalance decimal.Decimal
	Transactions []ParsedTransaction

	Report     validationReport
	UsedLLM    bool
	Unresolved bool
}

// text serializes the chunk's rows for the LLM fallback prompt.
func (c *chunk) text() string {
	var b strings.Builder
	for _, t := range c.Transactions {
		fmt.Fprintf(&b, "%s | %s | debet=%s | kredit=%s | saldo=%s\n",
			t.TransactionDate.Format("2006-01-02"), t.Description,
			t.Debit.StringFixed(2), t.Credit.StringFixed(2), t.Balance.StringFixed(2))
	}
	return b.String()
}

// endBalance is the reported balance of the chunk's last row.
func (c *chunk) endBalance() decimal.Decimal {
	if len(c.Transactions) == 0 {
		return c.StartBalance
	}
	return c.Transactions[len(c.Transactions)-1].Balance
}

// validationReport lists everything wrong with a chunk.
type validationReport struct {
	Passed        bool
	Failures      []string
	AvgConfidence float64
}

// progressiveValidator checks balance continuity row by row and across
// chunk boundaries.
type progressiveValidator struct {
	tolerance           decimal.Decimal
	confidenceThreshold float64
}

func newProgressiveValidator(tolerance decimal.Decimal, confidenceThreshold float64) *progressiveValidator {
	return &progressiveValidator{tolerance: tolerance, confidenceThreshold: confidenceThreshold}
}

// validate runs all chunk assertions. The chunk's StartBalance doubles as the
// inter-chunk continuity check: the processor seeds it from the previous
// chunk's reported end balance.
func (v *progressiveValidator) validate(c *chunk) validationReport {
	var report validationReport

	if len(c.Transactions) == 0 {
		report.Failures = append(report.Failures, "empty chunk")
		return report
	}

	prev := c.StartBalance
	confSum := 0.0
	for i, t := range c.Transactions {
		confSum += t.Confidence

		if t.TransactionDate.IsZero() {
			report.Failures = append(report.Failures, fmt.Sprintf("row %d: missing date", i))
		}
		if strings.TrimSpace(t.Description) == "" {
			report.Failures = append(report.Failures, fmt.Sprintf("row %d: missing description", i))
		}
		if t.Balance.IsZero() && !expectedBalanceIsZero(prev, t) {
			report.Failures = append(report.Failures, fmt.Sprintf("row %d: missing balance", i))
			continue
		}

		expected := prev.Add(t.Credit).Sub(t.Debit)
		if expected.Sub(t.Balance).Abs().GreaterThan(v.tolerance) {
			report.Failures = append(report.Failures,
				fmt.Sprintf("row %d: balance discontinuity, expected %s got %s",
					i, expected.StringFixed(2), t.Balance.StringFixed(2)))
		}
		prev = t.Balance
	}

	report.AvgConfidence = confSum / float64(len(c.Transactions))
	if report.AvgConfidence < v.confidenceThreshold {
		report.Failures = append(report.Failures,
			fmt.Sprintf("average confidence %.2f below threshold %.2f",
				report.AvgConfidence, v.confidenceThreshold))
	}

	report.Passed = len(report.Failures) == 0
	return report
}

// expectedBalanceIsZero distinguishes a genuinely zero running balance from
// an OCR miss.
func expectedBalanceIsZero(prev decimal.Decimal, t ParsedTransaction) bool {
	return prev.Add(t.Credit).Sub(t.Debit).IsZero()
}
