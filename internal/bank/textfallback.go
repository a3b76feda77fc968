package bank

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// textLine is the normalized capture of one statement line from the regex
// fallback path. Either amount+flag or debit+credit is populated, matching
// whichever shape the bank prints.
type textLine struct {
	date        string
	description string
	reference   string
	amount      string
	flag        string
	debit       string
	credit      string
	balance     string
}

var yearlessDateRe = regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}$`)

// parseTextDate parses line dates, completing dd/MM values (BCA prints no
// year on transaction rows) with the current year.
func parseTextDate(s string) (time.Time, bool) {
	if yearlessDateRe.MatchString(s) {
		sep := "/"
		if !regexp.MustCompile(`/`).MatchString(s) {
			sep = "-"
		}
		s = fmt.Sprintf("%s%s%d", s, sep, time.Now().Year())
	}
	return parsers.ParseDate(s)
}

// parseTextWithRegex runs the per-bank line regex over raw OCR text and
// assembles transactions. Lines whose date or amounts fail to parse are
// skipped rather than failing the whole statement.
func parseTextWithRegex(bankName, text string, re *regexp.Regexp, capture func([]string) textLine) ([]models.StandardizedTransaction, error) {
	account := ExtractAccountNumber(text)
	holder := ExtractAccountHolder(text)

	var txns []models.StandardizedTransaction
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		line := capture(m)
		date, ok := parseTextDate(line.date)
		if !ok {
			continue
		}

		var debit, credit decimal.Decimal
		if line.debit != "" || line.credit != "" {
			debit = amountOrZero(line.debit)
			credit = amountOrZero(line.credit)
		} else {
			debit, credit = splitByFlag(amountOrZero(line.amount), line.flag, line.description)
		}

		txType := "credit"
		if debit.IsPositive() {
			txType = "debit"
		}

		t := newTransaction(bankName, date, nil, nil,
			line.description, line.reference, txType, debit, credit,
			amountOrZero(line.balance))
		t.AccountNumber = account
		t.AccountHolder = holder
		txns = append(txns, t)
	}
	return txns, nil
}
