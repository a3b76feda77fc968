package parsers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseAmount leniently parses a monetary string. Currency markers and
// whitespace are stripped; the separator convention (Indonesian
// "1.000.000,00" vs US "1,000,000.00") is decided by which separator appears
// last. Parenthesized and minus-prefixed values come back negative.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	upper := strings.ToUpper(s)
	for _, marker := range []string{"RP.", "RP", "IDR", "USD", "$"} {
		upper = strings.ReplaceAll(upper, marker, "")
	}
	s = strings.TrimSpace(upper)
	s = strings.Join(strings.Fields(s), "")
	// Trailing debit/credit letters sometimes cling to the number.
	s = strings.TrimRight(s, "DKCRB")
	if s == "" {
		return decimal.Zero, false
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// Indonesian: dot thousands, comma decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			// US: comma thousands, dot decimal.
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// Only commas: decimal when exactly one with <=2 trailing digits.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		// Only dots: thousands separators when more than one, or when the
		// final group has exactly three digits (Indonesian convention).
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d.Round(2), true
}

// FormatAmountID formats with Indonesian separators: 1.234.567,89.
func FormatAmountID(d decimal.Decimal) string {
	us := FormatAmountUS(d)
	var b strings.Builder
	for _, r := range us {
		switch r {
		case ',':
			b.WriteByte('.')
		case '.':
			b.WriteByte(',')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatAmountUS formats with US separators: 1,234,567.89.
func FormatAmountUS(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)
	out := strings.Join(groups, ",") + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// Indonesian month names, full names first so "agustus" is not clipped by
// the "agu" abbreviation.
var indonesianMonths = []struct{ id, en string }{
	{"januari", "January"}, {"februari", "February"}, {"maret", "March"},
	{"april", "April"}, {"agustus", "August"}, {"september", "September"},
	{"oktober", "October"}, {"november", "November"}, {"desember", "December"},
	{"juni", "June"}, {"juli", "July"}, {"mei", "May"},
	{"jan", "Jan"}, {"feb", "Feb"}, {"mar", "Mar"}, {"apr", "Apr"},
	{"jun", "Jun"}, {"jul", "Jul"}, {"agu", "Aug"}, {"agt", "Aug"},
	{"sep", "Sep"}, {"okt", "Oct"}, {"nov", "Nov"}, {"des", "Dec"},
}

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"2 January 2006",
	"02 January 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"January 2, 2006",
	"02/01/06",
	"02-01-06",
	"2006-01-02T15:04:05Z07:00",
}

// ParseDate parses a date from the closed list of supported layouts. Inputs
// that miss on the first pass get Indonesian month names translated and are
// tried again; the first pass keeps case-sensitive layouts (RFC3339) intact.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := parseDateLayouts(s); ok {
		return t, true
	}

	lower := strings.ToLower(s)
	for _, m := range indonesianMonths {
		if strings.Contains(lower, m.id) {
			lower = strings.ReplaceAll(lower, m.id, strings.ToLower(m.en))
			break
		}
	}
	// time.Parse wants canonical month casing.
	return parseDateLayouts(titleCaseMonths(lower))
}

func parseDateLayouts(s string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func titleCaseMonths(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		trimmed := strings.Trim(w, ",")
		if len(trimmed) >= 3 && isAlpha(trimmed) {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
