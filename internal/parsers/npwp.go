package parsers

import "strings"

// NormalizeNPWP strips formatting from an NPWP, keeping digits only.
// "01.234.567.8-901.000" becomes "012345678901000".
func NormalizeNPWP(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidNPWP reports whether the value normalizes to the 15-digit NPWP
// format. The newer 16-digit NIK-based identifiers are accepted too.
func IsValidNPWP(s string) bool {
	n := len(NormalizeNPWP(s))
	return n == 15 || n == 16
}

// FormatNPWP renders a normalized 15-digit NPWP in the canonical dotted
// format. Values of other lengths are returned unchanged.
func FormatNPWP(s string) string {
	d := NormalizeNPWP(s)
	if len(d) != 15 {
		return s
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "." + d[8:9] + "-" + d[9:12] + "." + d[12:15]
}

// SameNPWP compares two NPWPs after normalization.
func SameNPWP(a, b string) bool {
	na, nb := NormalizeNPWP(a), NormalizeNPWP(b)
	return na != "" && na == nb
}
