package security

import (
	"path/filepath"
	"strings"
)

// Windows-reserved device names; stored names must never collide with them.
var reservedStems = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// SanitizeFilename strips path traversal, control characters and reserved
// names, then clamps the result to 255 bytes preserving the extension.
func SanitizeFilename(name string) string {
	// Drop any directory component, both separators.
	name = name[strings.LastIndexByte(name, '/')+1:]
	name = name[strings.LastIndexByte(name, '\\')+1:]

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// control chars dropped
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	name = b.String()

	// Collapse traversal sequences left after separator stripping.
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.Trim(name, ". ")

	if name == "" {
		name = "unnamed"
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if reservedStems[strings.ToLower(stem)] {
		stem = "_" + stem
	}

	// Clamp to 255 bytes, keeping the extension intact.
	const maxLen = 255
	if len(stem)+len(ext) > maxLen {
		keep := maxLen - len(ext)
		if keep < 1 {
			keep = 1
		}
		for keep > 0 && !isUTF8Boundary(stem, keep) {
			keep--
		}
		stem = stem[:keep]
	}
	return stem + ext
}

func isUTF8Boundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
