package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "faktur.pdf", "faktur.pdf"},
		{"unix traversal", "../../etc/passwd", "passwd"},
		{"windows traversal", `..\..\windows\system32\cmd.exe`, "cmd.exe"},
		{"embedded traversal", "a..b..c.pdf", "a.b.c.pdf"},
		{"control chars", "inv\x00oice\x1f.pdf", "invoice.pdf"},
		{"reserved stem", "CON.pdf", "_CON.pdf"},
		{"reserved stem lowercase", "nul.txt", "_nul.txt"},
		{"suspicious chars", `fak<tur>:"x".pdf`, "fak_tur___x_.pdf"},
		{"empty after strip", "...", "unnamed"},
		{"dot space trim", " rekening.pdf ", "rekening.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilenameProperty(t *testing.T) {
	adversarial := []string{
		"../../../etc/shadow",
		`C:\Users\x\..\..\boot.ini`,
		"a/b/c/../../d.pdf",
		"\x00\x01\x02.pdf",
		strings.Repeat("x", 400) + ".pdf",
		"....//....\\\\file.pdf",
		"COM7.xlsx",
		"normal-file_1.jpeg",
	}
	for _, in := range adversarial {
		got := SanitizeFilename(in)
		assert.NotContains(t, got, "/", "input %q", in)
		assert.NotContains(t, got, `\`, "input %q", in)
		assert.NotContains(t, got, "..", "input %q", in)
		assert.LessOrEqual(t, len(got), 255, "input %q", in)
		assert.NotEmpty(t, got, "input %q", in)
		for _, r := range got {
			assert.False(t, r < 0x20 || r == 0x7f, "control char in output of %q", in)
		}
		stem := strings.ToLower(strings.TrimSuffix(got, ".pdf"))
		assert.False(t, reservedStems[stem], "reserved stem survived for %q", in)
	}
}

func TestSanitizeFilenameKeepsExtensionWhenClamping(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("a", 300) + ".xlsx")
	assert.True(t, strings.HasSuffix(got, ".xlsx"))
	assert.LessOrEqual(t, len(got), 255)
}
