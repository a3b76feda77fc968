package security

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

func testValidator() *Validator {
	return NewValidator(models.UploadConfig{
		MaxFileSizeMB:      1,
		MaxPdfPagesPerFile: 3,
		AllowedExtensions:  []string{"pdf", "png", "jpg"},
	}, nil)
}

// pngBytes is a minimal valid-looking PNG: real signature plus padding so the
// blob clears the minimum-size heuristic.
func pngBytes() []byte {
	sig := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	return append(sig, bytes.Repeat([]byte{0}, 128)...)
}

func pdfBytes(pages int) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	for i := 0; i < pages; i++ {
		fmt.Fprintf(&b, "%d 0 obj << /Type /Page >> endobj\n", i+1)
	}
	b.WriteString(strings.Repeat(" ", 64))
	b.WriteString("%%EOF")
	return b.Bytes()
}

func TestValidateAcceptsCleanPNG(t *testing.T) {
	res := testValidator().Validate("scan.png", "image/png", pngBytes())
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, "image/png", res.FileInfo.MimeDetected)
	assert.NotEmpty(t, res.FileInfo.SHA256)
}

func TestValidateRejectsOversized(t *testing.T) {
	big := make([]byte, 1*1024*1024+1)
	res := testValidator().Validate("big.pdf", "", big)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "maximum size")
}

func TestValidateRejectsDisallowedExtension(t *testing.T) {
	res := testValidator().Validate("macro.docm", "", pngBytes())
	require.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, ";"), "not allowed")
}

func TestValidateRejectsMimeMismatch(t *testing.T) {
	// PNG content behind a .pdf name.
	res := testValidator().Validate("fake.pdf", "", pngBytes())
	require.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, ";"), "does not match extension")
}

func TestValidateRejectsExecutable(t *testing.T) {
	data := append([]byte{0x4D, 0x5A}, bytes.Repeat([]byte{0}, 128)...)
	res := testValidator().Validate("tool.png", "", data)
	require.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, ";"), "executable signature")
}

func TestValidateRejectsTinyBlob(t *testing.T) {
	res := testValidator().Validate("x.png", "", []byte("tiny"))
	assert.False(t, res.Valid)
}

func TestValidatePdfPageCeiling(t *testing.T) {
	res := testValidator().Validate("long.pdf", "application/pdf", pdfBytes(5))
	require.False(t, res.Valid)
	assert.Equal(t, 5, res.FileInfo.PageCount)
	assert.Contains(t, strings.Join(res.Errors, ";"), "split the document into 2 parts")

	res = testValidator().Validate("ok.pdf", "application/pdf", pdfBytes(3))
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestCountPdfPages(t *testing.T) {
	assert.Equal(t, 4, CountPdfPages(pdfBytes(4)))
	// A /Pages node must not count as a page.
	data := []byte("%PDF-1.4\n1 0 obj << /Type /Pages /Kids [] >> endobj\n2 0 obj << /Type /Page >> endobj\n")
	assert.Equal(t, 1, CountPdfPages(data))
}

type rejectAllScanner struct{}

func (rejectAllScanner) Scan([]byte) error { return fmt.Errorf("signature match") }

func TestValidateScannerHook(t *testing.T) {
	v := NewValidator(models.UploadConfig{
		MaxFileSizeMB:      1,
		MaxPdfPagesPerFile: 3,
		AllowedExtensions:  []string{"png"},
	}, rejectAllScanner{})
	res := v.Validate("scan.png", "", pngBytes())
	require.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, ";"), "virus scan rejected")
}
