// Package security validates uploaded blobs before they enter the vault.
package security

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

// Result accumulates everything the validator found about one blob.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	FileInfo FileInfo `json:"file_info"`
}

// FileInfo carries the hashes and detections gathered during validation.
type FileInfo struct {
	MD5          string `json:"md5"`
	SHA256       string `json:"sha256"`
	MimeDetected string `json:"mime_detected"`
	PageCount    int    `json:"page_count,omitempty"`
}

// Scanner is an optional antivirus hook. A nil scanner skips the check.
type Scanner interface {
	Scan(data []byte) error
}

// Validator runs the per-file security checks.
type Validator struct {
	maxFileSize int64
	maxPdfPages int
	allowedExts map[string]bool
	scanner     Scanner
}

// extensionMimes maps allowed extensions to the MIME types we accept for
// them. Sniffed MIME must appear here; when sniffing is inconclusive the
// extension's first entry is assumed.
var extensionMimes = map[string][]string{
	"pdf":  {"application/pdf"},
	"png":  {"image/png"},
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"tiff": {"image/tiff"},
	"bmp":  {"image/bmp", "image/x-ms-bmp"},
	"xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
	"xls":  {"application/vnd.ms-excel", "application/x-ole-storage"},
}

// NewValidator builds a validator from the upload configuration.
func NewValidator(cfg models.UploadConfig, scanner Scanner) *Validator {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Validator{
		maxFileSize: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		maxPdfPages: cfg.MaxPdfPagesPerFile,
		allowedExts: allowed,
		scanner:     scanner,
	}
}

// Validate runs all checks against the blob. Failures accumulate; only the
// size ceiling short-circuits since everything later would rescan an
// oversized buffer.
func (v *Validator) Validate(filename, declaredMime string, data []byte) *Result {
	res := &Result{Valid: true}

	md5sum := md5.Sum(data)
	shasum := sha256.Sum256(data)
	res.FileInfo.MD5 = hex.EncodeToString(md5sum[:])
	res.FileInfo.SHA256 = hex.EncodeToString(shasum[:])

	// (a) Size ceiling: stop here, nothing else is worth scanning.
	if int64(len(data)) > v.maxFileSize {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(
			"file exceeds maximum size of %d MB", v.maxFileSize/(1024*1024)))
		return res
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")

	// (b) Extension allowlist.
	if !v.allowedExts[ext] {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("extension %q is not allowed", ext))
	}

	// (c) MIME vs extension.
	detected := mimetype.Detect(data)
	res.FileInfo.MimeDetected = detected.String()
	if accepted, ok := extensionMimes[ext]; ok {
		if !mimeMatches(detected.String(), accepted) {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf(
				"content type %s does not match extension %q", detected.String(), ext))
		}
	}
	if declaredMime != "" && !strings.HasPrefix(detected.String(), baseMime(declaredMime)) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"declared content type %s differs from detected %s", declaredMime, detected.String()))
	}

	// (d) PDF page ceiling.
	if ext == "pdf" {
		pages := CountPdfPages(data)
		res.FileInfo.PageCount = pages
		if pages > v.maxPdfPages {
			res.Valid = false
			parts := int(math.Ceil(float64(pages) / float64(v.maxPdfPages)))
			res.Errors = append(res.Errors, fmt.Sprintf(
				"PDF has %d pages, maximum is %d; split the document into %d parts",
				pages, v.maxPdfPages, parts))
		}
	}

	// (e) Optional antivirus hook.
	if v.scanner != nil {
		if err := v.scanner.Scan(data); err != nil {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("virus scan rejected file: %v", err))
		}
	}

	// (f) Heuristics.
	v.heuristics(filename, data, res)

	return res
}

func mimeMatches(detected string, accepted []string) bool {
	for _, m := range accepted {
		if strings.HasPrefix(detected, m) {
			return true
		}
	}
	return false
}

func baseMime(m string) string {
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}

var pdfPageRe = regexp.MustCompile(`/Type\s*/Page[^s]`)

// CountPdfPages counts page objects in the raw PDF bytes. Counting object
// markers over-reports on exotic encodings but is exact for the scanner
// output this service receives.
func CountPdfPages(data []byte) int {
	n := len(pdfPageRe.FindAll(data, -1))
	if n == 0 && bytes.HasPrefix(data, []byte("%PDF")) {
		// Linearized PDFs carry /N (page count) in the first object.
		if m := regexp.MustCompile(`/N\s+(\d+)`).FindSubmatch(data[:min(len(data), 2048)]); m != nil {
			var c int
			fmt.Sscanf(string(m[1]), "%d", &c)
			return c
		}
		return 1
	}
	return n
}

var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // MZ (PE)
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O fat
}

var scriptMarkers = []string{
	"<script", "javascript:", "vbscript:", "powershell", "#!/bin/sh", "#!/bin/bash",
}

var suspiciousNameChars = regexp.MustCompile("[<>:\"|?*\x00-\x1f]")

func (v *Validator) heuristics(filename string, data []byte, res *Result) {
	if len(data) < 64 {
		res.Valid = false
		res.Errors = append(res.Errors, "file is empty or too small to be a document")
		return
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(data, sig) {
			res.Valid = false
			res.Errors = append(res.Errors, "file begins with an executable signature")
			break
		}
	}

	head := strings.ToLower(string(data[:min(len(data), 4096)]))
	for _, marker := range scriptMarkers {
		if strings.Contains(head, marker) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("file contains script marker %q", marker))
		}
	}

	if suspiciousNameChars.MatchString(filename) {
		res.Warnings = append(res.Warnings, "filename contains suspicious characters")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
