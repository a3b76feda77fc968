// Package parsers normalizes OCR output per document type. Parsers produce
// raw-text envelopes; structured extraction happens later in the smart
// mapper. Rekening koran normally takes the hybrid bank pipeline instead and
// only reaches this registry on the simplified (one-shot LLM) path.
package parsers

import (
	"strings"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Envelope is the raw-text extraction shape persisted for documents that are
// not (yet) structurally mapped.
type Envelope struct {
	DocumentType   string                 `json:"document_type"`
	RawText        string                 `json:"raw_text"`
	TextLines      []string               `json:"text_lines"`
	Stats          EnvelopeStats          `json:"stats"`
	ProcessingInfo map[string]interface{} `json:"processing_info,omitempty"`
}

// EnvelopeStats summarizes the captured text.
type EnvelopeStats struct {
	LineCount int `json:"line_count"`
	CharCount int `json:"char_count"`
	WordCount int `json:"word_count"`
}

// Parser turns one OCR result into an envelope.
type Parser interface {
	Parse(res *ocr.Result) *Envelope
}

// rawTextParser is the shared implementation behind every tax document type.
type rawTextParser struct {
	documentType string
}

func (p *rawTextParser) Parse(res *ocr.Result) *Envelope {
	lines := splitLines(res.RawText)
	return &Envelope{
		DocumentType: p.documentType,
		RawText:      res.RawText,
		TextLines:    lines,
		Stats: EnvelopeStats{
			LineCount: len(lines),
			CharCount: len(res.RawText),
			WordCount: len(strings.Fields(res.RawText)),
		},
		ProcessingInfo: map[string]interface{}{
			"engine":     res.EngineUsed,
			"confidence": res.Confidence,
			"tables":     len(res.Tables),
		},
	}
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// Registry maps document types to their parsers. Adding a type is data, not
// code.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds the default registry.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, dt := range []string{models.DocFakturPajak, models.DocPPh21, models.DocPPh23, models.DocInvoice, models.DocRekeningKoran} {
		r.parsers[dt] = &rawTextParser{documentType: dt}
	}
	return r
}

// Known reports whether the document type has a registered parser.
func (r *Registry) Known(documentType string) bool {
	_, ok := r.parsers[documentType]
	return ok
}

// Parse dispatches on the declared type. Unknown types are treated as
// faktur_pajak; that mirrors the historical behavior and is logged so
// misrouted uploads can be traced.
func (r *Registry) Parse(documentType string, res *ocr.Result) *Envelope {
	p, ok := r.parsers[documentType]
	if !ok {
		logger.WithComponent("parsers").
			WithField("declared_type", documentType).
			Warn("unknown document type, treating as faktur_pajak")
		p = r.parsers[models.DocFakturPajak]
	}
	return p.Parse(res)
}
