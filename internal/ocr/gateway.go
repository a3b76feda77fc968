// Package ocr extracts text and tables from stored artifacts. A Gateway
// routes between a cloud primary and a local fallback; which engines exist is
// a deployment decision.
package ocr

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Cell is one table cell.
type Cell struct {
	Text string `json:"text"`
}

// Row is one table row.
type Row struct {
	Cells []Cell `json:"cells"`
}

// Table is a structured table detected on a page.
type Table struct {
	PageNumber int   `json:"page_number,omitempty"`
	Rows       []Row `json:"rows"`
}

// Result is the output of one OCR pass.
type Result struct {
	RawText               string  `json:"raw_text"`
	Tables                []Table `json:"tables,omitempty"`
	Confidence            float64 `json:"confidence"` // 0-100
	EngineUsed            string  `json:"engine_used"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	Raw                   string  `json:"-"`
}

// Engine is a concrete OCR provider.
type Engine interface {
	Name() string
	ExtractText(ctx context.Context, path string) (*Result, error)
}

// Gateway tries engines in order and returns the first usable result. Empty
// text counts as failure so the fallback still gets a chance.
type Gateway struct {
	engines []Engine
}

// NewGateway builds a gateway over the configured engines, primary first.
// Nil engines are dropped, including nil concrete pointers boxed into the
// interface; calling through one of those would panic on first use.
func NewGateway(engines ...Engine) (*Gateway, error) {
	var active []Engine
	for _, e := range engines {
		if isNilEngine(e) {
			continue
		}
		active = append(active, e)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("no OCR engine configured")
	}
	return &Gateway{engines: active}, nil
}

func isNilEngine(e Engine) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// Engines lists the wired engine names.
func (g *Gateway) Engines() []string {
	names := make([]string, len(g.engines))
	for i, e := range g.engines {
		names[i] = e.Name()
	}
	return names
}

// ExtractText runs the engine chain against the artifact at path.
func (g *Gateway) ExtractText(ctx context.Context, path string) (*Result, error) {
	log := logger.WithComponent("ocr")
	start := time.Now()

	var lastErr error
	for _, engine := range g.engines {
		res, err := engine.ExtractText(ctx, path)
		if err != nil {
			log.WithError(err).WithField("engine", engine.Name()).Warn("engine failed, trying next")
			lastErr = err
			continue
		}
		if strings.TrimSpace(res.RawText) == "" {
			log.WithField("engine", engine.Name()).Warn("engine returned empty text, trying next")
			lastErr = fmt.Errorf("engine %s returned empty text", engine.Name())
			continue
		}
		res.EngineUsed = engine.Name()
		res.ProcessingTimeSeconds = time.Since(start).Seconds()
		return res, nil
	}
	return nil, fmt.Errorf("all OCR engines failed: %w", lastErr)
}
