package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// TesseractEngine is the local fallback. It shells out to the tesseract
// binary; availability is probed once at construction.
type TesseractEngine struct {
	language string
}

// NewTesseractEngine returns nil when the tesseract binary is not on PATH.
func NewTesseractEngine(language string) *TesseractEngine {
	if language == "" {
		language = "ind+eng"
	}
	if _, err := exec.LookPath("tesseract"); err != nil {
		return nil
	}
	return &TesseractEngine{language: language}
}

// Name implements Engine.
func (t *TesseractEngine) Name() string {
	return "tesseract"
}

// ExtractText implements Engine. Images are preprocessed first; PDFs are
// rasterized page by page via ImageMagick before OCR.
func (t *TesseractEngine) ExtractText(ctx context.Context, path string) (*Result, error) {
	input := path
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		rasterized, cleanup, err := rasterizePdf(ctx, path)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		input = rasterized
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read artifact: %w", err)
		}
		pre := NewPreprocessor()
		processed, err := pre.PreprocessImageFromBytes(data)
		if err == nil && len(processed) > 0 {
			tmp := filepath.Join(os.TempDir(), fmt.Sprintf("ocr_in_%d.jpg", os.Getpid()))
			if os.WriteFile(tmp, processed, 0o644) == nil {
				defer os.Remove(tmp)
				input = tmp
			}
		}
	}

	cmd := exec.CommandContext(ctx, "tesseract", input, "stdout", "-l", t.language, "--psm", "6")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %v - %s", err, stderr.String())
	}

	text := stdout.String()
	return &Result{
		RawText:    text,
		Confidence: t.meanConfidence(ctx, input),
		Raw:        text,
	}, nil
}

// meanConfidence re-runs tesseract in TSV mode and averages per-word
// confidences. Errors degrade to a flat 60.
func (t *TesseractEngine) meanConfidence(ctx context.Context, input string) float64 {
	cmd := exec.CommandContext(ctx, "tesseract", input, "stdout", "-l", t.language, "tsv")
	out, err := cmd.Output()
	if err != nil {
		return 60
	}

	var sum float64
	var n int
	for _, line := range strings.Split(string(out), "\n")[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		sum += conf
		n++
	}
	if n == 0 {
		return 60
	}
	return sum / float64(n)
}

// rasterizePdf converts the first pages of a PDF into a single PNG strip
// suitable for tesseract input.
func rasterizePdf(ctx context.Context, path string) (string, func(), error) {
	out := filepath.Join(os.TempDir(), fmt.Sprintf("ocr_pdf_%d.png", os.Getpid()))

	args := []string{"-density", "300", path, "-append", "-background", "white", "-alpha", "remove", out}
	var cmd *exec.Cmd
	if _, err := exec.LookPath("magick"); err == nil {
		cmd = exec.CommandContext(ctx, "magick", args...)
	} else {
		cmd = exec.CommandContext(ctx, "convert", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", nil, fmt.Errorf("pdf rasterization failed: %v - %s", err, stderr.String())
	}
	return out, func() { os.Remove(out) }, nil
}
