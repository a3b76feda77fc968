package ocr

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Preprocessor enhances scanned images before OCR. All failures fall back to
// the original bytes; a missing ImageMagick install only costs accuracy.
type Preprocessor struct{}

// NewPreprocessor creates a new image preprocessor.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// PreprocessImageFromBytes applies grayscale, contrast, denoise and sharpen
// filters via ImageMagick.
func (p *Preprocessor) PreprocessImageFromBytes(imageData []byte) ([]byte, error) {
	tmpDir := os.TempDir()
	inputFile := filepath.Join(tmpDir, fmt.Sprintf("pre_in_%d.jpg", os.Getpid()))
	outputFile := filepath.Join(tmpDir, fmt.Sprintf("pre_out_%d.jpg", os.Getpid()))

	if err := os.WriteFile(inputFile, imageData, 0o644); err != nil {
		return imageData, nil
	}
	defer os.Remove(inputFile)
	defer os.Remove(outputFile)

	// Pipeline: resize (if too large) -> grayscale -> contrast -> denoise -> sharpen
	args := []string{
		inputFile,
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		"-normalize",
		"-contrast-stretch", "2%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-unsharp", "0x0.5+0.5+0",
		"-quality", "95",
		outputFile,
	}

	// 'magick' is ImageMagick 7, 'convert' the v6 fallback.
	var cmd *exec.Cmd
	if _, err := exec.LookPath("magick"); err == nil {
		cmd = exec.Command("magick", args...)
	} else {
		cmd = exec.Command("convert", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger.WithComponent("ocr").WithError(err).
			WithField("stderr", stderr.String()).Debug("imagemagick failed, using original image")
		return imageData, nil
	}

	processed, err := os.ReadFile(outputFile)
	if err != nil {
		return imageData, nil
	}
	return processed, nil
}
