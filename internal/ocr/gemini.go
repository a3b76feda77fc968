package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEngine is the cloud primary: it sends the artifact to Gemini vision
// and asks for a transcript plus any tabular regions.
type GeminiEngine struct {
	apiKey string
	model  string
}

// NewGeminiEngine returns nil when no API key is configured, which keeps the
// engine out of the gateway chain.
func NewGeminiEngine(apiKey, model string) *GeminiEngine {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiEngine{apiKey: apiKey, model: model}
}

// Name implements Engine.
func (e *GeminiEngine) Name() string {
	return "gemini_vision"
}

const ocrPrompt = `Transcribe ALL text in this document image exactly as printed.
Return ONLY valid JSON (no markdown) with this shape:
{
  "text": "the full transcript, preserving line breaks",
  "confidence": 0-100,
  "tables": [
    {"page": 1, "rows": [["cell", "cell", ...], ...]}
  ]
}
Include every tabular region you can see as a table with one array per row.
If there are no tables return an empty array.`

// ExtractText implements Engine.
func (e *GeminiEngine) ExtractText(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	model := client.GenerativeModel(e.model)
	resp, err := model.GenerateContent(ctx,
		genai.ImageData(imageFormat(path), data),
		genai.Text(ocrPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini OCR call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return parseOcrJSON(sb.String())
}

// imageFormat maps the file extension to the MIME subtype Gemini expects.
// PDFs go through as-is: the vision models accept them directly.
func imageFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	case ".tiff":
		return "tiff"
	case ".bmp":
		return "bmp"
	case ".pdf":
		return "pdf"
	default:
		return "jpeg"
	}
}

// parseOcrJSON tolerantly decodes the model's JSON, stripping code fences
// first. A response that is not JSON at all is treated as a plain transcript.
func parseOcrJSON(response string) (*Result, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw struct {
		Text       string      `json:"text"`
		Confidence interface{} `json:"confidence"`
		Tables     []struct {
			Page int        `json:"page"`
			Rows [][]string `json:"rows"`
		} `json:"tables"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		// Not JSON; take the text as-is with low confidence.
		return &Result{RawText: response, Confidence: 50, Raw: response}, nil
	}

	res := &Result{RawText: raw.Text, Raw: response}
	switch c := raw.Confidence.(type) {
	case float64:
		res.Confidence = c
	case string:
		fmt.Sscanf(c, "%f", &res.Confidence)
	}
	if res.Confidence == 0 {
		res.Confidence = 80
	}

	for _, t := range raw.Tables {
		table := Table{PageNumber: t.Page}
		for _, r := range t.Rows {
			row := Row{}
			for _, c := range r {
				row.Cells = append(row.Cells, Cell{Text: c})
			}
			table.Rows = append(table.Rows, row)
		}
		res.Tables = append(res.Tables, table)
	}
	return res, nil
}
