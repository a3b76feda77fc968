package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

func sampleResults() []models.ScanResult {
	return []models.ScanResult{
		{
			OriginalFilename: "faktur-maret.pdf",
			DocumentType:     models.DocFakturPajak,
			Confidence:       0.95,
			EngineUsed:       "tesseract+openai",
			ExtractedData: map[string]interface{}{
				"smart_mapped": map[string]interface{}{
					"invoice": map[string]interface{}{
						"number":    "010.000-24.00000001",
						"issueDate": "2024-03-10",
					},
					"seller": map[string]interface{}{
						"name": "PT SUPPLIER MAKMUR",
						"npwp": "998887776555000",
					},
					"financials": map[string]interface{}{
						"dpp":   float64(1_000_000),
						"ppn":   float64(110_000),
						"total": float64(1_110_000),
					},
				},
			},
		},
		{
			// Mapper was unavailable for this file: identity columns only.
			OriginalFilename: "scan-buram.png",
			DocumentType:     models.DocInvoice,
			Confidence:       0.41,
			EngineUsed:       "tesseract",
			ExtractedData:    map[string]interface{}{"raw_text": "..."},
		},
	}
}

func TestBuildRows(t *testing.T) {
	rows := BuildRows(sampleResults())
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, 1, first.No)
	assert.Equal(t, "faktur-maret.pdf", first.Filename)
	assert.Equal(t, "010.000-24.00000001", first.InvoiceNumber)
	assert.Equal(t, "PT SUPPLIER MAKMUR", first.Vendor)
	assert.Equal(t, "99.888.777.6-555.000", first.NPWP)
	assert.Equal(t, "1000000.00", first.DPP)
	assert.Equal(t, "110000.00", first.PPN)
	assert.Equal(t, "1110000.00", first.Total)

	second := rows[1]
	assert.Equal(t, 2, second.No)
	assert.Equal(t, "scan-buram.png", second.Filename)
	assert.Empty(t, second.InvoiceNumber)
	assert.Empty(t, second.Total)
	assert.Equal(t, 0.41, second.Confidence)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, BuildRows(sampleResults())))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, header, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "faktur-maret.pdf", records[1][1])
	assert.Equal(t, "1110000.00", records[1][9])
	assert.Equal(t, "0.95", records[1][10])
	assert.Equal(t, "scan-buram.png", records[2][1])
	assert.Equal(t, "", records[2][9])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, BuildRows(sampleResults())))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"Results"}, f.GetSheetList())

	sheetRows, err := f.GetRows("Results")
	require.NoError(t, err)
	require.Len(t, sheetRows, 3)
	assert.Equal(t, header, sheetRows[0])

	got, err := f.GetCellValue("Results", "B2")
	require.NoError(t, err)
	assert.Equal(t, "faktur-maret.pdf", got)

	got, err = f.GetCellValue("Results", "J2")
	require.NoError(t, err)
	assert.Equal(t, "1110000.00", got)
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1, "header only")
}
