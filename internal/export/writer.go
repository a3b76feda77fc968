// Package export serializes batch results into spreadsheet files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/pajakflow/tax-docs-service/internal/mapper"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
)

// Row is one exported scan result.
type Row struct {
	No            int
	Filename      string
	DocumentType  string
	InvoiceNumber string
	Date          string
	Vendor        string
	NPWP          string
	DPP           string
	PPN           string
	Total         string
	Confidence    float64
	Engine        string
}

var header = []string{
	"No", "Filename", "Document Type", "Invoice Number", "Date",
	"Vendor", "NPWP", "DPP", "PPN", "Total", "Confidence", "Engine",
}

// BuildRows flattens scan results into the export schema. Results without a
// structured payload still export their identity columns.
func BuildRows(results []models.ScanResult) []Row {
	rows := make([]Row, 0, len(results))
	for i := range results {
		res := &results[i]
		row := Row{
			No:           i + 1,
			Filename:     res.OriginalFilename,
			DocumentType: res.DocumentType,
			Confidence:   res.Confidence,
			Engine:       res.EngineUsed,
		}

		if structured := mapper.GetMap(res.ExtractedData, "smart_mapped"); structured != nil {
			row.InvoiceNumber = mapper.GetString(structured, "invoice", "number")
			row.Date = mapper.GetString(structured, "invoice", "issueDate")
			row.Vendor = mapper.GetString(structured, "seller", "name")
			row.NPWP = parsers.FormatNPWP(mapper.GetString(structured, "seller", "npwp"))
			row.DPP = mapper.GetDecimal(structured, "financials", "dpp").StringFixed(2)
			row.PPN = mapper.GetDecimal(structured, "financials", "ppn").StringFixed(2)
			row.Total = mapper.GetDecimal(structured, "financials", "total").StringFixed(2)
		}
		rows = append(rows, row)
	}
	return rows
}

func (r *Row) cells() []interface{} {
	return []interface{}{
		r.No, r.Filename, r.DocumentType, r.InvoiceNumber, r.Date,
		r.Vendor, r.NPWP, r.DPP, r.PPN, r.Total,
		fmt.Sprintf("%.2f", r.Confidence), r.Engine,
	}
}

// WriteXLSX streams the rows as an Excel workbook.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return err
		}
	}

	for i, row := range rows {
		for col, value := range row.cells() {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(sheet, "B", "B", 32); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "D", "F", 24); err != nil {
		return err
	}
	return f.Write(w)
}

// WriteCSV is the plain-text fallback.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, 0, len(header))
		for _, v := range row.cells() {
			switch val := v.(type) {
			case string:
				record = append(record, val)
			case int:
				record = append(record, strconv.Itoa(val))
			default:
				record = append(record, fmt.Sprint(val))
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
