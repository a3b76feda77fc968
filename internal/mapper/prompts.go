package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

// buildPrompt selects the document-type-specific extraction prompt.
func buildPrompt(documentType, text string, metadata map[string]interface{}) string {
	switch documentType {
	case models.DocPPh21, models.DocPPh23:
		return buildBuktiPotongPrompt(documentType, text)
	case models.DocRekeningKoran:
		return buildStatementPrompt(text)
	default:
		return buildFakturPrompt(documentType, text)
	}
}

// buildStatementPrompt extracts a whole rekening koran in one shot. Used on
// the simplified path when the hybrid bank pipeline is disabled; the output
// shape matches what the reconciliation importer reads.
func buildStatementPrompt(text string) string {
	return fmt.Sprintf(`You are an expert reader of Indonesian bank statements (rekening koran). Extract the account metadata and every transaction from this OCR text.

## RULES
- Amounts use Indonesian separators (1.000.000,00). Return plain numbers with two decimals.
- Dates to YYYY-MM-DD. Keep descriptions verbatim.
- Exactly one of debit/credit is non-zero per row. DB/D flags mean debit, CR/K mean credit.
- Do not drop, merge, or invent rows.

## OUTPUT
Return ONLY valid JSON (no markdown, no comments):
{
  "metadata": {"bank_name": "...", "account_number": "digits only"},
  "transactions": [
    {"transaction_date": "YYYY-MM-DD", "description": "...", "reference_number": "...", "debit": number, "credit": number, "balance": number}
  ]
}

Statement text:
%s`, text)
}

// buildFakturPrompt covers Faktur Pajak and commercial invoices. The field
// structure is shared; the instructions call out the Faktur Pajak specifics
// (16-digit serial number, NPWP placement, DPP/PPN breakdown).
func buildFakturPrompt(documentType, text string) string {
	docLabel := "Faktur Pajak (Indonesian VAT invoice)"
	if documentType == models.DocInvoice {
		docLabel = "commercial invoice"
	}

	return fmt.Sprintf(`You are an expert reader of Indonesian tax documents. Extract every field from this OCR text of a %s.

## READING RULES
- The SELLER (Pengusaha Kena Pajak / penjual) appears in the top block with its NPWP.
- The BUYER (Pembeli Barang Kena Pajak / pembeli) appears in the second block, also with an NPWP.
- Faktur Pajak serial numbers look like "010.000-24.12345678" or a bare 16-digit code near "Kode dan Nomor Seri Faktur Pajak".
- NPWP format: "01.234.567.8-901.000" or 15 bare digits. Keep the digits, drop the punctuation.
- DPP = Dasar Pengenaan Pajak (tax base). PPN = Pajak Pertambahan Nilai (VAT, 11%% or 12%%).
- Amounts use Indonesian separators: 1.000.000,00. Convert them to plain numbers.
- Dates may use Indonesian month names (e.g. "15 Januari %d"). Return ISO YYYY-MM-DD.
- NEVER invent values. Use null for unreadable strings and 0 for unreadable numbers.
- NEVER copy the seller NPWP into the buyer NPWP or vice versa.

## OUTPUT
Return ONLY valid JSON (no markdown, no comments):
{
  "seller": {"name": "...", "npwp": "digits only", "address": "..."},
  "buyer": {"name": "...", "npwp": "digits only", "address": "..."},
  "invoice": {"number": "serial number as printed", "issueDate": "YYYY-MM-DD", "type": "%s"},
  "financials": {"dpp": number, "ppn": number, "total": number, "discount": number},
  "items": [{"description": "...", "quantity": number, "unitPrice": number}]
}

Document text:
%s`, docLabel, time.Now().Year(), documentType, text)
}

// buildBuktiPotongPrompt covers PPh 21 and PPh 23 withholding slips.
func buildBuktiPotongPrompt(documentType, text string) string {
	article := "21"
	if documentType == models.DocPPh23 {
		article = "23"
	}

	return fmt.Sprintf(`You are an expert reader of Indonesian tax documents. Extract every field from this OCR text of a Bukti Potong PPh Pasal %s (withholding tax slip).

## READING RULES
- The WITHHOLDER (pemotong pajak) issues the slip; the INCOME RECIPIENT is being withheld from. Both carry an NPWP.
- The slip number appears near "Nomor" in the header.
- "Jumlah Penghasilan Bruto" is the gross income base; "PPh yang Dipotong" is the withheld tax.
- NPWP: keep digits, drop punctuation. Amounts use Indonesian separators. Dates to YYYY-MM-DD.
- NEVER invent values. Use null for unreadable strings and 0 for unreadable numbers.

## OUTPUT
Return ONLY valid JSON (no markdown, no comments):
{
  "seller": {"name": "income recipient name", "npwp": "digits only"},
  "buyer": {"name": "withholder name", "npwp": "digits only"},
  "invoice": {"number": "slip number", "issueDate": "YYYY-MM-DD", "type": "%s"},
  "financials": {"dpp": gross income, "ppn": withheld tax, "total": gross income, "rate": tariff percent},
  "incomeType": "description of the income category (kode objek pajak)"
}

Document text:
%s`, article, documentType, text)
}

// buildBankChunkPrompt asks for re-extraction of one failed statement chunk.
// The starting balance anchors the saldo column so the model can self-check.
func buildBankChunkPrompt(chunkText string, startingBalance decimal.Decimal) string {
	return fmt.Sprintf(`You are an expert reader of Indonesian bank statements (rekening koran). The rows below were parsed imperfectly from OCR. Re-extract every transaction.

## RULES
- The balance (saldo) BEFORE the first row is %s. Every row must satisfy: saldo = previous saldo + kredit - debet.
- Amounts use Indonesian separators (1.000.000,00). Return plain numbers with two decimals.
- Dates to YYYY-MM-DD. Keep descriptions verbatim.
- Exactly one of debet/kredit is non-zero per row.
- Do not drop, merge, or invent rows.

## OUTPUT
Return ONLY valid JSON (no markdown, no comments):
{
  "transactions": [
    {"tanggal": "YYYY-MM-DD", "keterangan": "...", "referensi": "...", "debet": number, "kredit": number, "saldo": number}
  ]
}

Statement rows:
%s`, startingBalance.StringFixed(2), chunkText)
}

// buildVendorHintPrompt extracts counterparty hints from transaction
// descriptions for reconciliation.
func buildVendorHintPrompt(descriptions []string) string {
	var b strings.Builder
	for i, d := range descriptions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}

	return fmt.Sprintf(`These are Indonesian bank transaction descriptions. For each one, extract the counterparty (company or person the money went to or came from) and any invoice/faktur number embedded in the text.

## RULES
- Strip bank noise: TRF, TRSF, BI-FAST, BIFAST, SWITCHING, KLIRING, channel codes.
- Company names often appear as PT/CV/UD followed by the name.
- Invoice numbers look like INV/2024/001, FP-010.000-24.12345678, or similar codes.
- Use "" when nothing can be extracted. Keep the output aligned with the input order, one entry per line.

## OUTPUT
Return ONLY valid JSON (no markdown, no comments):
{"hints": [{"vendor": "...", "invoiceNumber": "..."}]}

Descriptions:
%s`, b.String())
}
