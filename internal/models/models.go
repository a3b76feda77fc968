package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchStatus is the lifecycle state of an upload batch.
// Transitions: processing -> {completed, partial, failed, cancelled}. Terminal
// states never regress.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchPartial    BatchStatus = "partial"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchCompleted, BatchPartial, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// FileStatus is the lifecycle state of a single uploaded file.
// Transitions: pending -> processing -> {completed, failed}.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// Document types recognized by the parser registry.
const (
	DocFakturPajak   = "faktur_pajak"
	DocPPh21         = "pph21"
	DocPPh23         = "pph23"
	DocInvoice       = "invoice"
	DocRekeningKoran = "rekening_koran"
)

// User is an account that owns batches and reconciliation projects.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	IsActive     bool       `json:"is_active"`
	IsAdmin      bool       `json:"is_admin"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Batch groups the files of one upload and tracks their processing.
type Batch struct {
	ID             uuid.UUID   `json:"id"`
	UserID         uuid.UUID   `json:"user_id"`
	Status         BatchStatus `json:"status"`
	TotalFiles     int         `json:"total_files"`
	ProcessedFiles int         `json:"processed_files"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
}

// ProgressPercentage returns processed/total as 0-100.
func (b *Batch) ProgressPercentage() float64 {
	if b.TotalFiles == 0 {
		return 0
	}
	return float64(b.ProcessedFiles) / float64(b.TotalFiles) * 100
}

// DocumentFile is one uploaded artifact inside a batch. StoredPath points to
// an existing regular file in the vault until the batch is purged.
type DocumentFile struct {
	ID              uuid.UUID  `json:"id"`
	BatchID         uuid.UUID  `json:"batch_id"`
	DisplayName     string     `json:"display_name"`
	StoredPath      string     `json:"-"`
	DeclaredType    string     `json:"declared_type"`
	SizeBytes       int64      `json:"size_bytes"`
	MimeType        string     `json:"mime_type"`
	ContentHash     string     `json:"content_hash"`
	Status          FileStatus `json:"status"`
	ProcessingStart *time.Time `json:"processing_start,omitempty"`
	ProcessingEnd   *time.Time `json:"processing_end,omitempty"`
	ResultID        *uuid.UUID `json:"result_id,omitempty"`
}

// ScanResult holds the extraction output for one processed file.
// ExtractedData is an opaque nested map; the service reads it only when
// importing into reconciliation.
type ScanResult struct {
	ID                    uuid.UUID              `json:"id"`
	BatchID               uuid.UUID              `json:"batch_id"`
	DocumentFileID        uuid.UUID              `json:"document_file_id"`
	DocumentType          string                 `json:"document_type"`
	OriginalFilename      string                 `json:"original_filename"`
	RawText               string                 `json:"raw_text,omitempty"`
	ExtractedData         map[string]interface{} `json:"extracted_data"`
	Confidence            float64                `json:"confidence"`
	EngineUsed            string                 `json:"engine_used"`
	ProcessingTimeSeconds float64                `json:"processing_time_seconds"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// LogLevel for processing logs.
type LogLevel string

const (
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// ProcessingLog is an audit line attached to a batch.
type ProcessingLog struct {
	ID        int64     `json:"id"`
	BatchID   uuid.UUID `json:"batch_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MatchStatus of an invoice or transaction within a project.
type MatchStatus string

const (
	MatchUnmatched     MatchStatus = "unmatched"
	MatchAutoMatched   MatchStatus = "autoMatched"
	MatchManualMatched MatchStatus = "manualMatched"
)

// InvoiceType distinguishes output (keluaran) from input (masukan) VAT
// invoices.
type InvoiceType string

const (
	InvoiceKeluaran InvoiceType = "keluaran"
	InvoiceMasukan  InvoiceType = "masukan"
)

// ReconciliationProject scopes a matching run over imported invoices and
// transactions.
type ReconciliationProject struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	CompanyNpwp string    `json:"company_npwp"`
	Status      string    `json:"status"`

	TotalInvoices         int `json:"total_invoices"`
	TotalTransactions     int `json:"total_transactions"`
	MatchedCount          int `json:"matched_count"`
	UnmatchedInvoices     int `json:"unmatched_invoices"`
	UnmatchedTransactions int `json:"unmatched_transactions"`

	InvoiceSum     decimal.Decimal `json:"invoice_sum"`
	TransactionSum decimal.Decimal `json:"transaction_sum"`
	VarianceAmount decimal.Decimal `json:"variance_amount"`

	CreatedAt time.Time `json:"created_at"`
}

// TaxInvoice is an imported Faktur Pajak row inside a project.
type TaxInvoice struct {
	ID            uuid.UUID   `json:"id"`
	ProjectID     uuid.UUID   `json:"project_id"`
	ScanResultID  *uuid.UUID  `json:"scan_result_id,omitempty"`
	InvoiceNumber string      `json:"invoice_number"`
	InvoiceDate   time.Time   `json:"invoice_date"`
	InvoiceType   InvoiceType `json:"invoice_type"`
	// SourceDocType records which document kind produced the row
	// (faktur_pajak, pph21, pph23, invoice).
	SourceDocType string `json:"source_doc_type"`
	VendorName    string `json:"vendor_name"`
	VendorNpwp    string `json:"vendor_npwp"`

	DPP         decimal.Decimal `json:"dpp"`
	PPN         decimal.Decimal `json:"ppn"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	MatchStatus          MatchStatus `json:"match_status"`
	MatchConfidence      float64     `json:"match_confidence"`
	MatchedTransactionID *uuid.UUID  `json:"matched_transaction_id,omitempty"`
	MatchedAt            *time.Time  `json:"matched_at,omitempty"`
}

// BankTransaction is an imported statement row inside a project.
type BankTransaction struct {
	ID              uuid.UUID  `json:"id"`
	ProjectID       uuid.UUID  `json:"project_id"`
	ScanResultID    *uuid.UUID `json:"scan_result_id,omitempty"`
	BankName        string     `json:"bank_name"`
	AccountNumber   string     `json:"account_number"`
	TransactionDate time.Time  `json:"transaction_date"`
	Description     string     `json:"description"`
	ReferenceNumber string     `json:"reference_number"`

	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`

	ExtractedVendorName    string `json:"extracted_vendor_name,omitempty"`
	ExtractedInvoiceNumber string `json:"extracted_invoice_number,omitempty"`

	MatchStatus      MatchStatus `json:"match_status"`
	MatchConfidence  float64     `json:"match_confidence"`
	MatchedInvoiceID *uuid.UUID  `json:"matched_invoice_id,omitempty"`
	MatchedAt        *time.Time  `json:"matched_at,omitempty"`
}

// ReconciliationMatch pairs one invoice with one transaction. At most one
// active match exists per (invoice, transaction).
type ReconciliationMatch struct {
	ID            uuid.UUID `json:"id"`
	ProjectID     uuid.UUID `json:"project_id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	MatchType     string    `json:"match_type"` // auto | manual
	MatchScore    float64   `json:"match_score"`

	AmountVariance   decimal.Decimal `json:"amount_variance"`
	DateVarianceDays int             `json:"date_variance_days"`

	AmountScore    float64 `json:"amount_score"`
	DateScore      float64 `json:"date_score"`
	VendorScore    float64 `json:"vendor_score"`
	ReferenceScore float64 `json:"reference_score"`

	Status          string    `json:"status"` // active | rejected
	Confirmed       bool      `json:"confirmed"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TransactionHint is an AI-extracted counterparty hint for one bank
// transaction description.
type TransactionHint struct {
	VendorName    string `json:"vendor"`
	InvoiceNumber string `json:"invoice_number"`
}

// StandardizedTransaction is the in-memory record every bank adapter
// produces. Monetary amounts are fixed to two fractional digits; sign is
// carried by the debit/credit split.
type StandardizedTransaction struct {
	TransactionDate time.Time  `json:"transaction_date"`
	PostingDate     *time.Time `json:"posting_date,omitempty"`
	EffectiveDate   *time.Time `json:"effective_date,omitempty"`
	Description     string     `json:"description"`
	TransactionType string     `json:"transaction_type"`
	ReferenceNumber string     `json:"reference_number"`

	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`

	BankName      string                 `json:"bank_name"`
	AccountNumber string                 `json:"account_number"`
	AccountHolder string                 `json:"account_holder"`
	RawData       map[string]interface{} `json:"raw_data,omitempty"`
}
