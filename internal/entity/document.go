package entity

import (
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// Document is an ingested invoice file and the fields extracted from it.
type Document struct {
	ID               int64                    `json:"id"`
	OriginalFilename string                   `json:"original_filename"`
	FilePath         string                   `json:"file_path"`
	Status           constants.DocumentStatus `json:"status"`
	RawExtractedText *string                  `json:"raw_extracted_text,omitempty"`
	OCRTier          *int                     `json:"ocr_tier,omitempty"`
	DisplayName      *string                  `json:"display_name,omitempty"`
	SupplierName     *string                  `json:"supplier_name,omitempty"`
	InvoiceNumber    *string                  `json:"invoice_number,omitempty"`
	InvoiceDate      *string                  `json:"invoice_date,omitempty"` // YYYY-MM-DD
	DueDate          *string                  `json:"due_date,omitempty"`
	TotalAmount      *float64                 `json:"total_amount,omitempty"`
	GSTAmount        *float64                 `json:"gst_amount,omitempty"`
	Currency         *string                  `json:"currency,omitempty"`
	GSTNumber        *string                  `json:"gst_number,omitempty"`
	Notes            *string                  `json:"notes,omitempty"`
	RawLLMResponse   *string                  `json:"raw_llm_response,omitempty"`
	ErrorMessage     *string                  `json:"error_message,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// DraftFields is what the pipeline writes when a document reaches draft.
type DraftFields struct {
	DisplayName    string
	SupplierName   *string
	InvoiceNumber  *string
	InvoiceDate    *string
	DueDate        *string
	TotalAmount    *float64
	GSTAmount      *float64
	Currency       string
	GSTNumber      *string
	Notes          *string
	RawLLMResponse string
}
