package llm

import (
	"context"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// Entry is one financial line as the model reports it.
type Entry struct {
	Label  string       `json:"label"`
	Amount *float64     `json:"amount,omitempty"`
	Type   string       `json:"type,omitempty"`
	Attrs  entity.Attrs `json:"attrs,omitempty"`
}

// Extraction is the structured summary of one invoice.
type Extraction struct {
	SupplierName  *string  `json:"supplier_name,omitempty"`
	InvoiceNumber *string  `json:"invoice_number,omitempty"`
	InvoiceDate   *string  `json:"invoice_date,omitempty"` // YYYY-MM-DD
	DueDate       *string  `json:"due_date,omitempty"`     // YYYY-MM-DD
	TotalAmount   *float64 `json:"total_amount,omitempty"`
	GSTAmount     *float64 `json:"gst_amount,omitempty"`
	Currency      *string  `json:"currency,omitempty"` // ISO 4217
	GSTNumber     *string  `json:"gst_number,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
	Entries       []Entry  `json:"entries"`
}

type ExtractRequest struct {
	Text     string
	Pages    []string
	Filename string
}

// Verification is the result of checking an OCR-derived extraction against
// the document's text layer.
type Verification struct {
	Corrected   Extraction
	Corrections []string
}

// Extractor turns document text into an Extraction. The string result is
// the raw conversation transcript kept for audit.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (Extraction, string, error)
}

type Verifier interface {
	Verify(ctx context.Context, ext Extraction, textLayerRef string) (Verification, error)
}

// Prompt is one single-turn completion request.
type Prompt struct {
	Name   string // "extract" or "verify", used in logs
	System string
	User   string
	Schema map[string]any
}

// Completer is a provider that answers a Prompt with a JSON document.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Model() string
}
