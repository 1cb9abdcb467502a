package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// maxPromptChars bounds the document text sent in one request.
const maxPromptChars = 60000

// ExtractionSystemPrompt describes the bookkeeping summary the model returns.
func ExtractionSystemPrompt() string {
	parts := []string{
		"You are reading a financial document on behalf of its owner and writing a structured summary a bookkeeper would trust.",
		"Return ONLY a JSON object that matches the provided JSON Schema. No Markdown, no code fences.",

		// identity
		"Identify who sent the document (supplier_name), the invoice_number, invoice_date and due_date. Dates use YYYY-MM-DD.",
		"currency is a 3-letter ISO 4217 code; default to " + constants.DefaultCurrency + " if the document does not say.",
		"total_amount is the amount due or payable. For retail receipts paid partly with vouchers or store credit use the subtotal of goods.",
		"gst_amount is the GST/VAT/tax amount when shown separately. gst_number is the supplier's tax registration number.",

		// entries
		"List every meaningful number as an entry with a clear label and an amount. Use negative amounts for credits, discounts and refunds.",
		"Give related entries the SAME descriptive type naming the service (broadband, electricity, gas, water, phone, hosting, labour, materials, subscription, freight). Use charge for one-off items and keep subtotal, tax, total and due for summary rows.",
		"Put per-entry details in attrs: unit, unit_amount and unit_price for metered lines (\"278 kWh @ $0.3585\" -> unit kWh, unit_amount 278, unit_price 0.3585); other details in extra1, extra1_label, extra2, extra2_label in order of importance.",
		"Within one type group use the same attrs keys so entries line up as table columns. Do not repeat amount inside attrs.",
		"Order entries: charges grouped by type, then adjustments and discounts, then summary rows.",

		// reading
		"The text may come from OCR: items on one visual row share a line, and digit strings of 10 or more digits are codes, not prices.",
		"Read what is printed. Do not calculate values the document does not show. Skip garbled fragments rather than guess.",
		"Capture the current period only and ignore historical comparisons. Keep notes brief.",
		"Amounts are plain numbers without currency symbols. Omit fields that are not present.",
	}
	return strings.Join(parts, "\n")
}

// BuildExtractionUserPrompt packages the document text and the filename hint.
func BuildExtractionUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	pages := len(req.Pages)
	if pages == 0 {
		pages = 1
	}
	fmt.Fprintf(&b, "Read this %d-page document and extract the structured summary.\n", pages)
	if name := strings.TrimSpace(req.Filename); name != "" {
		b.WriteString("Filename: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("\n--- DOCUMENT TEXT ---\n")
	b.WriteString(truncateText(req.Text, maxPromptChars))
	b.WriteString("\n--- END ---\n")
	return b.String()
}

// VerificationSystemPrompt asks the model to cross-check OCR reads against
// the (unreliable but digit-accurate) text layer.
func VerificationSystemPrompt() string {
	parts := []string{
		"You check an invoice extraction that was produced from OCR text.",
		"You are also given the document's embedded text layer. Its layout may be broken, but digits and codes in it are exact.",
		"Compare every number, date and reference in the extraction with the text layer. Fix values that OCR misread (for example 8 read as 3, or a dropped decimal point).",
		"Do not add, remove or reorder entries and do not change labels unless a character was clearly misread.",
		"Return ONLY a JSON object {\"corrections\": [...], \"corrected\": {...}} matching the provided schema.",
		"Each correction is one short sentence such as \"total_amount 163.84 -> 168.84\". Return an empty corrections list when nothing changes.",
	}
	return strings.Join(parts, "\n")
}

func BuildVerificationUserPrompt(ext Extraction, textLayerRef string) string {
	var b strings.Builder
	b.WriteString("--- EXTRACTION ---\n")
	b.WriteString(mustJSON(ext))
	b.WriteString("\n--- TEXT LAYER ---\n")
	b.WriteString(truncateText(textLayerRef, maxPromptChars))
	b.WriteString("\n--- END ---\n")
	return b.String()
}

// SchemaInstruction renders a schema for providers without native
// structured output.
func SchemaInstruction(schema map[string]any) string {
	return "JSON Schema:\n" + mustJSON(schema)
}

func truncateText(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "\n…(truncated)"
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
