package llm

// ExtractionSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as an output constraint and also use it locally to validate.
func ExtractionSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": extractionProps(),
		"required":   []string{"entries"},
	}
}

// VerificationSchema wraps the extraction shape with the list of corrections.
func VerificationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"corrections": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"corrected": map[string]any{
				"type":       "object",
				"properties": extractionProps(),
				"required":   []string{"entries"},
			},
		},
		"required": []string{"corrections", "corrected"},
	}
}

func extractionProps() map[string]any {
	return map[string]any{
		"supplier_name":  nullable("string"),
		"invoice_number": nullable("string"),
		"invoice_date":   dateProp(),
		"due_date":       dateProp(),
		"total_amount":   nullable("number"),
		"gst_amount":     nullable("number"),
		"currency":       map[string]any{"type": []string{"string", "null"}, "pattern": `^[A-Z]{3}$`},
		"gst_number":     nullable("string"),
		"notes":          nullable("string"),
		"entries": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":  map[string]any{"type": "string", "minLength": 1},
					"amount": nullable("number"),
					"type":   nullable("string"),
					"attrs":  map[string]any{"type": []string{"object", "null"}},
				},
				"required": []string{"label"},
			},
		},
	}
}

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

func dateProp() map[string]any {
	return map[string]any{"type": []string{"string", "null"}, "pattern": `^\d{4}-\d{2}-\d{2}$`}
}
