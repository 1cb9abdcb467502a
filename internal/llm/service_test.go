package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	responses map[string]string
	err       error
	prompts   []Prompt
}

func (f *fakeCompleter) Model() string { return "fake-1" }

func (f *fakeCompleter) Complete(_ context.Context, p Prompt) (string, error) {
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return "", f.err
	}
	return f.responses[p.Name], nil
}

const extractionJSON = `{
  "supplier_name": "Contact Energy",
  "invoice_number": "INV-7781",
  "invoice_date": "2024-08-01",
  "total_amount": 163.54,
  "gst_amount": 21.33,
  "entries": [
    {"label": "Usage charge", "amount": 99.66, "type": "electricity", "attrs": {"unit": "kWh", "unit_amount": 278, "unit_price": 0.3585}},
    {"label": "Total", "amount": 163.54, "type": "total"}
  ]
}`

func newService(t *testing.T, c Completer) *Service {
	t.Helper()
	s, err := NewService(c, nil)
	require.NoError(t, err)
	return s
}

func TestExtract(t *testing.T) {
	fc := &fakeCompleter{responses: map[string]string{"extract": "```json\n" + extractionJSON + "\n```"}}
	s := newService(t, fc)

	ext, transcript, err := s.Extract(context.Background(), ExtractRequest{
		Text:     "Contact Energy tax invoice ...",
		Pages:    []string{"p1", "p2"},
		Filename: "august.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, "Contact Energy", *ext.SupplierName)
	assert.Nil(t, ext.Currency)
	require.Len(t, ext.Entries, 2)
	assert.Equal(t, []string{"unit", "unit_amount", "unit_price"}, ext.Entries[0].Attrs.Keys())

	require.Len(t, fc.prompts, 1)
	assert.Contains(t, fc.prompts[0].User, "2-page document")
	assert.Contains(t, fc.prompts[0].User, "august.pdf")
	assert.Contains(t, transcript, `"assistant"`)
	assert.Contains(t, transcript, "fake-1")
}

func TestExtractProviderError(t *testing.T) {
	s := newService(t, &fakeCompleter{err: errors.New("rate limited")})
	_, _, err := s.Extract(context.Background(), ExtractRequest{Text: "x"})
	assert.ErrorContains(t, err, "rate limited")
}

func TestExtractSchemaFailure(t *testing.T) {
	s := newService(t, &fakeCompleter{responses: map[string]string{"extract": `{"supplier_name": "A", "currency": "dollars"}`}})
	ext, _, err := s.Extract(context.Background(), ExtractRequest{Text: "x"})
	// invalid currency is dropped and missing entries become an empty list
	require.NoError(t, err)
	assert.Nil(t, ext.Currency)
	assert.Empty(t, ext.Entries)

	s = newService(t, &fakeCompleter{responses: map[string]string{"extract": `not json at all`}})
	_, _, err = s.Extract(context.Background(), ExtractRequest{Text: "x"})
	assert.Error(t, err)
}

func TestExtractEmptyText(t *testing.T) {
	fc := &fakeCompleter{}
	_, _, err := newService(t, fc).Extract(context.Background(), ExtractRequest{Text: "  "})
	assert.Error(t, err)
	assert.Empty(t, fc.prompts)
}

func TestVerifyCorrections(t *testing.T) {
	corrected := strings.Replace(extractionJSON, "163.54", "168.54", 2)
	fc := &fakeCompleter{responses: map[string]string{
		"verify": `{"corrections": ["total_amount 163.54 -> 168.54", " "], "corrected": ` + corrected + `}`,
	}}
	s := newService(t, fc)

	total := 163.54
	v, err := s.Verify(context.Background(), Extraction{TotalAmount: &total}, "TOTAL DUE $168.54")
	require.NoError(t, err)
	assert.Equal(t, []string{"total_amount 163.54 -> 168.54"}, v.Corrections)
	assert.InDelta(t, 168.54, *v.Corrected.TotalAmount, 1e-9)
	assert.Contains(t, fc.prompts[0].User, "TOTAL DUE $168.54")
}

func TestVerifyNoCorrectionsKeepsOriginal(t *testing.T) {
	fc := &fakeCompleter{responses: map[string]string{"verify": `{"corrections": [], "corrected": null}`}}
	s := newService(t, fc)

	name := "Acme"
	v, err := s.Verify(context.Background(), Extraction{SupplierName: &name}, "ref")
	require.NoError(t, err)
	assert.Empty(t, v.Corrections)
	assert.Equal(t, "Acme", *v.Corrected.SupplierName)
}

func TestResponseSchemaReportsEveryViolation(t *testing.T) {
	rs, err := compileResponseSchema("probe", map[string]any{
		"type":     "object",
		"required": []string{"entries"},
		"properties": map[string]any{
			"currency": map[string]any{"type": "string"},
			"entries":  map[string]any{"type": "array"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, rs.check([]byte(`{"entries": []}`)))

	err = rs.check([]byte(`{"currency": 5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe response violates schema")
	assert.Contains(t, err.Error(), "/currency")
	assert.Contains(t, err.Error(), "entries")

	assert.ErrorContains(t, rs.check([]byte(`{`)), "probe response is not JSON")
}
