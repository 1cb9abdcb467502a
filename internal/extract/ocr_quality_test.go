package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func words(confs ...float64) []WordConfidence {
	out := make([]WordConfidence, len(confs))
	for i, c := range confs {
		out[i] = WordConfidence{Text: "w", Confidence: c}
	}
	return out
}

func repeatConf(c float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = c
	}
	return out
}

func TestExtractNumbers(t *testing.T) {
	got := ExtractNumbers("Total $1,234.50 due 20/07/2024, ref 7, meter 00-12")
	assert.Equal(t, []string{"1234.50", "20/07/2024", "00-12"}, got)
}

func TestAssessOCR(t *testing.T) {
	good := words(repeatConf(92, 20)...)

	q := AssessOCR(cleanInvoice, good, "")
	assert.True(t, q.Accept, q.Reason)
	assert.Equal(t, -1.0, q.NumberMatchRate)

	q = AssessOCR(cleanInvoice, words(repeatConf(70, 20)...), "")
	assert.False(t, q.Accept)
	assert.Contains(t, q.Reason, "mean confidence")

	mixed := append(repeatConf(95, 17), 40, 40, 40)
	q = AssessOCR(cleanInvoice, words(mixed...), "")
	assert.False(t, q.Accept)
	assert.Contains(t, q.Reason, "low-confidence")

	q = AssessOCR("short", good, "")
	assert.False(t, q.Accept)

	q = AssessOCR(cleanInvoice, nil, "")
	assert.False(t, q.Accept)
}

func TestAssessOCRNumberCrossReference(t *testing.T) {
	good := words(repeatConf(92, 20)...)
	ref := strings.Repeat("filler text ", 10) + "amounts 163.54 412 0.2841 1.95 2024-07-01 123-456-789"

	q := AssessOCR(cleanInvoice, good, ref)
	assert.True(t, q.Accept, q.Reason)
	assert.Greater(t, q.NumberMatchRate, 0.5)

	q = AssessOCR(strings.Repeat("unrelated words only ", 5)+" 99.99", good, ref)
	assert.False(t, q.Accept)
	assert.Contains(t, q.Reason, "number match")
}
