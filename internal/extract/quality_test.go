package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const cleanInvoice = `Acme Power Ltd
Tax Invoice INV-20431
Invoice date: 2024-07-01   Due date: 2024-07-20
Electricity usage 1 June to 30 June, 412 kWh at 0.2841 per kWh
Daily fixed charge 30 days at 1.95
GST number 123-456-789   Total due $163.54`

func TestClassify(t *testing.T) {
	assert.Equal(t, SourcePDF, Classify("/in/a.PDF"))
	assert.Equal(t, SourceImage, Classify("scan.jpeg"))
	assert.Equal(t, SourceImage, Classify("phone.HEIC"))
	assert.Equal(t, SourceUnsupported, Classify("notes.txt"))
	assert.Equal(t, SourceUnsupported, Classify("noext"))
}

func TestAssessTextLayer(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		accept bool
		broken bool
	}{
		{"clean", cleanInvoice, true, false},
		{"empty", "", false, false},
		{"minimal", "Page 1 of 1", false, false},
		{"cid glyphs", cleanInvoice + " (cid:12)(cid:44)", false, true},
		{"replacement chars", cleanInvoice + strings.Repeat("\uFFFD", 21), false, true},
		{"few replacement chars", cleanInvoice + strings.Repeat("\uFFFD", 3), true, false},
		{"private use", strings.Repeat(" \ue000\ue001a ", 40), false, true},
		{"uniform", strings.Repeat(".", 200) + " total", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := AssessTextLayer(tt.text)
			assert.Equal(t, tt.accept, q.Accept, q.Reason)
			assert.Equal(t, tt.broken, q.TextLayerBroken, q.Reason)
			assert.NotEmpty(t, q.Reason)
		})
	}
}

func TestJoinPages(t *testing.T) {
	assert.Equal(t, "one\n\n---\n\ntwo", JoinPages([]string{" one ", "", "two\n"}))
	assert.Equal(t, "", JoinPages(nil))
}
