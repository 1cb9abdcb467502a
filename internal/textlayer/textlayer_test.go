package textlayer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMissingFile(t *testing.T) {
	_, err := NewExtractor(0, nil).Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestExtractNotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text, no pdf header"), 0o644))

	_, err := NewExtractor(0, nil).Extract(context.Background(), path)
	assert.Error(t, err)
}

// onePagePDF builds a single-page PDF with one Helvetica text run and a
// correct cross-reference table.
func onePagePDF(text string) []byte {
	stream := fmt.Sprintf("BT /F1 12 Tf 20 100 Td (%s) Tj ET", text)
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 144] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func TestExtractTextLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(path, onePagePDF("Invoice 1234 Total 56.78"), 0o644))

	res, err := NewExtractor(0, nil).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalPages)
	require.Len(t, res.Pages, 1)
	assert.Contains(t, res.Pages[0], "Invoice 1234")
	assert.Contains(t, res.FullText, "Total 56.78")
}

func TestExtractHonoursCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(path, onePagePDF("Invoice 1234"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor(0, nil).Extract(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
