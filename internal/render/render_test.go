package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

type stubRaster struct {
	pages int
	err   error
}

func (s stubRaster) Rasterize(_ context.Context, _ string, _ float64, emit func(int, image.Image) error) error {
	if s.err != nil {
		return s.err
	}
	for i := 1; i <= s.pages; i++ {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		img.Set(1, 1, color.White)
		if err := emit(i, img); err != nil {
			return err
		}
	}
	return nil
}

type convertRunner struct{ calls [][]string }

func (c *convertRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	c.calls = append(c.calls, append([]string{name}, args...))
	return nil, nil, os.WriteFile(args[len(args)-1], []byte("png"), 0o644)
}

func writeFile(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	return p
}

func TestRenderPDFPages(t *testing.T) {
	r := New(Config{WorkDir: t.TempDir()}, stubRaster{pages: 3}, nil, nil)

	pages, err := r.Render(context.Background(), writeFile(t, "bill.PDF"))
	require.NoError(t, err)
	defer func() { _ = pages.Cleanup() }()

	assert.Equal(t, 3, pages.Count)
	images, err := ocr.PageImages(pages.Dir)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, "page_1.png", filepath.Base(images[0]))
	assert.Equal(t, "page_3.png", filepath.Base(images[2]))
}

func TestRenderImagePassThrough(t *testing.T) {
	r := New(Config{WorkDir: t.TempDir()}, stubRaster{}, nil, nil)

	pages, err := r.Render(context.Background(), writeFile(t, "receipt.JPG"))
	require.NoError(t, err)
	defer func() { _ = pages.Cleanup() }()

	assert.Equal(t, 1, pages.Count)
	b, err := os.ReadFile(filepath.Join(pages.Dir, "page_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
}

func TestRenderHEICConverts(t *testing.T) {
	runner := &convertRunner{}
	r := New(Config{WorkDir: t.TempDir(), HeicConverter: "magick"}, stubRaster{}, runner, nil)

	pages, err := r.Render(context.Background(), writeFile(t, "photo.heic"))
	require.NoError(t, err)
	defer func() { _ = pages.Cleanup() }()

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "magick", runner.calls[0][0])
	assert.FileExists(t, filepath.Join(pages.Dir, "page_1.png"))
}

func TestRenderUnsupported(t *testing.T) {
	r := New(Config{WorkDir: t.TempDir()}, stubRaster{}, nil, nil)
	_, err := r.Render(context.Background(), writeFile(t, "notes.docx"))
	assert.ErrorIs(t, err, common.ErrUnsupportedFile)
}

func TestRenderFailureRemovesScratchDir(t *testing.T) {
	work := t.TempDir()
	r := New(Config{WorkDir: work}, stubRaster{err: errors.New("broken xref")}, nil, nil)

	_, err := r.Render(context.Background(), writeFile(t, "bad.pdf"))
	require.Error(t, err)

	left, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, left)
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

func TestRenderPDFWithFitz(t *testing.T) {
	src := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(src, onePagePDF("Invoice 1234 Total 56.78"), 0o644))
	r := New(Config{WorkDir: t.TempDir(), DPI: 72}, FitzRasterizer{}, nil, nil)

	pages, err := r.Render(context.Background(), src)
	require.NoError(t, err)
	defer func() { _ = pages.Cleanup() }()

	assert.Equal(t, 1, pages.Count)
	f, err := os.Open(filepath.Join(pages.Dir, "page_1.png"))
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.InDelta(t, 300, cfg.Width, 2)
	assert.InDelta(t, 144, cfg.Height, 2)
}

func TestFitzRejectsBrokenPDF(t *testing.T) {
	src := writeFile(t, "broken.pdf")
	r := New(Config{WorkDir: t.TempDir()}, FitzRasterizer{}, nil, nil)

	_, err := r.Render(context.Background(), src)
	assert.Error(t, err)
}
