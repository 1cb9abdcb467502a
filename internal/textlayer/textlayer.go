// Package textlayer reads the embedded text of PDF files. It backs the
// text-layer worker binary.
package textlayer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/worker"
)

type Extractor struct {
	maxPages int
	logger   *slog.Logger
}

// NewExtractor returns an Extractor. maxPages <= 0 reads every page.
func NewExtractor(maxPages int, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{maxPages: maxPages, logger: logger}
}

// Extract returns the per-page text layer of the PDF at path. Pages whose
// content cannot be decoded come back empty rather than failing the file.
func (e *Extractor) Extract(ctx context.Context, path string) (res worker.Result, err error) {
	defer func() {
		// the pdf reader panics on some malformed cross-reference tables
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return worker.Result{}, fmt.Errorf("open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	total := r.NumPage()
	n := total
	if e.maxPages > 0 && n > e.maxPages {
		n = e.maxPages
	}

	pages := make([]string, 0, n)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return worker.Result{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		txt, err := p.GetPlainText(fonts)
		if err != nil {
			e.logger.Warn("textlayer.page.failed", "path", path, "page", i, "error", err)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimSpace(txt))
	}

	e.logger.Debug("textlayer.extracted", "path", path, "pages", total, "read", n)
	return worker.Result{
		FullText:   extract.JoinPages(pages),
		Pages:      pages,
		TotalPages: total,
	}, nil
}
