// Package render turns a source document into page_N images in a scratch
// directory for the OCR worker.
package render

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

// Pages is a scratch directory of rendered page images.
type Pages struct {
	Dir   string
	Count int
}

// Cleanup removes the scratch directory.
func (p *Pages) Cleanup() error {
	if p == nil || p.Dir == "" {
		return nil
	}
	return os.RemoveAll(p.Dir)
}

// Rasterizer draws PDF pages to images.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, dpi float64, emit func(page int, img image.Image) error) error
}

// FitzRasterizer renders through MuPDF.
type FitzRasterizer struct{}

func (FitzRasterizer) Rasterize(ctx context.Context, pdfPath string, dpi float64, emit func(int, image.Image) error) error {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return fmt.Errorf("pdf has no pages")
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return fmt.Errorf("render page %d: %w", i+1, err)
		}
		if err := emit(i+1, img); err != nil {
			return err
		}
	}
	return nil
}

type Config struct {
	WorkDir       string  // parent of scratch dirs; empty uses os.TempDir
	DPI           float64 // default 300
	HeicConverter string
}

type Renderer struct {
	cfg    Config
	raster Rasterizer
	runner ocr.Runner
	logger *slog.Logger
}

func New(cfg Config, raster Rasterizer, runner ocr.Runner, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if raster == nil {
		raster = FitzRasterizer{}
	}
	if runner == nil {
		runner = ocr.ExecRunner(logger)
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Renderer{cfg: cfg, raster: raster, runner: runner, logger: logger}
}

// Render writes page_N images for path into a fresh scratch directory. PDFs
// are rasterized to PNG, HEIC photos converted to PNG, other images copied.
// The caller owns the returned Pages and must Cleanup.
func (r *Renderer) Render(ctx context.Context, path string) (*Pages, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	_, isImage := constants.ImageExtensions[ext]
	if ext != "pdf" && !isImage {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedFile, filepath.Base(path))
	}

	dir, err := os.MkdirTemp(r.cfg.WorkDir, "invoice-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	pages := &Pages{Dir: dir}

	switch {
	case ext == "pdf":
		err = r.raster.Rasterize(ctx, path, r.cfg.DPI, func(n int, img image.Image) error {
			if err := writePNG(filepath.Join(dir, fmt.Sprintf("page_%d.png", n)), img); err != nil {
				return fmt.Errorf("write page %d: %w", n, err)
			}
			pages.Count++
			return nil
		})
	case constants.IsHEICExt(ext):
		err = ocr.ConvertHEIC(ctx, r.runner, r.cfg.HeicConverter, path, filepath.Join(dir, "page_1.png"))
		pages.Count = 1
	default:
		err = copyFile(path, filepath.Join(dir, "page_1."+ext))
		pages.Count = 1
	}
	if err != nil {
		_ = pages.Cleanup()
		return nil, err
	}

	r.logger.Debug("render.done", "path", path, "pages", pages.Count, "dir", dir)
	return pages, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create page image: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy image: %w", err)
	}
	return out.Close()
}
