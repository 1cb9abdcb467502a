package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/worker"
)

// extractText picks the cheapest tier that yields usable text. Images go
// straight to OCR; PDFs try the text layer first. A text worker failure is
// not fatal, the document falls through to OCR.
func (q *Queue) extractText(ctx context.Context, job Job, logger *slog.Logger) (extract.Result, error) {
	kind := extract.Classify(job.FilePath)
	logger.Debug("pipeline.extract.start", "kind", kind.String(), "force_tier", job.ForceTier)

	var textLayerRef string
	switch kind {
	case extract.SourceUnsupported:
		return extract.Result{}, fmt.Errorf("%w: %s", common.ErrUnsupportedFile, filepath.Base(job.FilePath))
	case extract.SourcePDF:
		var tl worker.Result
		if err := q.deps.TextWorker.Request(ctx, worker.TextRequest{PDFPath: job.FilePath}, &tl); err != nil {
			logger.Warn("pipeline.text_layer.failed", "err", err)
			break
		}
		quality := extract.AssessTextLayer(tl.FullText)
		if quality.Accept && job.ForceTier == 0 {
			logger.Info("pipeline.text_layer.accepted", "pages", tl.TotalPages)
			return extract.Result{
				FullText:   tl.FullText,
				Pages:      tl.Pages,
				TotalPages: tl.TotalPages,
				OCRTier:    constants.TierTextLayer,
			}, nil
		}
		if quality.TextLayerBroken {
			textLayerRef = tl.FullText
		}
		logger.Info("pipeline.text_layer.rejected", "reason", quality.Reason, "broken", quality.TextLayerBroken, "forced", job.ForceTier != 0)
	}

	return q.runOCR(ctx, job, textLayerRef, logger)
}

// runOCR renders the document to page images and hands them to the OCR
// worker. Only one OCR request runs at a time across all jobs.
func (q *Queue) runOCR(ctx context.Context, job Job, textLayerRef string, logger *slog.Logger) (extract.Result, error) {
	pages, err := q.deps.Renderer.Render(ctx, job.FilePath)
	if err != nil {
		return extract.Result{}, fmt.Errorf("render pages: %w", err)
	}
	defer func() {
		if err := pages.Cleanup(); err != nil {
			logger.Warn("pipeline.render.cleanup_failed", "dir", pages.Dir, "err", err)
		}
	}()

	if err := q.ocr.Acquire(ctx); err != nil {
		return extract.Result{}, fmt.Errorf("wait for ocr: %w", err)
	}
	defer q.ocr.Release()

	var out worker.Result
	req := worker.OCRRequest{ImageDir: pages.Dir, TextLayerRef: textLayerRef, ForceTier: job.ForceTier}
	if err := q.deps.OCRWorker.Request(ctx, req, &out); err != nil {
		return extract.Result{}, fmt.Errorf("ocr worker: %w", err)
	}
	if strings.TrimSpace(out.FullText) == "" {
		return extract.Result{}, fmt.Errorf("%w: ocr returned no text for %d pages", common.ErrNoText, pages.Count)
	}
	tier := out.OCRTier
	if tier == 0 {
		tier = constants.TierOCR
	}
	logger.Info("pipeline.ocr.done", "tier", tier, "pages", out.TotalPages, "verify", textLayerRef != "")
	return extract.Result{
		FullText:     out.FullText,
		Pages:        out.Pages,
		TotalPages:   out.TotalPages,
		OCRTier:      tier,
		TextLayerRef: textLayerRef,
	}, nil
}
