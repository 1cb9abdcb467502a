package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

// run takes one job from extracting to draft. A returned error marks the
// document as failed; an LLM failure does not, it leaves a draft holding the
// raw text.
func (q *Queue) run(ctx context.Context, job Job, logger *slog.Logger) error {
	docs := q.deps.Documents
	if err := docs.SetStatus(ctx, job.DocumentID, constants.StatusExtracting); err != nil {
		return fmt.Errorf("set extracting: %w", err)
	}

	res, err := q.extractText(ctx, job, logger)
	if err != nil {
		return err
	}
	tier := res.OCRTier
	if err := docs.SetExtraction(ctx, job.DocumentID, res.FullText, &tier); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	if err := docs.SetStatus(ctx, job.DocumentID, constants.StatusProcessing); err != nil {
		return fmt.Errorf("set processing: %w", err)
	}

	filename := filepath.Base(job.FilePath)
	ext, transcript, err := q.deps.Extractor.Extract(ctx, llm.ExtractRequest{
		Text:     res.FullText,
		Pages:    res.Pages,
		Filename: filename,
	})
	if err != nil {
		logger.Warn("pipeline.llm.failed", "err", err)
		note := fmt.Sprintf("LLM extraction failed: %s. Raw text preserved.", err.Error())
		if mErr := docs.MarkLLMFailed(ctx, job.DocumentID, note); mErr != nil {
			return fmt.Errorf("save llm failure: %w", mErr)
		}
		return nil
	}

	if res.TextLayerRef != "" && q.deps.Verifier != nil {
		ext = q.verify(ctx, job, ext, res.TextLayerRef, logger)
	}

	entries := toEntries(ext.Entries)
	if q.deps.Normalizer != nil {
		entries = q.deps.Normalizer.NormalizeEntries(ctx, entries)
	}
	currency := constants.DefaultCurrency
	if ext.Currency != nil && strings.TrimSpace(*ext.Currency) != "" {
		currency = strings.ToUpper(strings.TrimSpace(*ext.Currency))
	}
	fields := entity.DraftFields{
		DisplayName:    DisplayName(ext, filename),
		SupplierName:   ext.SupplierName,
		InvoiceNumber:  ext.InvoiceNumber,
		InvoiceDate:    ext.InvoiceDate,
		DueDate:        ext.DueDate,
		TotalAmount:    ext.TotalAmount,
		GSTAmount:      ext.GSTAmount,
		Currency:       currency,
		GSTNumber:      ext.GSTNumber,
		Notes:          ext.Notes,
		RawLLMResponse: transcript,
	}
	if err := docs.SaveDraft(ctx, job.DocumentID, fields, entries); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	logger.Info("pipeline.draft.saved",
		"display_name", fields.DisplayName,
		"entries", len(entries),
		"tier", tier,
		"reprocess", job.Reprocess,
	)
	return nil
}

// verify cross-checks an OCR-derived extraction against the broken text
// layer. Failures are logged and the unverified extraction is kept.
func (q *Queue) verify(ctx context.Context, job Job, ext llm.Extraction, ref string, logger *slog.Logger) llm.Extraction {
	if err := q.deps.Documents.SetStatus(ctx, job.DocumentID, constants.StatusVerifying); err != nil {
		logger.Warn("pipeline.verify.status_failed", "err", err)
	}
	v, err := q.deps.Verifier.Verify(ctx, ext, ref)
	if err != nil {
		logger.Warn("pipeline.verify.failed", "err", err)
		return ext
	}
	if len(v.Corrections) == 0 {
		return ext
	}
	out := v.Corrected
	note := "OCR corrections applied: " + strings.Join(v.Corrections, "; ")
	if out.Notes != nil && strings.TrimSpace(*out.Notes) != "" {
		note = *out.Notes + "\n\n" + note
	}
	out.Notes = &note
	logger.Info("pipeline.verify.corrected", "corrections", len(v.Corrections))
	return out
}

func toEntries(in []llm.Entry) []entity.DocumentEntry {
	out := make([]entity.DocumentEntry, 0, len(in))
	for i, e := range in {
		label := strings.TrimSpace(e.Label)
		if label == "" {
			continue
		}
		de := entity.DocumentEntry{Label: label, Amount: e.Amount, Attrs: e.Attrs, SortOrder: i}
		if t := constants.NormalizeEntryType(e.Type); t != "" {
			de.EntryType = &t
		}
		out = append(out, de)
	}
	for i := range out {
		out[i].SortOrder = i
	}
	return out
}

// DisplayName joins supplier, invoice date and invoice number with " - ",
// falling back to the file name without its extension.
func DisplayName(ext llm.Extraction, filename string) string {
	var parts []string
	for _, p := range []*string{ext.SupplierName, ext.InvoiceDate, ext.InvoiceNumber} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " - ")
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
