package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service runs invoice extraction and OCR verification on any Completer.
type Service struct {
	c      Completer
	logger *slog.Logger

	extractSchema *responseSchema
	verifySchema  *responseSchema
}

func NewService(c Completer, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	es, err := compileResponseSchema("extraction", ExtractionSchema())
	if err != nil {
		return nil, fmt.Errorf("extraction schema: %w", err)
	}
	vs, err := compileResponseSchema("verification", VerificationSchema())
	if err != nil {
		return nil, fmt.Errorf("verification schema: %w", err)
	}
	return &Service{c: c, logger: logger, extractSchema: es, verifySchema: vs}, nil
}

type transcriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript serializes one prompt/response exchange for audit storage.
func Transcript(model string, p Prompt, response string) string {
	b, _ := json.Marshal(map[string]any{
		"model": model,
		"messages": []transcriptMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
			{Role: "assistant", Content: response},
		},
	})
	return string(b)
}

func (s *Service) Extract(ctx context.Context, req ExtractRequest) (Extraction, string, error) {
	rid := uuid.NewString()
	start := time.Now()
	s.logger.Info("llm.extract.start", "req_id", rid, "model", s.c.Model(), "text_len", len(req.Text), "pages", len(req.Pages))

	if strings.TrimSpace(req.Text) == "" {
		return Extraction{}, "", fmt.Errorf("no document text to extract from")
	}

	p := Prompt{
		Name:   "extract",
		System: ExtractionSystemPrompt(),
		User:   BuildExtractionUserPrompt(req),
		Schema: ExtractionSchema(),
	}
	out, err := s.c.Complete(ctx, p)
	if err != nil {
		s.logger.Error("llm.extract.failed", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return Extraction{}, "", err
	}
	transcript := Transcript(s.c.Model(), p, out)

	var ext Extraction
	if err := s.decode(rid, out, s.extractSchema, &ext); err != nil {
		return Extraction{}, transcript, err
	}

	s.logger.Info("llm.extract.ok",
		"req_id", rid,
		"entries", len(ext.Entries),
		"has_total", ext.TotalAmount != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return ext, transcript, nil
}

func (s *Service) Verify(ctx context.Context, ext Extraction, textLayerRef string) (Verification, error) {
	rid := uuid.NewString()
	start := time.Now()

	p := Prompt{
		Name:   "verify",
		System: VerificationSystemPrompt(),
		User:   BuildVerificationUserPrompt(ext, textLayerRef),
		Schema: VerificationSchema(),
	}
	out, err := s.c.Complete(ctx, p)
	if err != nil {
		return Verification{}, err
	}

	cleaned := CleanModelJSON(out)
	var envelope struct {
		Corrections []string        `json:"corrections"`
		Corrected   json.RawMessage `json:"corrected"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return Verification{}, fmt.Errorf("decode verification: %w", err)
	}

	var v Verification
	for _, c := range envelope.Corrections {
		if c = strings.TrimSpace(c); c != "" {
			v.Corrections = append(v.Corrections, c)
		}
	}
	if len(v.Corrections) == 0 {
		v.Corrected = ext
		s.logger.Info("llm.verify.ok", "req_id", rid, "corrections", 0, "elapsed_ms", time.Since(start).Milliseconds())
		return v, nil
	}

	corrected, _, err := SanitizeExtraction(envelope.Corrected)
	if err != nil {
		return Verification{}, fmt.Errorf("corrected extraction: %w", err)
	}
	full, _ := json.Marshal(map[string]any{"corrections": v.Corrections, "corrected": json.RawMessage(corrected)})
	if err := s.verifySchema.check(full); err != nil {
		s.logger.Error("llm.verify.schema_validation_failed", "req_id", rid, "error", err)
		return Verification{}, fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(corrected, &v.Corrected); err != nil {
		return Verification{}, fmt.Errorf("unmarshal corrected extraction: %w", err)
	}

	s.logger.Info("llm.verify.ok", "req_id", rid, "corrections", len(v.Corrections), "elapsed_ms", time.Since(start).Milliseconds())
	return v, nil
}

// decode cleans, sanitizes and validates a model response before unmarshalling it.
func (s *Service) decode(rid, out string, schema *responseSchema, dst *Extraction) error {
	cleaned, changed, err := SanitizeExtraction([]byte(CleanModelJSON(out)))
	if err != nil {
		s.logger.Error("llm.decode.sanitize_failed", "req_id", rid, "error", err, "raw_bytes", len(out))
		return err
	}
	if len(changed) > 0 {
		s.logger.Warn("llm.decode.sanitized", "req_id", rid, "changed", changed)
	}
	if err := schema.check(cleaned); err != nil {
		s.logger.Error("llm.decode.schema_validation_failed", "req_id", rid, "error", err)
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(cleaned, dst); err != nil {
		return fmt.Errorf("unmarshal extraction: %w", err)
	}
	return nil
}
