// Command ocrworker runs tiered OCR over rendered page images for the
// invoicepipe daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/worker"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := common.NewLogger(os.Stderr, cfg.Server.LogLevel).With("component", "ocrworker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := ocr.NewEngine(ocr.Config{
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.Lang,
		TessdataDir:   cfg.OCR.TessdataDir,
		PSM:           cfg.OCR.PSM,
		OEM:           cfg.OCR.OEM,
		DeepCommand:   cfg.OCR.DeepCommand,
		DeepArgs:      cfg.OCR.DeepArgs,
		DeepTimeout:   cfg.OCR.DeepTimeout,
	}, ocr.ExecRunner(logger), logger)

	handler := func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req worker.OCRRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode ocr request: %w", err)
		}
		if req.ImageDir == "" {
			return nil, fmt.Errorf("imageDir is required")
		}
		return engine.Recognize(ctx, req)
	}

	logger.Info("ocrworker.ready", "pid", os.Getpid(), "deep", cfg.OCR.DeepCommand != "")
	if err := worker.Serve(ctx, os.Stdin, os.Stdout, handler); err != nil && ctx.Err() == nil {
		logger.Error("ocrworker.serve", "error", err)
		os.Exit(1)
	}
}
