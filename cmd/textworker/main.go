// Command textworker reads PDF text layers for the invoicepipe daemon. It
// speaks the line-delimited JSON worker protocol on stdin/stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/textlayer"
	"github.com/joseph-ayodele/invoice-pipeline/internal/worker"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := common.NewLogger(os.Stderr, cfg.Server.LogLevel).With("component", "textworker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex := textlayer.NewExtractor(cfg.Workers.TextMaxPages, logger)
	handler := func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req worker.TextRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode text request: %w", err)
		}
		if req.PDFPath == "" {
			return nil, fmt.Errorf("pdfPath is required")
		}
		return ex.Extract(ctx, req.PDFPath)
	}

	logger.Info("textworker.ready", "pid", os.Getpid())
	if err := worker.Serve(ctx, os.Stdin, os.Stdout, handler); err != nil && ctx.Err() == nil {
		logger.Error("textworker.serve", "error", err)
		os.Exit(1)
	}
}
