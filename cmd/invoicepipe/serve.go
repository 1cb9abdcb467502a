package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm/gemini"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-pipeline/internal/normalize"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/render"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
	"github.com/joseph-ayodele/invoice-pipeline/internal/settings"
	"github.com/joseph-ayodele/invoice-pipeline/internal/worker"
)

var (
	serveNoInbox  bool
	serveKeepSrc  bool
	shutdownGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline daemon",
	Long: `Run the pipeline: resume unfinished documents, watch the inbox directory,
consume the Redis intake list, reload concurrency settings, and expose a gRPC
health endpoint.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoInbox, "no-inbox", false, "do not watch INTAKE_INBOX_DIR")
	serveCmd.Flags().BoolVar(&serveKeepSrc, "keep-source", false, "leave files in the inbox after registering them")
	serveCmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 30*time.Second, "how long running jobs may finish on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close(logger)

	docs := repository.NewDocumentRepository(db, logger)
	attrs := repository.NewAttributeRepository(db, logger)
	settingsRepo := repository.NewSettingsRepository(db, logger)

	conc, err := settings.Load(ctx, settingsRepo, logger)
	if err != nil {
		logger.Warn("settings.load_failed", "error", err)
	}

	svc, err := newLLMService(ctx)
	if err != nil {
		return err
	}

	idle := time.Duration(conc.WorkerIdleMinutes) * time.Minute
	textWorker := worker.NewManager(worker.Config{
		Name:        "text",
		Command:     cfg.Workers.TextCommand,
		IdleTimeout: idle,
		StopGrace:   cfg.Workers.StopGrace,
	}, logger)
	ocrWorker := worker.NewManager(worker.Config{
		Name:        "ocr",
		Command:     cfg.Workers.OCRCommand,
		IdleTimeout: idle,
		StopGrace:   cfg.Workers.StopGrace,
	}, logger)

	renderer := render.New(render.Config{
		WorkDir:       cfg.Server.WorkDir,
		DPI:           cfg.OCR.RenderDPI,
		HeicConverter: cfg.OCR.HeicConverter,
	}, render.FitzRasterizer{}, ocr.ExecRunner(logger), logger)

	queue := pipeline.New(pipeline.Deps{
		TextWorker: textWorker,
		OCRWorker:  ocrWorker,
		Renderer:   renderer,
		Extractor:  svc,
		Verifier:   svc,
		Documents:  docs,
		Normalizer: normalize.New(attrs, normalize.DefaultTTL, logger),
		Logger:     logger,
	}, conc)

	// gRPC health
	lis, err := net.Listen("tcp", cfg.Server.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.HealthAddr, err)
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	registrar := ingest.NewRegistrar(cfg.Intake.StorageDir, docs, queue, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("health listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})

	if cfg.Intake.InboxDir != "" && !serveNoInbox {
		if err := os.MkdirAll(cfg.Intake.InboxDir, 0o755); err != nil {
			return fmt.Errorf("create inbox: %w", err)
		}
		events, errs, err := ingest.StartWatcher(gctx, ingest.WatchConfig{
			Roots:       []string{cfg.Intake.InboxDir},
			InitialScan: true,
			Debounce:    cfg.Intake.Debounce,
			SkipHidden:  true,
		}, logger)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		g.Go(func() error {
			ingest.ServeInbox(gctx, events, errs, registrar, !serveKeepSrc, logger)
			return nil
		})
		logger.Info("inbox watching", "dir", cfg.Intake.InboxDir)
	}

	if rdb := redisClient(); rdb != nil {
		defer rdb.Close()
		intake := ingest.NewRedisIntake(rdb, cfg.Intake.RedisList, registrar, queue, logger)
		g.Go(func() error { return intake.Run(gctx) })
	}

	// settings reload + pick up documents queued by other processes
	g.Go(func() error {
		resumeQueued(gctx, docs, queue, true)
		t := time.NewTicker(cfg.Server.SettingsInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				c, err := settings.Load(gctx, settingsRepo, logger)
				if err != nil {
					logger.Warn("settings.reload_failed", "error", err)
				} else {
					queue.UpdateConfig(&c.TierConcurrency, &c.WorkerIdleMinutes)
				}
				resumeQueued(gctx, docs, queue, false)
			}
		}
	})

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.Info("invoicepipe serving",
		"db", cfg.Database.Driver,
		"llm", cfg.LLM.Provider+"/"+cfg.LLM.Model,
		"tier_concurrency", conc.TierConcurrency,
	)

	err = g.Wait()

	logger.Info("shutting down", "grace", shutdownGrace.String())
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := queue.Shutdown(sctx); serr != nil {
		logger.Warn("pipeline shutdown incomplete", "error", serr)
	}
	return err
}

// resumeQueued enqueues documents left in queued state. On startup it also
// requeues documents that were mid-flight when the previous run stopped.
func resumeQueued(ctx context.Context, docs repository.DocumentRepository, q *pipeline.Queue, startup bool) {
	statuses := []constants.DocumentStatus{constants.StatusQueued}
	if startup {
		statuses = append(statuses, constants.StatusExtracting, constants.StatusProcessing, constants.StatusVerifying)
	}
	list, err := docs.List(ctx, statuses...)
	if err != nil {
		logger.Warn("resume.list_failed", "error", err)
		return
	}
	for _, d := range list {
		if d.Status != constants.StatusQueued {
			if err := docs.Requeue(ctx, d.ID); err != nil {
				logger.Warn("resume.requeue_failed", "document_id", d.ID, "error", err)
				continue
			}
		}
		if err := q.Enqueue(pipeline.Job{DocumentID: d.ID, FilePath: d.FilePath}); err != nil {
			return
		}
	}
	if startup && len(list) > 0 {
		logger.Info("resumed documents", "count", len(list))
	}
}

func newLLMService(ctx context.Context) (*llm.Service, error) {
	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = cfg.LLM.MaxRetries

	var c llm.Completer
	switch strings.ToLower(cfg.LLM.Provider) {
	case "gemini":
		gc, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Retry:       retry,
		}, logger)
		if err != nil {
			return nil, err
		}
		c = gc
	default:
		c = openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			Retry:       retry,
		}, logger)
	}
	return llm.NewService(c, logger)
}
