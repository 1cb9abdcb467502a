package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

var submitSkipHidden bool

var submitCmd = &cobra.Command{
	Use:   "submit PATH...",
	Short: "Register files or directories for processing",
	Long: `Copy each file (or every supported file under each directory) into storage
and record it as a queued document. A running daemon picks queued documents up
on its next poll. With INTAKE_REDIS_ADDR set, paths are pushed to the intake list
instead and the daemon registers them itself.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitSkipHidden, "skip-hidden", true, "skip dot files and directories")
	rootCmd.AddCommand(submitCmd)
}

// queuedOnly leaves registered documents in queued state for the daemon.
type queuedOnly struct{}

func (queuedOnly) Enqueue(pipeline.Job) error { return nil }

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if rdb := redisClient(); rdb != nil {
		defer rdb.Close()
		for _, p := range args {
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			if err := ingest.Submit(ctx, rdb, cfg.Intake.RedisList, ingest.Submission{FilePath: abs}); err != nil {
				return fmt.Errorf("push %s: %w", p, err)
			}
			fmt.Fprintf(out, "submitted %s\n", abs)
		}
		return nil
	}

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close(logger)
	reg := ingest.NewRegistrar(cfg.Intake.StorageDir, repository.NewDocumentRepository(db, logger), queuedOnly{}, logger)

	failed := 0
	for _, p := range args {
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			results, stats, err := reg.RegisterDirectory(ctx, p, submitSkipHidden)
			if err != nil {
				return err
			}
			for _, r := range results {
				printResult(cmd, r)
			}
			failed += int(stats.Failed)
			fmt.Fprintf(out, "%s: %d matched, %d registered, %d failed\n", p, stats.Matched, stats.Succeeded, stats.Failed)
			continue
		}
		r, err := reg.Register(ctx, p)
		if err != nil {
			r.Err = err.Error()
			failed++
		}
		printResult(cmd, r)
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed", failed)
	}
	return nil
}

func printResult(cmd *cobra.Command, r ingest.Result) {
	if r.Err != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %s\n", r.SourcePath, r.Err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "#%d %s\n", r.DocumentID, r.SourcePath)
}
