package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

var reprocessTier int

var reprocessCmd = &cobra.Command{
	Use:   "reprocess DOCUMENT_ID",
	Short: "Run a document through the pipeline again",
	Long: `Delete a document's entries and queue it again. --tier 2 or 3 forces OCR at
that tier and needs the Redis intake list, since the forced tier travels with
the job rather than the database row.`,
	Args: cobra.ExactArgs(1),
	RunE: runReprocess,
}

func init() {
	reprocessCmd.Flags().IntVar(&reprocessTier, "tier", 0, "force OCR tier 2 or 3 (0 = automatic)")
	rootCmd.AddCommand(reprocessCmd)
}

func runReprocess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: document id %q", common.ErrInvalidInput, args[0])
	}
	if reprocessTier != 0 && reprocessTier != constants.TierOCR && reprocessTier != constants.TierOCRDeep {
		return fmt.Errorf("%w: --tier must be 0, 2 or 3", common.ErrInvalidInput)
	}

	if rdb := redisClient(); rdb != nil {
		defer rdb.Close()
		if err := ingest.Submit(ctx, rdb, cfg.Intake.RedisList, ingest.Submission{DocumentID: id, Tier: reprocessTier}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reprocess of #%d submitted\n", id)
		return nil
	}
	if reprocessTier != 0 {
		return fmt.Errorf("%w: --tier needs INTAKE_REDIS_ADDR", common.ErrInvalidInput)
	}

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close(logger)
	docs := repository.NewDocumentRepository(db, logger)
	if _, err := docs.Get(ctx, id); err != nil {
		return err
	}
	if err := docs.DeleteEntries(ctx, id); err != nil {
		return err
	}
	if err := docs.Requeue(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "#%d queued\n", id)
	return nil
}
