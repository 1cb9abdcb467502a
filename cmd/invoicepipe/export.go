package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export [DOCUMENT_ID...]",
	Short: "Write documents to an XLSX workbook",
	Long:  "Write one sheet per document. With no ids, every draft is exported.",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "invoices.xlsx", "output file")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close(logger)
	docs := repository.NewDocumentRepository(db, logger)

	var ids []int64
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return &common.UserError{Op: "export", Err: fmt.Errorf("%w: document id %q", common.ErrInvalidInput, a)}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		drafts, err := docs.List(ctx, constants.StatusDraft)
		if err != nil {
			return err
		}
		for _, d := range drafts {
			ids = append(ids, d.ID)
		}
		if len(ids) == 0 {
			return &common.UserError{Op: "export", Err: fmt.Errorf("%w: no draft documents", common.ErrNotFound)}
		}
	}

	b, err := export.NewService(docs, logger).ExportXLSX(ctx, ids...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportOut, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d document(s) to %s\n", len(ids), exportOut)
	return nil
}
