package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
	"github.com/joseph-ayodele/invoice-pipeline/internal/settings"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the schema and seed the attribute dictionary",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		db.Close(logger)
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the pipeline concurrency settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close(logger)
		c, err := settings.Load(cmd.Context(), repository.NewSettingsRepository(db, logger), logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%d\n%s=%d\n",
			settings.KeyTierConcurrency, c.TierConcurrency,
			settings.KeyWorkerIdleMinutes, c.WorkerIdleMinutes)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store a setting; a running daemon applies it on its next poll",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := settings.Validate(args[0], args[1]); err != nil {
			return err
		}
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close(logger)
		if err := settings.Save(cmd.Context(), repository.NewSettingsRepository(db, logger), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], args[1])
		return nil
	},
}

var listStatus []string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents and their pipeline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var statuses []constants.DocumentStatus
		for _, s := range listStatus {
			st := constants.DocumentStatus(s)
			if !st.Valid() {
				return &common.UserError{Op: "list", Err: fmt.Errorf("%w: unknown status %q", common.ErrInvalidInput, s)}
			}
			statuses = append(statuses, st)
		}
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close(logger)
		docs, err := repository.NewDocumentRepository(db, logger).List(cmd.Context(), statuses...)
		if err != nil {
			return err
		}
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tTIER\tNAME")
		for _, d := range docs {
			tier, name := "-", d.OriginalFilename
			if d.OCRTier != nil {
				tier = fmt.Sprint(*d.OCRTier)
			}
			if d.DisplayName != nil {
				name = *d.DisplayName
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.ID, d.Status, tier, name)
		}
		return tw.Flush()
	},
}

func init() {
	listCmd.Flags().StringSliceVar(&listStatus, "status", nil, "only these statuses (repeatable)")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(migrateCmd, settingsCmd, listCmd)
}
