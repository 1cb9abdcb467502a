package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

var (
	envFile  string
	logLevel string

	cfg    *common.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "invoicepipe",
	Short: "Turn invoice PDFs and images into structured drafts",
	Long: `invoicepipe ingests invoice documents, extracts their text (text layer or OCR),
asks an LLM for the structured fields and line items, and stores the result as a
draft for review. "serve" runs the pipeline; the other commands operate on the
same database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		c, err := common.LoadConfig(files...)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Server.LogLevel = logLevel
		}
		cfg = c
		logger = common.NewLogger(os.Stderr, cfg.Server.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file instead of ./.env")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
}

// openDB opens the configured database and makes sure the schema exists.
func openDB(ctx context.Context) (*repository.DB, error) {
	db, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := db.HealthCheck(ctx, cfg.Database.DialTimeout); err != nil {
		db.Close(logger)
		return nil, fmt.Errorf("database health: %w", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close(logger)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// redisClient returns nil when no intake list is configured.
func redisClient() *redis.Client {
	if cfg.Intake.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Intake.RedisAddr,
		Password: cfg.Intake.RedisPassword,
		DB:       cfg.Intake.RedisDB,
	})
}
