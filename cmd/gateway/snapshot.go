package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"seat-gateway/allocation/application"
	"seat-gateway/internal/config"
	"seat-gateway/internal/logging"
)

func newSnapshotCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Replay the journal and print the pool snapshot as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cfg.JournalDSN == "" {
				return fmt.Errorf("JOURNAL_DSN is required for snapshot")
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			journal, closeJournal, err := openJournal(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeJournal()

			engine, err := application.New(ctx, cfg.PoolCapacity,
				application.WithJournal(journal),
				application.WithLogger(logger.Named("engine")),
			)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			snap := engine.Snapshot()
			logger.Debug("journal replayed", zap.Uint64("last_sequence", snap.LastSequence))

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
}
