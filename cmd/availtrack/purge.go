package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"availtrack/internal/availability"
	"availtrack/internal/config"
	"availtrack/internal/logging"
)

func newPurgeCommand(configPath *string) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete closed intervals that started before the retention horizon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Retention()
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := availability.New(store, buildRegistry(cfg), availability.Options{Logger: logger})
			threshold := time.Now().UTC().Add(-olderThan)
			deleted, err := engine.Purge(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			logger.Info("purge complete", zap.Time("older_than", threshold), zap.Int("deleted", deleted))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d interval(s) older than %s\n", deleted, threshold.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold, e.g. 720h (defaults to retention_days)")
	return cmd
}
