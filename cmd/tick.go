package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onurcolak/sequence-dialer/internal/scheduler"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

var tickMode string

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run exactly one scheduler tick and exit.",
	Long: `Runs one tick of the given dispatch mode against the configured store,
whether or not that mode is enabled for serve. Useful from cron or for
draining a backlog by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg, false)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Errorf("Failed to close store: %v", err)
			}
		}()

		cache := openCache(cfg)
		if cache != nil {
			defer func() { _ = cache.Close() }()
		}

		loop, err := buildLoop(tickMode, cfg, store, cache)
		if err != nil {
			return err
		}

		stats, err := loop.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "processed=%d dispatched=%d failed=%d skipped=%d errors=%d\n",
			stats.Processed, stats.Dispatched, stats.Failed, stats.Skipped, stats.Errors)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(tickCmd)
	tickCmd.Flags().StringVar(&tickMode, "mode", scheduler.ModeCaller, "Dispatch mode (caller, batch)")
}
