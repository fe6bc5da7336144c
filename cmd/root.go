package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

var (
	envFile  string
	logLevel string

	// cfg is loaded once before any subcommand runs.
	cfg *environments.Config
)

var rootCmd = &cobra.Command{
	Use:   "sequence-dialer",
	Short: "Outbound call sequence scheduler and dispatcher.",
	Long: `Schedules outbound call attempts for enrolled targets within each
campaign's business hours and hands due attempts to the voice dialer,
one by one or in batches.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := os.Setenv("ENV_FILE", envFile); err != nil {
				return err
			}
		}

		loaded, err := environments.Load()
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}

		logger.Init(loaded.Log)
		cfg = loaded

		return nil
	},
}

// Execute runs the root command; it is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
