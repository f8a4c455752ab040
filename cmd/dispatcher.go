package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// dispatcherCmd groups the commands that deliver due campaign steps.
var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Deliver due campaign steps.",
	Long: `Commands that sweep for due subscriptions and deliver their next step.

'run' performs a single sweep and exits. 'watchdog' sweeps on the configured
schedule and serves the campaign API until interrupted.`,
}

func init() {
	rootCmd.AddCommand(dispatcherCmd)

	flags := dispatcherCmd.PersistentFlags()
	flags.Bool("dry-run", false, "Log messages instead of sending them")
	flags.Int("concurrency", 1, "Number of subscriptions processed in parallel")
	flags.Int("max-failures", 10, "Consecutive failures before a subscription is marked failed (0 disables)")

	viper.BindPFlag("dispatcher.dry_run", flags.Lookup("dry-run"))
	viper.BindPFlag("engine.concurrency", flags.Lookup("concurrency"))
	viper.BindPFlag("engine.max_failures", flags.Lookup("max-failures"))
}
