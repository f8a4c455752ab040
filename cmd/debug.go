package cmd

import "github.com/spf13/cobra"

// debugCmd represents the debug command
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Tools for checking documents, templates and schedules.",
}

func init() {
	rootCmd.AddCommand(debugCmd)
}
