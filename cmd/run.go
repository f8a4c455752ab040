package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/andrewhowdencom/drip/internal/engine"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform a single sweep of the dispatcher",
	Long:  `Refresh the template catalog and execute every subscription step that is due now.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		slog.Debug("performing a single run")

		store, err := datastoreNewStore()
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		defer store.Close()

		w, err := buildWorker(store)
		if err != nil {
			return err
		}

		report, err := w.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		printReport(report, cmd.OutOrStdout())
		return nil
	},
}

func printReport(report engine.SweepReport, w io.Writer) {
	fmt.Fprintf(w, "Attempted: %d, Sent: %d, Completed: %d, Errored: %d, Failed: %d, Skipped: %d\n",
		report.Attempted, report.Sent, report.Completed, report.Errored, report.Failed, report.Skipped)

	if len(report.Failures) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Subscription", "Campaign", "Contact", "Step", "Outcome", "Error")
	for _, f := range report.Failures {
		table.Append([]string{f.SubscriptionID, f.CampaignID, f.ContactID, strconv.Itoa(f.Step + 1), f.Outcome, f.Error})
	}
	table.Render()
}

func init() {
	dispatcherCmd.AddCommand(runCmd)
}
