package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/andrewhowdencom/drip/internal/scheduler"
	"github.com/gorhill/cronexpr"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var debugScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Preview upcoming sweeps and the steps they will send.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		window, _ := cmd.Flags().GetDuration("window")

		store, err := datastoreNewReadOnlyStore()
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		defer store.Close()

		return doDebugSchedule(scheduler.New(store), viper.GetString("engine.schedule"), time.Now(), count, window, cmd.OutOrStdout())
	},
}

func doDebugSchedule(sched *scheduler.Scheduler, spec string, now time.Time, count int, window time.Duration, w io.Writer) error {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return fmt.Errorf("failed to parse engine.schedule %q: %w", spec, err)
	}

	fmt.Fprintf(w, "Sweeps (%s):\n", spec)
	for _, next := range expr.NextN(now, uint(count)) {
		fmt.Fprintln(w, " ", next.Format("2006-01-02 15:04:05"))
	}

	due, err := sched.FindDue(now)
	if err != nil {
		return err
	}
	upcoming, err := sched.Upcoming(now, window)
	if err != nil {
		return err
	}

	if len(due)+len(upcoming) == 0 {
		fmt.Fprintf(w, "No steps due within %s.\n", window)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Due", "Subscription", "Campaign", "Contact", "Step")
	for _, d := range append(due, upcoming...) {
		when := d.Subscription.NextStepAt.Format("2006-01-02 15:04:05")
		if !d.Subscription.NextStepAt.After(now) {
			when = "now"
		}
		table.Append([]string{
			when,
			d.Subscription.ID,
			d.Campaign.Name,
			d.Subscription.ContactID,
			strconv.Itoa(d.Subscription.CurrentStep + 1),
		})
	}
	table.Render()
	return nil
}

func init() {
	debugCmd.AddCommand(debugScheduleCmd)
	debugScheduleCmd.Flags().Int("count", 5, "Number of sweeps to list")
	debugScheduleCmd.Flags().Duration("window", 24*time.Hour, "How far ahead to look for due steps")
}
