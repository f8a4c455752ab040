package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// subscriptionsCmd represents the subscriptions command
var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "Enroll contacts and inspect their progress.",
}

var subscriptionsEnrollCmd = &cobra.Command{
	Use:   "enroll [CAMPAIGN_ID] [CONTACT_ID]",
	Short: "Enroll a contact into a campaign.",
	Long: `Enroll a contact into a campaign. Contact IDs of the form slack:<channel>
or email:<address> pick the delivery transport; trigger data is available to
step templates as .TriggerData.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetStringToString("data")

		m, store, err := openManager(false)
		if err != nil {
			return err
		}
		defer store.Close()

		triggerData := make(map[string]interface{}, len(data))
		for k, v := range data {
			triggerData[k] = v
		}

		sub, err := m.Enroll(args[0], args[1], triggerData)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sub.ID)
		return nil
	},
}

var subscriptionsUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe [SUBSCRIPTION_ID]",
	Short: "Stop a subscription.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, store, err := openManager(false)
		if err != nil {
			return err
		}
		defer store.Close()

		sub, err := m.Unsubscribe(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription %s is %s\n", sub.ID, sub.Status)
		return nil
	},
}

var subscriptionsListCmd = &cobra.Command{
	Use:   "list [CAMPAIGN_ID]",
	Short: "List the subscriptions of a campaign.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, store, err := openManager(true)
		if err != nil {
			return err
		}
		defer store.Close()

		return doSubscriptionsList(m, args[0], cmd.OutOrStdout())
	},
}

func doSubscriptionsList(m *campaign.Manager, campaignID string, w io.Writer) error {
	subs, err := m.ListSubscriptions(campaignID)
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		fmt.Fprintln(w, "No subscriptions found.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Contact", "Status", "Step", "Next Step", "Failures", "Enrolled")
	for _, s := range subs {
		next := "-"
		if s.NextStepAt != nil {
			next = s.NextStepAt.Format(time.RFC3339)
		}
		table.Append([]string{
			s.ID,
			s.ContactID,
			string(s.Status),
			strconv.Itoa(s.CurrentStep),
			next,
			strconv.Itoa(s.FailureCount),
			s.EnrolledAt.Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

var subscriptionsProgressCmd = &cobra.Command{
	Use:   "progress [SUBSCRIPTION_ID]",
	Short: "Show how far a subscription has advanced.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, store, err := openManager(true)
		if err != nil {
			return err
		}
		defer store.Close()

		return doSubscriptionsProgress(m, args[0], cmd.OutOrStdout())
	},
}

func doSubscriptionsProgress(m *campaign.Manager, subscriptionID string, w io.Writer) error {
	p, err := m.GetProgress(subscriptionID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s: %d of %d steps sent (%d%%), %s\n",
		p.Campaign.Name, p.CurrentStep, p.TotalSteps, p.PercentComplete, p.Subscription.Status)
	if p.Subscription.NextStepAt != nil {
		fmt.Fprintln(w, "Next Send:", p.Subscription.NextStepAt.Format(time.RFC1123))
	}
	if p.Subscription.LastError != "" {
		fmt.Fprintf(w, "Last Error: %s (%d consecutive failures)\n", p.Subscription.LastError, p.Subscription.FailureCount)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(subscriptionsCmd)

	subscriptionsCmd.AddCommand(subscriptionsEnrollCmd)
	subscriptionsEnrollCmd.Flags().StringToString("data", nil, "Trigger data as key=value pairs")

	subscriptionsCmd.AddCommand(subscriptionsUnsubscribeCmd)
	subscriptionsCmd.AddCommand(subscriptionsListCmd)
	subscriptionsCmd.AddCommand(subscriptionsProgressCmd)
}
