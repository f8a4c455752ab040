package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// campaignsCmd represents the campaigns command
var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Manage campaigns and their steps.",
	Long:  `Create campaigns, append steps, change their status and inspect them.`,
}

var campaignsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft campaign.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		owner, _ := cmd.Flags().GetString("owner")
		triggerEvent, _ := cmd.Flags().GetString("trigger-event")
		sendDelay, _ := cmd.Flags().GetInt("send-delay")

		m, store, err := openManager(false)
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := m.CreateCampaign(name, owner, model.Settings{TriggerEvent: triggerEvent, SendDelayMinutes: sendDelay})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), c.ID)
		return nil
	},
}

var campaignsAddStepCmd = &cobra.Command{
	Use:   "add-step [CAMPAIGN_ID]",
	Short: "Append a step to a campaign.",
	Long: `Append a step to a campaign. The delay is in minutes, counted from
enrollment for the first step and from the previous send for the others.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in campaign.StepInput
		in.Message, _ = cmd.Flags().GetString("message")
		in.TemplateID, _ = cmd.Flags().GetString("template")
		in.Subject, _ = cmd.Flags().GetString("subject")
		in.DelayMinutes, _ = cmd.Flags().GetInt("delay")

		m, store, err := openManager(false)
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := m.AddStep(args[0], in)
		if err != nil {
			return err
		}
		step := c.Steps[len(c.Steps)-1]
		fmt.Fprintf(cmd.OutOrStdout(), "Added step %d (%s) to %s\n", step.Position, step.ID, c.ID)
		return nil
	},
}

var campaignsStatusCmd = &cobra.Command{
	Use:   "status [CAMPAIGN_ID] [draft|active|paused|completed]",
	Short: "Set the status of a campaign.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, store, err := openManager(false)
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := m.SetStatus(args[0], model.CampaignStatus(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Campaign %s is now %s\n", c.ID, c.Status)
		return nil
	},
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		m, store, err := openManager(true)
		if err != nil {
			return err
		}
		defer store.Close()

		return doCampaignsList(m, owner, cmd.OutOrStdout())
	},
}

func doCampaignsList(m *campaign.Manager, owner string, w io.Writer) error {
	var (
		campaigns []*model.Campaign
		err       error
	)
	if owner != "" {
		campaigns, err = m.ListCampaignsForOwner(owner)
	} else {
		campaigns, err = m.ListCampaigns()
	}
	if err != nil {
		return err
	}

	if len(campaigns) == 0 {
		fmt.Fprintln(w, "No campaigns found.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Owner", "Status", "Steps", "Trigger", "Created")
	for _, c := range campaigns {
		table.Append([]string{
			c.ID,
			c.Name,
			c.OwnerID,
			string(c.Status),
			strconv.Itoa(len(c.Steps)),
			c.Settings.TriggerEvent,
			c.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

var campaignsStatsCmd = &cobra.Command{
	Use:   "stats [CAMPAIGN_ID]",
	Short: "Show subscriber counts for a campaign.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, store, err := openManager(true)
		if err != nil {
			return err
		}
		defer store.Close()

		return doCampaignsStats(m, args[0], cmd.OutOrStdout())
	},
}

func doCampaignsStats(m *campaign.Manager, campaignID string, w io.Writer) error {
	stats, err := m.GetCampaignStats(campaignID)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Total", "Active", "Completed", "Unsubscribed", "Failed", "Steps", "Created")
	table.Append([]string{
		strconv.Itoa(stats.TotalSubscribers),
		strconv.Itoa(stats.ActiveSubscribers),
		strconv.Itoa(stats.CompletedSubscribers),
		strconv.Itoa(stats.UnsubscribedSubscribers),
		strconv.Itoa(stats.FailedSubscribers),
		strconv.Itoa(stats.StepCount),
		stats.CreatedAt.Format("2006-01-02 15:04:05"),
	})
	table.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(campaignsCmd)

	campaignsCmd.AddCommand(campaignsCreateCmd)
	campaignsCreateCmd.Flags().String("name", "", "Name of the campaign")
	campaignsCreateCmd.Flags().String("owner", "", "ID of the owning account")
	campaignsCreateCmd.Flags().String("trigger-event", model.DefaultTriggerEvent, "Event that enrolls contacts")
	campaignsCreateCmd.Flags().Int("send-delay", 0, "Send delay in minutes")
	campaignsCreateCmd.MarkFlagRequired("name")
	campaignsCreateCmd.MarkFlagRequired("owner")

	campaignsCmd.AddCommand(campaignsAddStepCmd)
	campaignsAddStepCmd.Flags().String("message", "", "Inline message body (Go template)")
	campaignsAddStepCmd.Flags().String("template", "", "ID of a catalog template")
	campaignsAddStepCmd.Flags().String("subject", "", "Message subject")
	campaignsAddStepCmd.Flags().Int("delay", 0, "Delay in minutes")

	campaignsCmd.AddCommand(campaignsStatusCmd)

	campaignsCmd.AddCommand(campaignsListCmd)
	campaignsListCmd.Flags().String("owner", "", "Only list campaigns of this owner")

	campaignsCmd.AddCommand(campaignsStatsCmd)
}
