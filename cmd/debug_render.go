package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/processor"
	"github.com/andrewhowdencom/drip/internal/sourcer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var debugRenderCmd = &cobra.Command{
	Use:   "render [CAMPAIGN_ID] [STEP]",
	Short: "Render a campaign step for a contact.",
	Long: `Render a campaign step for a contact, resolving template IDs against
the catalog configured in templates.urls. Steps are numbered from 1.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		position, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("step must be a number: %w", err)
		}
		contactID, _ := cmd.Flags().GetString("contact")
		data, _ := cmd.Flags().GetStringToString("data")

		m, store, err := openManager(true)
		if err != nil {
			return err
		}
		defer store.Close()

		catalog := processor.NewCatalog(catalogTemplates(buildSourcer())...)
		triggerData := make(map[string]interface{}, len(data))
		for k, v := range data {
			triggerData[k] = v
		}

		return doDebugRender(m, processor.NewResolver(catalog), args[0], position, contactID, triggerData, cmd.OutOrStdout())
	},
}

func doDebugRender(m *campaign.Manager, r *processor.Resolver, campaignID string, position int, contactID string, triggerData map[string]interface{}, w io.Writer) error {
	c, err := m.GetCampaign(campaignID)
	if err != nil {
		return err
	}
	if position < 1 || position > len(c.Steps) {
		return fmt.Errorf("campaign '%s' has %d steps, no step %d", c.ID, len(c.Steps), position)
	}

	msg, err := r.ResolveStepContent(c, c.Steps[position-1], contactID, triggerData)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Subject:", msg.Subject)
	fmt.Fprintln(w, "Content:", msg.Body)
	return nil
}

// catalogTemplates loads the templates from every templates.urls source,
// skipping the ones that cannot be read.
func catalogTemplates(s sourcer.Sourcer) []model.Template {
	var templates []model.Template
	for _, url := range viper.GetStringSlice("templates.urls") {
		source, _, err := s.Source(url)
		if err != nil {
			slog.Warn("error sourcing templates", "url", url, "error", err)
			continue
		}
		templates = append(templates, source.Templates...)
	}
	return templates
}

func init() {
	debugCmd.AddCommand(debugRenderCmd)
	debugRenderCmd.Flags().String("contact", "debug", "Contact ID to render for")
	debugRenderCmd.Flags().StringToString("data", nil, "Trigger data as key=value pairs")
}
