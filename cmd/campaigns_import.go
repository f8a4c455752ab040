package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/sourcer"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var campaignsImportCmd = &cobra.Command{
	Use:   "import [uri]",
	Short: "Create campaigns from a campaign document.",
	Long: `Create campaigns from a YAML campaign document. The document is fetched
from a file://, http(s):// or git:// URI and validated before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		m, store, err := openManager(false)
		if err != nil {
			return err
		}
		defer store.Close()

		return doCampaignsImport(m, buildSourcer(), args[0], owner, cmd.OutOrStdout())
	},
}

func doCampaignsImport(m *campaign.Manager, s sourcer.Sourcer, uri, owner string, w io.Writer) error {
	source, _, err := s.Source(uri)
	if err != nil {
		return err
	}

	for _, def := range source.Campaigns {
		if def.Owner == "" {
			def.Owner = owner
		}
		if def.Owner == "" {
			return fmt.Errorf("campaign '%s' has no owner; set one in the document or pass --owner", def.Name)
		}

		c, err := m.Import(def.Name, def.Owner, def.Settings.Settings(), def.Steps, def.Status)
		if err != nil {
			return fmt.Errorf("failed to import campaign '%s': %w", def.Name, err)
		}
		fmt.Fprintf(w, "Imported %s (%s) with %d steps\n", c.Name, c.ID, len(c.Steps))
	}
	return nil
}

var campaignsExportCmd = &cobra.Command{
	Use:   "export [CAMPAIGN_ID...]",
	Short: "Write campaigns as a campaign document.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		m, store, err := openManager(true)
		if err != nil {
			return err
		}
		defer store.Close()

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}

		return doCampaignsExport(m, args, w)
	},
}

func doCampaignsExport(m *campaign.Manager, ids []string, w io.Writer) error {
	var doc sourcer.Source
	for _, id := range ids {
		c, err := m.GetCampaign(id)
		if err != nil {
			return err
		}
		doc.Campaigns = append(doc.Campaigns, sourcer.Define(c))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode campaigns: %w", err)
	}
	return enc.Close()
}

func init() {
	campaignsCmd.AddCommand(campaignsImportCmd)
	campaignsImportCmd.Flags().String("owner", "", "Owner for campaigns that do not name one")

	campaignsCmd.AddCommand(campaignsExportCmd)
	campaignsExportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
}
