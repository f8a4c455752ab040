package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/andrewhowdencom/drip/internal/sourcer"
	"github.com/spf13/cobra"
)

// debugValidateCmd represents the debug validate command
var debugValidateCmd = &cobra.Command{
	Use:   "validate [uri]",
	Short: "Validate a template or campaign document.",
	Long: `Validate a template or campaign document against the document schema,
and check that every step's template ID names a template in the document or in
the configured catalog.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doDebugValidate(buildSourcer(), args[0], cmd.OutOrStdout())
	},
}

func doDebugValidate(s sourcer.Sourcer, uri string, w io.Writer) error {
	source, _, err := s.Source(uri)
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, t := range source.Templates {
		known[t.ID] = true
	}
	for _, t := range catalogTemplates(s) {
		known[t.ID] = true
	}

	var problems []string
	for _, c := range source.Campaigns {
		for i, step := range c.Steps {
			if step.TemplateID != "" && !known[step.TemplateID] {
				problems = append(problems, fmt.Sprintf("campaign '%s' step %d: unknown template '%s'", c.Name, i+1, step.TemplateID))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("validation failed:\n%s", strings.Join(problems, "\n"))
	}

	fmt.Fprintf(w, "OK: %d templates, %d campaigns\n", len(source.Templates), len(source.Campaigns))
	return nil
}

func init() {
	debugCmd.AddCommand(debugValidateCmd)
}
