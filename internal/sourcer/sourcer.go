package sourcer

import (
	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/model"
)

// Source represents a source document: a set of templates and campaign definitions.
type Source struct {
	Templates []model.Template     `json:"templates,omitempty" yaml:"templates,omitempty"`
	Campaigns []CampaignDefinition `json:"campaigns,omitempty" yaml:"campaigns,omitempty"`
}

// CampaignDefinition describes a campaign to be imported.
type CampaignDefinition struct {
	Name     string               `json:"name,omitempty" yaml:"name,omitempty"`
	Owner    string               `json:"owner,omitempty" yaml:"owner,omitempty"`
	Status   model.CampaignStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Settings SettingsDefinition   `json:"settings,omitempty" yaml:"settings,omitempty"`
	Steps    []campaign.StepInput `json:"steps" yaml:"steps"`
}

// SettingsDefinition mirrors model.Settings in the document format.
type SettingsDefinition struct {
	TriggerEvent string `json:"triggerEvent,omitempty" yaml:"triggerEvent,omitempty"`
	SendDelay    int    `json:"sendDelay,omitempty" yaml:"sendDelay,omitempty"`
}

// Settings converts the definition into campaign settings.
func (d SettingsDefinition) Settings() model.Settings {
	return model.Settings{TriggerEvent: d.TriggerEvent, SendDelayMinutes: d.SendDelay}
}

// Define converts a stored campaign back into its document form.
func Define(c *model.Campaign) CampaignDefinition {
	def := CampaignDefinition{
		Name:   c.Name,
		Owner:  c.OwnerID,
		Status: c.Status,
		Settings: SettingsDefinition{
			TriggerEvent: c.Settings.TriggerEvent,
			SendDelay:    c.Settings.SendDelayMinutes,
		},
		Steps: make([]campaign.StepInput, 0, len(c.Steps)),
	}
	for _, step := range c.Steps {
		def.Steps = append(def.Steps, campaign.StepInput{
			Message:      step.Message,
			TemplateID:   step.TemplateID,
			Subject:      step.Subject,
			DelayMinutes: step.DelayMinutes,
		})
	}
	return def
}

// Sourcer is an interface that defines the methods for sourcing documents.
type Sourcer interface {
	Source(url string) (*Source, string, error)
}

// sourcer is the concrete implementation of the Sourcer interface.
type sourcer struct {
	fetcher Fetcher
	parser  Parser
}

// NewSourcer creates a new Sourcer.
func NewSourcer(fetcher Fetcher, parser Parser) Sourcer {
	return &sourcer{
		fetcher: fetcher,
		parser:  parser,
	}
}

// Source fetches and parses the document at url, returning it with the
// fetcher's state marker for change detection.
func (s *sourcer) Source(url string) (*Source, string, error) {
	data, state, err := s.fetcher.Fetch(url)
	if err != nil {
		return nil, "", err
	}

	source, err := s.parser.Parse(url, data)
	if err != nil {
		return nil, "", err
	}

	return source, state, nil
}
