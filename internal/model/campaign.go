package model

import "time"

// CampaignStatus governs whether a campaign's subscriptions are considered by sweeps.
type CampaignStatus string

const (
	// CampaignDraft is the status of a newly created campaign.
	CampaignDraft CampaignStatus = "draft"
	// CampaignActive campaigns are eligible for sweeps.
	CampaignActive CampaignStatus = "active"
	// CampaignPaused campaigns are skipped by sweeps but keep subscriber state.
	CampaignPaused CampaignStatus = "paused"
	// CampaignCompleted is terminal; no further steps are sent.
	CampaignCompleted CampaignStatus = "completed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted:
		return true
	}
	return false
}

// DefaultTriggerEvent is used when a campaign is created without a trigger event.
const DefaultTriggerEvent = "contact_added"

// Settings describes how recipients come to be enrolled in a campaign.
type Settings struct {
	TriggerEvent     string `json:"trigger_event" yaml:"trigger_event"`
	SendDelayMinutes int    `json:"send_delay_minutes,omitempty" yaml:"send_delay_minutes,omitempty"`
}

// Step is one message in a campaign.
type Step struct {
	ID       string `json:"id" yaml:"id"`
	Position int    `json:"position" yaml:"position"`

	// DelayMinutes is measured from the completion of the previous step, or
	// from enrollment for the first step.
	DelayMinutes int `json:"delay_minutes" yaml:"delay_minutes"`

	Subject    string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	TemplateID string `json:"template_id,omitempty" yaml:"template_id,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Delay returns the step delay as a duration.
func (s Step) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

// Campaign is an ordered sequence of message steps with a lifecycle status.
type Campaign struct {
	ID       string         `json:"id" yaml:"id"`
	OwnerID  string         `json:"owner_id" yaml:"owner_id"`
	Name     string         `json:"name" yaml:"name"`
	Status   CampaignStatus `json:"status" yaml:"status"`
	Steps    []Step         `json:"steps" yaml:"steps"`
	Settings Settings       `json:"settings" yaml:"settings"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a copy of the campaign that shares no mutable state with c.
func (c *Campaign) Clone() *Campaign {
	out := *c
	if c.Steps != nil {
		out.Steps = make([]Step, len(c.Steps))
		copy(out.Steps, c.Steps)
	}
	return &out
}
