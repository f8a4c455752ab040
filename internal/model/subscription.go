package model

import "time"

// SubscriptionStatus is the lifecycle state of one recipient in one campaign.
type SubscriptionStatus string

const (
	// SubscriptionActive is the only status considered by sweeps.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionCompleted means every step has been sent.
	SubscriptionCompleted SubscriptionStatus = "completed"
	// SubscriptionUnsubscribed means the recipient opted out.
	SubscriptionUnsubscribed SubscriptionStatus = "unsubscribed"
	// SubscriptionFailed means the current step failed too many times in a row.
	SubscriptionFailed SubscriptionStatus = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s SubscriptionStatus) Terminal() bool {
	return s != SubscriptionActive
}

// Subscription records one recipient's progress through one campaign.
type Subscription struct {
	ID         string             `json:"id" yaml:"id"`
	CampaignID string             `json:"campaign_id" yaml:"campaign_id"`
	ContactID  string             `json:"contact_id" yaml:"contact_id"`
	Status     SubscriptionStatus `json:"status" yaml:"status"`

	// CurrentStep is the number of steps already sent.
	CurrentStep int `json:"current_step" yaml:"current_step"`
	// NextStepAt is nil when no further step is scheduled.
	NextStepAt *time.Time `json:"next_step_at,omitempty" yaml:"next_step_at,omitempty"`

	TriggerData map[string]interface{} `json:"trigger_data,omitempty" yaml:"trigger_data,omitempty"`

	FailureCount int    `json:"failure_count,omitempty" yaml:"failure_count,omitempty"`
	LastError    string `json:"last_error,omitempty" yaml:"last_error,omitempty"`

	// ClaimToken is set while an execution of the current step is in flight.
	ClaimToken     string     `json:"claim_token,omitempty" yaml:"-"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty" yaml:"-"`

	EnrolledAt     time.Time `json:"enrolled_at" yaml:"enrolled_at"`
	LastActivityAt time.Time `json:"last_activity_at" yaml:"last_activity_at"`
}

// Due reports whether the subscription's next step is scheduled at or before now.
func (s *Subscription) Due(now time.Time) bool {
	return s.Status == SubscriptionActive && s.NextStepAt != nil && !s.NextStepAt.After(now)
}

// Claimed reports whether an unexpired claim is held on the subscription at now.
func (s *Subscription) Claimed(now time.Time) bool {
	return s.ClaimToken != "" && s.ClaimExpiresAt != nil && s.ClaimExpiresAt.After(now)
}

// Clone returns a copy of the subscription that shares no mutable state with s.
func (s *Subscription) Clone() *Subscription {
	out := *s
	if s.NextStepAt != nil {
		t := *s.NextStepAt
		out.NextStepAt = &t
	}
	if s.ClaimExpiresAt != nil {
		t := *s.ClaimExpiresAt
		out.ClaimExpiresAt = &t
	}
	if s.TriggerData != nil {
		out.TriggerData = make(map[string]interface{}, len(s.TriggerData))
		for k, v := range s.TriggerData {
			out.TriggerData[k] = v
		}
	}
	return &out
}

// Progress summarises how far a subscription has advanced.
type Progress struct {
	CurrentStep     int `json:"current_step"`
	TotalSteps      int `json:"total_steps"`
	PercentComplete int `json:"percent_complete"`

	Subscription *Subscription `json:"subscription,omitempty"`
	Campaign     *Campaign     `json:"campaign,omitempty"`
}

// Stats summarises the subscribers of a campaign.
type Stats struct {
	TotalSubscribers        int       `json:"total_subscribers"`
	ActiveSubscribers       int       `json:"active_subscribers"`
	CompletedSubscribers    int       `json:"completed_subscribers"`
	UnsubscribedSubscribers int       `json:"unsubscribed_subscribers"`
	FailedSubscribers       int       `json:"failed_subscribers"`
	StepCount               int       `json:"step_count"`
	CreatedAt               time.Time `json:"created_at"`
}
