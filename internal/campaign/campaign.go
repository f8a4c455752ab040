// Package campaign manages the lifecycle of campaigns and subscriptions and
// answers read-only queries about them.
package campaign

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/scheduler"
	"github.com/google/uuid"
)

// enrollAttempts bounds the retries when two enrollments of the same contact
// land on the same instant.
const enrollAttempts = 5

// StepInput is the caller supplied data for a new step.
type StepInput struct {
	Message      string `json:"message,omitempty" yaml:"message,omitempty"`
	TemplateID   string `json:"templateId,omitempty" yaml:"templateId,omitempty"`
	Subject      string `json:"subject,omitempty" yaml:"subject,omitempty"`
	DelayMinutes int    `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager performs status transitions and enrollment against a store.
type Manager struct {
	store kv.Storer
	now   func() time.Time
}

// New creates a new Manager.
func New(store kv.Storer, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

// CreateCampaign creates a draft campaign with no steps.
func (m *Manager) CreateCampaign(name, ownerID string, settings model.Settings) (*model.Campaign, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("campaign name must not be empty")
	}
	if settings.SendDelayMinutes < 0 {
		return nil, validationError("send delay must not be negative, got %d", settings.SendDelayMinutes)
	}
	if settings.TriggerEvent == "" {
		settings.TriggerEvent = model.DefaultTriggerEvent
	}

	now := m.clock()
	c := &model.Campaign{
		ID:        "drip_" + uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Status:    model.CampaignDraft,
		Steps:     []model.Step{},
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateCampaign(c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	slog.Info("created campaign", "campaign_id", c.ID, "owner_id", ownerID)
	return c, nil
}

// AddStep appends a step to the end of a campaign.
func (m *Manager) AddStep(campaignID string, in StepInput) (*model.Campaign, error) {
	if in.DelayMinutes < 0 {
		return nil, validationError("step delay must not be negative, got %d", in.DelayMinutes)
	}

	now := m.clock()
	c, err := m.store.UpdateCampaign(campaignID, func(c *model.Campaign) error {
		c.Steps = append(c.Steps, model.Step{
			ID:           "step_" + uuid.NewString(),
			Position:     len(c.Steps) + 1,
			DelayMinutes: in.DelayMinutes,
			Subject:      in.Subject,
			Message:      in.Message,
			TemplateID:   in.TemplateID,
			CreatedAt:    now,
		})
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, translate(err, "campaign", campaignID)
	}
	return c, nil
}

// SetStatus changes the status of a campaign. Any known status may follow any
// other; paused and completed campaigns are simply skipped by later sweeps.
func (m *Manager) SetStatus(campaignID string, status model.CampaignStatus) (*model.Campaign, error) {
	if !status.Valid() {
		return nil, validationError("unknown campaign status '%s'", status)
	}

	now := m.clock()
	c, err := m.store.UpdateCampaign(campaignID, func(c *model.Campaign) error {
		c.Status = status
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, translate(err, "campaign", campaignID)
	}

	slog.Info("set campaign status", "campaign_id", campaignID, "status", status)
	return c, nil
}

// Enroll creates a new subscription of contactID to a campaign. A campaign
// without steps completes the subscription immediately.
func (m *Manager) Enroll(campaignID, contactID string, triggerData map[string]interface{}) (*model.Subscription, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, validationError("contact id must not be empty")
	}

	c, err := m.store.GetCampaign(campaignID)
	if err != nil {
		return nil, translate(err, "campaign", campaignID)
	}

	if triggerData == nil {
		triggerData = map[string]interface{}{}
	}

	now := m.clock()
	for attempt := 0; attempt < enrollAttempts; attempt++ {
		enrolledAt := now.Add(time.Duration(attempt))
		sub := &model.Subscription{
			ID:             kv.GenerateSubscriptionID(c.ID, contactID, enrolledAt),
			CampaignID:     c.ID,
			ContactID:      contactID,
			Status:         model.SubscriptionActive,
			CurrentStep:    0,
			NextStepAt:     scheduler.NextDueTime(c, 0, enrolledAt),
			TriggerData:    triggerData,
			EnrolledAt:     enrolledAt,
			LastActivityAt: enrolledAt,
		}
		if sub.NextStepAt == nil {
			sub.Status = model.SubscriptionCompleted
		}

		err := m.store.CreateSubscription(sub)
		if errors.Is(err, kv.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, translate(err, "campaign", campaignID)
		}

		slog.Info("enrolled contact", "campaign_id", c.ID, "contact_id", contactID, "subscription_id", sub.ID, "status", sub.Status)
		return sub, nil
	}

	return nil, fmt.Errorf("%w: could not allocate a subscription id for contact '%s'", kv.ErrAlreadyExists, contactID)
}

// Unsubscribe moves an active subscription to unsubscribed. Subscriptions
// already in a terminal status are returned unchanged.
func (m *Manager) Unsubscribe(subscriptionID string) (*model.Subscription, error) {
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, translate(err, "subscription", subscriptionID)
	}
	if sub.Status.Terminal() {
		return sub, nil
	}

	now := m.clock()
	sub, err = m.store.UpdateSubscription(subscriptionID, func(s *model.Subscription) error {
		if s.Status.Terminal() {
			return nil
		}
		s.Status = model.SubscriptionUnsubscribed
		s.LastActivityAt = now
		return nil
	})
	if err != nil {
		return nil, translate(err, "subscription", subscriptionID)
	}

	slog.Info("unsubscribed contact", "subscription_id", sub.ID, "campaign_id", sub.CampaignID, "status", sub.Status)
	return sub, nil
}

// GetCampaign retrieves a campaign by ID.
func (m *Manager) GetCampaign(id string) (*model.Campaign, error) {
	c, err := m.store.GetCampaign(id)
	if err != nil {
		return nil, translate(err, "campaign", id)
	}
	return c, nil
}

// ListCampaignsForOwner returns the campaigns created by ownerID, oldest first.
func (m *Manager) ListCampaignsForOwner(ownerID string) ([]*model.Campaign, error) {
	all, err := m.store.ListCampaigns()
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	campaigns := []*model.Campaign{}
	for _, c := range all {
		if c.OwnerID == ownerID {
			campaigns = append(campaigns, c)
		}
	}
	return campaigns, nil
}

// ListCampaigns returns every campaign, oldest first.
func (m *Manager) ListCampaigns() ([]*model.Campaign, error) {
	return m.store.ListCampaigns()
}

// GetSubscription retrieves a subscription by ID.
func (m *Manager) GetSubscription(id string) (*model.Subscription, error) {
	sub, err := m.store.GetSubscription(id)
	if err != nil {
		return nil, translate(err, "subscription", id)
	}
	return sub, nil
}

// ListSubscriptions returns the subscriptions enrolled in a campaign.
func (m *Manager) ListSubscriptions(campaignID string) ([]*model.Subscription, error) {
	if _, err := m.store.GetCampaign(campaignID); err != nil {
		return nil, translate(err, "campaign", campaignID)
	}
	return m.store.ListSubscriptionsByCampaign(campaignID)
}

// GetProgress reports how far a subscription has advanced through its campaign.
func (m *Manager) GetProgress(subscriptionID string) (*model.Progress, error) {
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, translate(err, "subscription", subscriptionID)
	}
	c, err := m.store.GetCampaign(sub.CampaignID)
	if err != nil {
		return nil, translate(err, "campaign", sub.CampaignID)
	}

	return &model.Progress{
		CurrentStep:     sub.CurrentStep,
		TotalSteps:      len(c.Steps),
		PercentComplete: PercentComplete(sub.CurrentStep, len(c.Steps)),
		Subscription:    sub,
		Campaign:        c,
	}, nil
}

// PercentComplete rounds current/total to a whole percentage; it is 0 when
// there are no steps.
func PercentComplete(current, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

// GetCampaignStats summarises the subscribers of a campaign.
func (m *Manager) GetCampaignStats(campaignID string) (*model.Stats, error) {
	c, err := m.store.GetCampaign(campaignID)
	if err != nil {
		return nil, translate(err, "campaign", campaignID)
	}
	subs, err := m.store.ListSubscriptionsByCampaign(campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	stats := &model.Stats{
		TotalSubscribers: len(subs),
		StepCount:        len(c.Steps),
		CreatedAt:        c.CreatedAt,
	}
	for _, sub := range subs {
		switch sub.Status {
		case model.SubscriptionActive:
			stats.ActiveSubscribers++
		case model.SubscriptionCompleted:
			stats.CompletedSubscribers++
		case model.SubscriptionUnsubscribed:
			stats.UnsubscribedSubscribers++
		case model.SubscriptionFailed:
			stats.FailedSubscribers++
		}
	}
	return stats, nil
}

// Authorize returns ErrForbidden unless ownerID owns c.
func Authorize(c *model.Campaign, ownerID string) error {
	if c.OwnerID != ownerID {
		return fmt.Errorf("%w: campaign '%s' is not owned by '%s'", ErrForbidden, c.ID, ownerID)
	}
	return nil
}

// Import creates a campaign with its steps and status in one call. Every step
// is validated before anything is written.
func (m *Manager) Import(name, ownerID string, settings model.Settings, steps []StepInput, status model.CampaignStatus) (*model.Campaign, error) {
	for i, in := range steps {
		if in.DelayMinutes < 0 {
			return nil, validationError("step %d: delay must not be negative, got %d", i+1, in.DelayMinutes)
		}
	}
	if status == "" {
		status = model.CampaignDraft
	}
	if !status.Valid() {
		return nil, validationError("unknown campaign status '%s'", status)
	}

	c, err := m.CreateCampaign(name, ownerID, settings)
	if err != nil {
		return nil, err
	}
	for _, in := range steps {
		if c, err = m.AddStep(c.ID, in); err != nil {
			return nil, err
		}
	}
	if status != c.Status {
		return m.SetStatus(c.ID, status)
	}
	return c, nil
}
