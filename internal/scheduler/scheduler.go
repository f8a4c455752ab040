package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
)

// NextDueTime computes when the step at stepIndex falls due, measuring its
// delay from ref: the enrollment time for the first step, or the completion
// of the previous step. It returns nil when stepIndex is past the last step.
func NextDueTime(c *model.Campaign, stepIndex int, ref time.Time) *time.Time {
	if stepIndex < 0 || stepIndex >= len(c.Steps) {
		return nil
	}
	t := ref.Add(c.Steps[stepIndex].Delay()).UTC()
	return &t
}

// Due is a subscription whose next step has fallen due, paired with the
// campaign it belongs to as read during the same sweep.
type Due struct {
	Subscription *model.Subscription
	Campaign     *model.Campaign
}

// Scheduler discovers subscriptions with steps ready to be executed.
type Scheduler struct {
	storer kv.Storer
}

// New creates a new scheduler.
func New(storer kv.Storer) *Scheduler {
	return &Scheduler{
		storer: storer,
	}
}

// FindDue returns the active subscriptions of active campaigns whose next step
// is scheduled at or before now, oldest first. It does not modify the store.
func (s *Scheduler) FindDue(now time.Time) ([]Due, error) {
	subs, err := s.storer.ListSubscriptions()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	campaigns := make(map[string]*model.Campaign)
	var due []Due
	for _, sub := range subs {
		if !sub.Due(now) {
			continue
		}

		c, ok := campaigns[sub.CampaignID]
		if !ok {
			c, err = s.storer.GetCampaign(sub.CampaignID)
			if err != nil {
				if !errors.Is(err, kv.ErrNotFound) {
					return nil, fmt.Errorf("failed to get campaign: %w", err)
				}
				slog.Warn("subscription references a missing campaign", "subscription_id", sub.ID, "campaign_id", sub.CampaignID)
			}
			campaigns[sub.CampaignID] = c
		}
		if c == nil || c.Status != model.CampaignActive {
			continue
		}

		due = append(due, Due{Subscription: sub, Campaign: c})
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Subscription.NextStepAt.Before(*due[j].Subscription.NextStepAt)
	})
	return due, nil
}

// Upcoming returns the active subscriptions of active campaigns whose next
// step falls due within the window (now, now+window], soonest first.
func (s *Scheduler) Upcoming(now time.Time, window time.Duration) ([]Due, error) {
	all, err := s.FindDue(now.Add(window))
	if err != nil {
		return nil, err
	}

	var upcoming []Due
	for _, d := range all {
		if d.Subscription.NextStepAt.After(now) {
			upcoming = append(upcoming, d)
		}
	}
	return upcoming, nil
}
