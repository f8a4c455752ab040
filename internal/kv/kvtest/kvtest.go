// Package kvtest holds a conformance suite shared by the kv.Storer backends.
package kvtest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func campaign(id string, offset time.Duration) *model.Campaign {
	return &model.Campaign{
		ID:       id,
		OwnerID:  "owner-1",
		Name:     "Campaign " + id,
		Status:   model.CampaignDraft,
		Settings: model.Settings{TriggerEvent: model.DefaultTriggerEvent},
		Steps: []model.Step{
			{ID: id + "-s1", Position: 1, DelayMinutes: 0, Message: "A", CreatedAt: epoch},
		},
		CreatedAt: epoch.Add(offset),
		UpdatedAt: epoch.Add(offset),
	}
}

func subscription(campaignID, contactID string, offset time.Duration) *model.Subscription {
	enrolled := epoch.Add(offset)
	next := enrolled
	return &model.Subscription{
		ID:             kv.GenerateSubscriptionID(campaignID, contactID, enrolled),
		CampaignID:     campaignID,
		ContactID:      contactID,
		Status:         model.SubscriptionActive,
		NextStepAt:     &next,
		TriggerData:    map[string]interface{}{"name": "Ada"},
		EnrolledAt:     enrolled,
		LastActivityAt: enrolled,
	}
}

// Run exercises a kv.Storer created fresh for each subtest by newStore.
func Run(t *testing.T, newStore func(t *testing.T) kv.Storer) {
	t.Run("campaign round trip", func(t *testing.T) {
		s := newStore(t)
		c := campaign("c1", 0)
		require.NoError(t, s.CreateCampaign(c))

		got, err := s.GetCampaign("c1")
		require.NoError(t, err)
		assert.Equal(t, c, got)

		err = s.CreateCampaign(c)
		assert.ErrorIs(t, err, kv.ErrAlreadyExists)

		_, err = s.GetCampaign("missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("list campaigns oldest first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("later", time.Hour)))
		require.NoError(t, s.CreateCampaign(campaign("earlier", 0)))

		got, err := s.ListCampaigns()
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "earlier", got[0].ID)
		assert.Equal(t, "later", got[1].ID)
	})

	t.Run("update campaign", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("c1", 0)))

		updated, err := s.UpdateCampaign("c1", func(c *model.Campaign) error {
			c.Status = model.CampaignActive
			c.Steps = append(c.Steps, model.Step{ID: "c1-s2", Position: 2, DelayMinutes: 60, Message: "B"})
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.CampaignActive, updated.Status)
		assert.Len(t, updated.Steps, 2)

		got, err := s.GetCampaign("c1")
		require.NoError(t, err)
		assert.Equal(t, updated, got)

		_, err = s.UpdateCampaign("missing", func(*model.Campaign) error { return nil })
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("failed update writes nothing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("c1", 0)))
		sub := subscription("c1", "contact-1", 0)
		require.NoError(t, s.CreateSubscription(sub))

		boom := errors.New("boom")
		_, err := s.UpdateCampaign("c1", func(c *model.Campaign) error {
			c.Name = "changed"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.UpdateSubscription(sub.ID, func(s *model.Subscription) error {
			s.CurrentStep = 5
			return boom
		})
		assert.ErrorIs(t, err, boom)

		c, err := s.GetCampaign("c1")
		require.NoError(t, err)
		assert.Equal(t, "Campaign c1", c.Name)

		got, err := s.GetSubscription(sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.CurrentStep)
	})

	t.Run("subscription round trip", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("c1", 0)))

		sub := subscription("c1", "contact-1", 0)
		require.NoError(t, s.CreateSubscription(sub))

		got, err := s.GetSubscription(sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Equal(t, sub.ContactID, got.ContactID)
		assert.Equal(t, sub.Status, got.Status)
		require.NotNil(t, got.NextStepAt)
		assert.True(t, sub.NextStepAt.Equal(*got.NextStepAt))
		assert.Equal(t, "Ada", got.TriggerData["name"])

		assert.ErrorIs(t, s.CreateSubscription(sub), kv.ErrAlreadyExists)

		_, err = s.GetSubscription("missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("subscription requires campaign", func(t *testing.T) {
		s := newStore(t)
		err := s.CreateSubscription(subscription("missing", "contact-1", 0))
		assert.ErrorIs(t, err, kv.ErrNotFound)

		all, err := s.ListSubscriptions()
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("subscriptions indexed by campaign", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("c1", 0)))
		require.NoError(t, s.CreateCampaign(campaign("c2", 0)))
		require.NoError(t, s.CreateSubscription(subscription("c1", "contact-2", time.Minute)))
		require.NoError(t, s.CreateSubscription(subscription("c1", "contact-1", 0)))
		require.NoError(t, s.CreateSubscription(subscription("c2", "contact-1", 0)))

		got, err := s.ListSubscriptionsByCampaign("c1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "contact-1", got[0].ContactID)
		assert.Equal(t, "contact-2", got[1].ContactID)

		got, err = s.ListSubscriptionsByCampaign("c3")
		require.NoError(t, err)
		assert.Empty(t, got)

		all, err := s.ListSubscriptions()
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("update subscription", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("c1", 0)))
		sub := subscription("c1", "contact-1", 0)
		require.NoError(t, s.CreateSubscription(sub))

		updated, err := s.UpdateSubscription(sub.ID, func(s *model.Subscription) error {
			s.CurrentStep = 1
			s.Status = model.SubscriptionCompleted
			s.NextStepAt = nil
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.CurrentStep)

		got, err := s.GetSubscription(sub.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionCompleted, got.Status)
		assert.Nil(t, got.NextStepAt)

		_, err = s.UpdateSubscription("missing", func(*model.Subscription) error { return nil })
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("concurrent updates are serialised", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("c1", 0)))
		sub := subscription("c1", "contact-1", 0)
		require.NoError(t, s.CreateSubscription(sub))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateSubscription(sub.ID, func(s *model.Subscription) error {
					s.CurrentStep++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.GetSubscription(sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 20, got.CurrentStep)
	})

	t.Run("rebuild index", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateCampaign(campaign("c1", 0)))
		require.NoError(t, s.CreateSubscription(subscription("c1", "contact-1", 0)))
		require.NoError(t, s.CreateSubscription(subscription("c1", "contact-2", time.Minute)))

		require.NoError(t, s.RebuildIndex())

		got, err := s.ListSubscriptionsByCampaign("c1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("schema version", func(t *testing.T) {
		s := newStore(t)
		v, err := s.GetSchemaVersion()
		require.NoError(t, err)
		assert.Equal(t, 0, v)

		require.NoError(t, s.SetSchemaVersion(3))
		v, err = s.GetSchemaVersion()
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	})
}
