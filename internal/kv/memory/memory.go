// Package memory implements an in-memory datastore backed by Go maps.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
)

// Store is an in-memory implementation of kv.Storer. Records are copied on
// the way in and out, so callers never share state with the store.
type Store struct {
	mu            sync.RWMutex
	campaigns     map[string]*model.Campaign
	subscriptions map[string]*model.Subscription
	byCampaign    map[string][]string
	version       int
}

// NewStore creates a new, empty Store.
func NewStore() *Store {
	return &Store{
		campaigns:     make(map[string]*model.Campaign),
		subscriptions: make(map[string]*model.Subscription),
		byCampaign:    make(map[string][]string),
	}
}

// CreateCampaign stores a new campaign.
func (s *Store) CreateCampaign(c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; ok {
		return fmt.Errorf("%w: campaign with id '%s'", kv.ErrAlreadyExists, c.ID)
	}
	s.campaigns[c.ID] = c.Clone()
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (s *Store) GetCampaign(id string) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, id)
	}
	return c.Clone(), nil
}

// ListCampaigns returns every campaign, oldest first.
func (s *Store) ListCampaigns() ([]*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateCampaign applies fn to a copy of the campaign and stores the result.
func (s *Store) UpdateCampaign(id string, fn func(*model.Campaign) error) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, id)
	}
	updated := c.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.campaigns[id] = updated
	return updated.Clone(), nil
}

// CreateSubscription stores a new subscription and indexes it under its campaign.
func (s *Store) CreateSubscription(sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[sub.CampaignID]; !ok {
		return fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, sub.CampaignID)
	}
	if _, ok := s.subscriptions[sub.ID]; ok {
		return fmt.Errorf("%w: subscription with id '%s'", kv.ErrAlreadyExists, sub.ID)
	}
	s.subscriptions[sub.ID] = sub.Clone()
	s.byCampaign[sub.CampaignID] = append(s.byCampaign[sub.CampaignID], sub.ID)
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(id string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription with id '%s'", kv.ErrNotFound, id)
	}
	return sub.Clone(), nil
}

// ListSubscriptions returns every subscription, oldest enrollment first.
func (s *Store) ListSubscriptions() ([]*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	return out, nil
}

// ListSubscriptionsByCampaign returns the subscriptions registered under a campaign.
func (s *Store) ListSubscriptionsByCampaign(campaignID string) ([]*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCampaign[campaignID]
	out := make([]*model.Subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := s.subscriptions[id]; ok {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	return out, nil
}

// UpdateSubscription applies fn to a copy of the subscription and stores the result.
func (s *Store) UpdateSubscription(id string, fn func(*model.Subscription) error) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription with id '%s'", kv.ErrNotFound, id)
	}
	updated := sub.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.subscriptions[id] = updated
	return updated.Clone(), nil
}

// RebuildIndex recreates the campaign index from the subscription records.
func (s *Store) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]*model.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].EnrolledAt.Before(subs[j].EnrolledAt) })

	s.byCampaign = make(map[string][]string)
	for _, sub := range subs {
		s.byCampaign[sub.CampaignID] = append(s.byCampaign[sub.CampaignID], sub.ID)
	}
	return nil
}

// GetSchemaVersion returns the schema version recorded in the store.
func (s *Store) GetSchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

// SetSchemaVersion records the schema version.
func (s *Store) SetSchemaVersion(version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
