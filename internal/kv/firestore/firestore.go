package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	campaignsCollection     = "campaigns"
	subscriptionsCollection = "subscriptions"
	metaCollection          = "meta"
)

// Store manages the persistence of campaigns and subscriptions in Firestore.
// Subscriptions carry their campaign ID, so the campaign index is a query.
type Store struct {
	client *firestore.Client
}

// NewStore creates a new Store and initializes the Firestore client.
func NewStore(projectID string) (kv.Storer, error) {
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close closes the Firestore client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// CreateCampaign adds a new campaign to the store.
func (s *Store) CreateCampaign(c *model.Campaign) error {
	ctx := context.Background()
	_, err := s.client.Collection(campaignsCollection).Doc(c.ID).Create(ctx, c)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: campaign with id '%s'", kv.ErrAlreadyExists, c.ID)
		}
		return fmt.Errorf("%w: failed to create campaign: %w", kv.ErrDBOperationFailed, err)
	}
	return nil
}

// GetCampaign retrieves a single campaign from the store.
func (s *Store) GetCampaign(id string) (*model.Campaign, error) {
	ctx := context.Background()
	doc, err := s.client.Collection(campaignsCollection).Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to get campaign: %w", kv.ErrDBOperationFailed, err)
	}
	var c model.Campaign
	if err := doc.DataTo(&c); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal campaign: %w", kv.ErrSerializationFailed, err)
	}
	return &c, nil
}

// ListCampaigns retrieves all campaigns from the store, oldest first.
func (s *Store) ListCampaigns() ([]*model.Campaign, error) {
	ctx := context.Background()
	var campaigns []*model.Campaign
	iter := s.client.Collection(campaignsCollection).OrderBy("CreatedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to iterate over campaigns: %w", kv.ErrDBOperationFailed, err)
		}
		var c model.Campaign
		if err := doc.DataTo(&c); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal campaign: %w", kv.ErrSerializationFailed, err)
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, nil
}

// UpdateCampaign applies fn to the stored campaign inside a Firestore transaction.
func (s *Store) UpdateCampaign(id string, fn func(*model.Campaign) error) (*model.Campaign, error) {
	ctx := context.Background()
	ref := s.client.Collection(campaignsCollection).Doc(id)
	var c model.Campaign
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				return fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, id)
			}
			return fmt.Errorf("%w: failed to get campaign: %w", kv.ErrDBOperationFailed, err)
		}
		c = model.Campaign{}
		if err := doc.DataTo(&c); err != nil {
			return fmt.Errorf("%w: failed to unmarshal campaign: %w", kv.ErrSerializationFailed, err)
		}
		if err := fn(&c); err != nil {
			return err
		}
		return tx.Set(ref, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateSubscription adds a new subscription, provided its campaign exists.
func (s *Store) CreateSubscription(sub *model.Subscription) error {
	ctx := context.Background()
	campaignRef := s.client.Collection(campaignsCollection).Doc(sub.CampaignID)
	ref := s.client.Collection(subscriptionsCollection).Doc(sub.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(campaignRef); err != nil {
			if notFound(err) {
				return fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, sub.CampaignID)
			}
			return fmt.Errorf("%w: failed to get campaign: %w", kv.ErrDBOperationFailed, err)
		}
		return tx.Create(ref, sub)
	})
	if err == nil || errors.Is(err, kv.ErrNotFound) || errors.Is(err, kv.ErrDBOperationFailed) {
		return err
	}
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: subscription with id '%s'", kv.ErrAlreadyExists, sub.ID)
	}
	return fmt.Errorf("%w: failed to create subscription: %w", kv.ErrDBOperationFailed, err)
}

// GetSubscription retrieves a single subscription from the store.
func (s *Store) GetSubscription(id string) (*model.Subscription, error) {
	ctx := context.Background()
	doc, err := s.client.Collection(subscriptionsCollection).Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: subscription with id '%s'", kv.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to get subscription: %w", kv.ErrDBOperationFailed, err)
	}
	var sub model.Subscription
	if err := doc.DataTo(&sub); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal subscription: %w", kv.ErrSerializationFailed, err)
	}
	return &sub, nil
}

func (s *Store) listSubscriptions(q firestore.Query) ([]*model.Subscription, error) {
	ctx := context.Background()
	var subs []*model.Subscription
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to iterate over subscriptions: %w", kv.ErrDBOperationFailed, err)
		}
		var sub model.Subscription
		if err := doc.DataTo(&sub); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal subscription: %w", kv.ErrSerializationFailed, err)
		}
		subs = append(subs, &sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].EnrolledAt.Before(subs[j].EnrolledAt) })
	return subs, nil
}

// ListSubscriptions retrieves all subscriptions from the store.
func (s *Store) ListSubscriptions() ([]*model.Subscription, error) {
	return s.listSubscriptions(s.client.Collection(subscriptionsCollection).Query)
}

// ListSubscriptionsByCampaign retrieves the subscriptions enrolled in a campaign.
func (s *Store) ListSubscriptionsByCampaign(campaignID string) ([]*model.Subscription, error) {
	return s.listSubscriptions(s.client.Collection(subscriptionsCollection).Where("CampaignID", "==", campaignID))
}

// UpdateSubscription applies fn to the stored subscription inside a Firestore transaction.
func (s *Store) UpdateSubscription(id string, fn func(*model.Subscription) error) (*model.Subscription, error) {
	ctx := context.Background()
	ref := s.client.Collection(subscriptionsCollection).Doc(id)
	var sub model.Subscription
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				return fmt.Errorf("%w: subscription with id '%s'", kv.ErrNotFound, id)
			}
			return fmt.Errorf("%w: failed to get subscription: %w", kv.ErrDBOperationFailed, err)
		}
		sub = model.Subscription{}
		if err := doc.DataTo(&sub); err != nil {
			return fmt.Errorf("%w: failed to unmarshal subscription: %w", kv.ErrSerializationFailed, err)
		}
		if err := fn(&sub); err != nil {
			return err
		}
		return tx.Set(ref, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// RebuildIndex is a no-op: the campaign index is a query on CampaignID.
func (s *Store) RebuildIndex() error {
	return nil
}

type schemaVersion struct {
	Version int
}

// GetSchemaVersion retrieves the current schema version from the store.
func (s *Store) GetSchemaVersion() (int, error) {
	ctx := context.Background()
	doc, err := s.client.Collection(metaCollection).Doc("schema_version").Get(ctx)
	if err != nil {
		if notFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: failed to get schema version: %w", kv.ErrDBOperationFailed, err)
	}
	var v schemaVersion
	if err := doc.DataTo(&v); err != nil {
		return 0, fmt.Errorf("%w: failed to unmarshal schema version: %w", kv.ErrSerializationFailed, err)
	}
	return v.Version, nil
}

// SetSchemaVersion sets the current schema version in the store.
func (s *Store) SetSchemaVersion(version int) error {
	ctx := context.Background()
	_, err := s.client.Collection(metaCollection).Doc("schema_version").Set(ctx, schemaVersion{Version: version})
	if err != nil {
		return fmt.Errorf("%w: failed to set schema version: %w", kv.ErrDBOperationFailed, err)
	}
	return nil
}
