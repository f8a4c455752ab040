package bbolt

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/adrg/xdg"
	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
	"go.etcd.io/bbolt"
)

var (
	campaignsBucket     = []byte("campaigns")
	subscriptionsBucket = []byte("subscriptions")
	indexBucket         = []byte("campaign_subscriptions")
	metaBucket          = []byte("meta")
)

// Store manages the persistence of campaigns and subscriptions in a bbolt file.
// Every update runs inside a single read-write transaction, which bbolt
// serialises, so read-modify-write callers never interleave.
type Store struct {
	db *bbolt.DB
}

// NewStore opens the store at dbPath, or at the XDG data path if dbPath is empty.
func NewStore(dbPath string) (kv.Storer, error) {
	p, err := resolvePath(dbPath)
	if err != nil {
		return nil, err
	}
	return newStore(p, false)
}

// NewReadOnlyStore opens the store without taking the write lock.
func NewReadOnlyStore(dbPath string) (kv.Storer, error) {
	p, err := resolvePath(dbPath)
	if err != nil {
		return nil, err
	}
	return newStore(p, true)
}

func resolvePath(dbPath string) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	p, err := xdg.DataFile("drip/drip.db")
	if err != nil {
		return "", fmt.Errorf("%w: failed to get db path: %w", kv.ErrDBOperationFailed, err)
	}
	return p, nil
}

func newStore(dbPath string, readOnly bool) (*Store, error) {
	options := &bbolt.Options{
		ReadOnly: readOnly,
	}
	db, err := bbolt.Open(dbPath, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open db: %w", kv.ErrDBOperationFailed, err)
	}

	if !readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			for _, name := range [][]byte{campaignsBucket, subscriptionsBucket, indexBucket, metaBucket} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("%w: failed to create bucket '%s': %w", kv.ErrDBOperationFailed, name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(b *bbolt.Bucket, key string, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal '%s': %w", kv.ErrSerializationFailed, key, err)
	}
	if err := b.Put([]byte(key), buf); err != nil {
		return fmt.Errorf("%w: failed to put '%s': %w", kv.ErrDBOperationFailed, key, err)
	}
	return nil
}

func getCampaign(tx *bbolt.Tx, id string) (*model.Campaign, error) {
	v := tx.Bucket(campaignsBucket).Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, id)
	}
	var c model.Campaign
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal campaign: %w", kv.ErrSerializationFailed, err)
	}
	return &c, nil
}

func getSubscription(tx *bbolt.Tx, id string) (*model.Subscription, error) {
	v := tx.Bucket(subscriptionsBucket).Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("%w: subscription with id '%s'", kv.ErrNotFound, id)
	}
	var sub model.Subscription
	if err := json.Unmarshal(v, &sub); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal subscription: %w", kv.ErrSerializationFailed, err)
	}
	return &sub, nil
}

// CreateCampaign adds a new campaign to the store.
func (s *Store) CreateCampaign(c *model.Campaign) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(campaignsBucket)
		if b.Get([]byte(c.ID)) != nil {
			return fmt.Errorf("%w: campaign with id '%s'", kv.ErrAlreadyExists, c.ID)
		}
		return put(b, c.ID, c)
	})
}

// GetCampaign retrieves a single campaign from the store.
func (s *Store) GetCampaign(id string) (*model.Campaign, error) {
	var c *model.Campaign
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		c, err = getCampaign(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns retrieves all campaigns from the store, oldest first.
func (s *Store) ListCampaigns() ([]*model.Campaign, error) {
	var campaigns []*model.Campaign
	err := s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(campaignsBucket).ForEach(func(k, v []byte) error {
			var c model.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("%w: failed to unmarshal campaign: %w", kv.ErrSerializationFailed, err)
			}
			campaigns = append(campaigns, &c)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: failed to iterate over campaigns: %w", kv.ErrDBOperationFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(campaigns, func(i, j int) bool { return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt) })
	return campaigns, nil
}

// UpdateCampaign applies fn to the stored campaign inside a single transaction.
func (s *Store) UpdateCampaign(id string, fn func(*model.Campaign) error) (*model.Campaign, error) {
	var c *model.Campaign
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		c, err = getCampaign(tx, id)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		return put(tx.Bucket(campaignsBucket), id, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateSubscription adds a new subscription and registers it under its campaign.
func (s *Store) CreateSubscription(sub *model.Subscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(campaignsBucket).Get([]byte(sub.CampaignID)) == nil {
			return fmt.Errorf("%w: campaign with id '%s'", kv.ErrNotFound, sub.CampaignID)
		}
		b := tx.Bucket(subscriptionsBucket)
		if b.Get([]byte(sub.ID)) != nil {
			return fmt.Errorf("%w: subscription with id '%s'", kv.ErrAlreadyExists, sub.ID)
		}
		if err := put(b, sub.ID, sub); err != nil {
			return err
		}
		return index(tx, sub)
	})
}

func index(tx *bbolt.Tx, sub *model.Subscription) error {
	ib, err := tx.Bucket(indexBucket).CreateBucketIfNotExists([]byte(sub.CampaignID))
	if err != nil {
		return fmt.Errorf("%w: failed to create index bucket '%s': %w", kv.ErrDBOperationFailed, sub.CampaignID, err)
	}
	if err := ib.Put([]byte(sub.ID), []byte{}); err != nil {
		return fmt.Errorf("%w: failed to index subscription: %w", kv.ErrDBOperationFailed, err)
	}
	return nil
}

// GetSubscription retrieves a single subscription from the store.
func (s *Store) GetSubscription(id string) (*model.Subscription, error) {
	var sub *model.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		sub, err = getSubscription(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions retrieves all subscriptions, oldest enrollment first.
func (s *Store) ListSubscriptions() ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(subscriptionsBucket).ForEach(func(k, v []byte) error {
			var sub model.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("%w: failed to unmarshal subscription: %w", kv.ErrSerializationFailed, err)
			}
			subs = append(subs, &sub)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: failed to iterate over subscriptions: %w", kv.ErrDBOperationFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByEnrollment(subs)
	return subs, nil
}

// ListSubscriptionsByCampaign retrieves the subscriptions indexed under a campaign.
func (s *Store) ListSubscriptionsByCampaign(campaignID string) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		ib := tx.Bucket(indexBucket).Bucket([]byte(campaignID))
		if ib == nil {
			return nil
		}
		return ib.ForEach(func(k, _ []byte) error {
			sub, err := getSubscription(tx, string(k))
			if err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByEnrollment(subs)
	return subs, nil
}

// UpdateSubscription applies fn to the stored subscription inside a single transaction.
func (s *Store) UpdateSubscription(id string, fn func(*model.Subscription) error) (*model.Subscription, error) {
	var sub *model.Subscription
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		sub, err = getSubscription(tx, id)
		if err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
		return put(tx.Bucket(subscriptionsBucket), id, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RebuildIndex drops and recreates the campaign index from the subscription records.
func (s *Store) RebuildIndex() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(indexBucket); err != nil {
			return fmt.Errorf("%w: failed to delete bucket '%s': %w", kv.ErrDBOperationFailed, indexBucket, err)
		}
		if _, err := tx.CreateBucket(indexBucket); err != nil {
			return fmt.Errorf("%w: failed to create bucket '%s': %w", kv.ErrDBOperationFailed, indexBucket, err)
		}
		return tx.Bucket(subscriptionsBucket).ForEach(func(k, v []byte) error {
			var sub model.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("%w: failed to unmarshal subscription: %w", kv.ErrSerializationFailed, err)
			}
			return index(tx, &sub)
		})
	})
}

// GetSchemaVersion retrieves the current schema version from the store.
func (s *Store) GetSchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get([]byte("schema_version"))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &version); err != nil {
			return fmt.Errorf("%w: failed to unmarshal schema version: %w", kv.ErrSerializationFailed, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// SetSchemaVersion sets the current schema version in the store.
func (s *Store) SetSchemaVersion(version int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(metaBucket), "schema_version", version)
	})
}

func sortByEnrollment(subs []*model.Subscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].EnrolledAt.Before(subs[j].EnrolledAt) })
}
