package kv

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/andrewhowdencom/drip/internal/model"
)

// Err* are common errors returned by the datastore.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrDBOperationFailed   = errors.New("db operation failed")
	ErrSerializationFailed = errors.New("serialization failed")
)

// CampaignStorer owns campaign and step definitions.
type CampaignStorer interface {
	CreateCampaign(c *model.Campaign) error
	GetCampaign(id string) (*model.Campaign, error)
	ListCampaigns() ([]*model.Campaign, error)
	// UpdateCampaign applies fn to the stored campaign atomically. If fn
	// returns an error nothing is written and the error is returned as is.
	UpdateCampaign(id string, fn func(*model.Campaign) error) (*model.Campaign, error)
}

// SubscriptionStorer owns subscription records, indexed by campaign.
type SubscriptionStorer interface {
	// CreateSubscription stores a new subscription and registers it under
	// its campaign. It fails with ErrNotFound if the campaign does not exist.
	CreateSubscription(s *model.Subscription) error
	GetSubscription(id string) (*model.Subscription, error)
	ListSubscriptions() ([]*model.Subscription, error)
	ListSubscriptionsByCampaign(campaignID string) ([]*model.Subscription, error)
	// UpdateSubscription applies fn to the stored subscription atomically. If
	// fn returns an error nothing is written and the error is returned as is.
	UpdateSubscription(id string, fn func(*model.Subscription) error) (*model.Subscription, error)
}

// Storer is the full datastore used by the engine.
type Storer interface {
	CampaignStorer
	SubscriptionStorer

	// RebuildIndex recreates the campaign to subscription index from the
	// subscription records.
	RebuildIndex() error
	GetSchemaVersion() (int, error)
	SetSchemaVersion(version int) error
	Close() error
}

// GenerateSubscriptionID derives a subscription ID from the enrollment coordinates.
func GenerateSubscriptionID(campaignID, contactID string, enrolledAt time.Time) string {
	key := strings.Join([]string{
		campaignID,
		contactID,
		enrolledAt.UTC().Format(time.RFC3339Nano),
	}, "@")
	hash := sha256.Sum256([]byte(key))
	return "sub_" + hex.EncodeToString(hash[:])[:20]
}
