package bbolt_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/kv/bbolt"
	"github.com/andrewhowdencom/drip/internal/kv/kvtest"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) kv.Storer {
	t.Helper()
	store, err := bbolt.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore(t *testing.T) {
	kvtest.Run(t, newTestStore)
}

func TestStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persistence_test.db")

	store, err := bbolt.NewStore(dbPath)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	next := now.Add(time.Hour)
	c := &model.Campaign{ID: "c1", OwnerID: "owner-1", Name: "Welcome", Status: model.CampaignActive, CreatedAt: now}
	require.NoError(t, store.CreateCampaign(c))

	sub := &model.Subscription{
		ID:          kv.GenerateSubscriptionID("c1", "contact-1", now),
		CampaignID:  "c1",
		ContactID:   "contact-1",
		Status:      model.SubscriptionActive,
		CurrentStep: 1,
		NextStepAt:  &next,
		EnrolledAt:  now,
	}
	require.NoError(t, store.CreateSubscription(sub))
	require.NoError(t, store.SetSchemaVersion(1))
	require.NoError(t, store.Close())

	reopened, err := bbolt.NewStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
	require.NotNil(t, got.NextStepAt)
	assert.Equal(t, next, *got.NextStepAt, "The next step time should survive a reopen.")

	subs, err := reopened.ListSubscriptionsByCampaign("c1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	v, err := reopened.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestReadOnlyStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ro.db")
	store, err := bbolt.NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.CreateCampaign(&model.Campaign{ID: "c1", Name: "Welcome"}))
	require.NoError(t, store.Close())

	ro, err := bbolt.NewReadOnlyStore(dbPath)
	require.NoError(t, err)
	defer ro.Close()

	c, err := ro.GetCampaign("c1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", c.Name)

	assert.Error(t, ro.CreateCampaign(&model.Campaign{ID: "c2"}))
}

func TestGenerateSubscriptionID(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := kv.GenerateSubscriptionID("c1", "contact-1", at)
	assert.Equal(t, a, kv.GenerateSubscriptionID("c1", "contact-1", at.In(time.FixedZone("X", 3600))))
	assert.NotEqual(t, a, kv.GenerateSubscriptionID("c1", "contact-1", at.Add(time.Nanosecond)))
	assert.Len(t, a, len("sub_")+20)
}
