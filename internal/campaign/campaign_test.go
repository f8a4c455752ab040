package campaign_test

import (
	"sync"
	"testing"
	"time"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/kv/memory"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T) (*campaign.Manager, *clock) {
	t.Helper()
	clk := &clock{now: t0}
	return campaign.New(memory.NewStore(), campaign.WithClock(clk.Now)), clk
}

func TestCreateCampaign(t *testing.T) {
	m, _ := newManager(t)

	c, err := m.CreateCampaign("Welcome", "owner-1", model.Settings{})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Empty(t, c.Steps)
	assert.Equal(t, model.DefaultTriggerEvent, c.Settings.TriggerEvent)
	assert.Equal(t, t0, c.CreatedAt)
	assert.NotEmpty(t, c.ID)

	_, err = m.CreateCampaign("  ", "owner-1", model.Settings{})
	assert.ErrorIs(t, err, campaign.ErrValidation)

	_, err = m.CreateCampaign("Bad", "owner-1", model.Settings{SendDelayMinutes: -1})
	assert.ErrorIs(t, err, campaign.ErrValidation)
}

func TestAddStep(t *testing.T) {
	m, _ := newManager(t)
	c, err := m.CreateCampaign("Welcome", "owner-1", model.Settings{})
	require.NoError(t, err)

	c, err = m.AddStep(c.ID, campaign.StepInput{Message: "A"})
	require.NoError(t, err)
	c, err = m.AddStep(c.ID, campaign.StepInput{TemplateID: "followup", DelayMinutes: 60})
	require.NoError(t, err)

	require.Len(t, c.Steps, 2)
	assert.Equal(t, 1, c.Steps[0].Position)
	assert.Equal(t, 0, c.Steps[0].DelayMinutes)
	assert.Equal(t, 2, c.Steps[1].Position)
	assert.Equal(t, 60, c.Steps[1].DelayMinutes)
	assert.NotEqual(t, c.Steps[0].ID, c.Steps[1].ID)

	_, err = m.AddStep(c.ID, campaign.StepInput{Message: "C", DelayMinutes: -5})
	assert.ErrorIs(t, err, campaign.ErrValidation)

	// Content is checked when the step is sent, not when it is added.
	c, err = m.AddStep(c.ID, campaign.StepInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Steps[2].Position)

	_, err = m.AddStep("missing", campaign.StepInput{Message: "A"})
	assert.ErrorIs(t, err, campaign.ErrNotFound)

	got, err := m.GetCampaign(c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 3)
}

func TestSetStatus(t *testing.T) {
	m, _ := newManager(t)
	c, err := m.CreateCampaign("Welcome", "owner-1", model.Settings{})
	require.NoError(t, err)

	for _, status := range []model.CampaignStatus{model.CampaignActive, model.CampaignPaused, model.CampaignCompleted, model.CampaignDraft} {
		c, err = m.SetStatus(c.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, c.Status)
	}

	_, err = m.SetStatus(c.ID, "archived")
	assert.ErrorIs(t, err, campaign.ErrValidation)

	_, err = m.SetStatus("missing", model.CampaignActive)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestEnroll(t *testing.T) {
	m, _ := newManager(t)
	c, err := m.CreateCampaign("Welcome", "owner-1", model.Settings{})
	require.NoError(t, err)
	_, err = m.AddStep(c.ID, campaign.StepInput{Message: "A", DelayMinutes: 15})
	require.NoError(t, err)

	sub, err := m.Enroll(c.ID, "C1", map[string]interface{}{"plan": "pro"})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Equal(t, 0, sub.CurrentStep)
	require.NotNil(t, sub.NextStepAt)
	assert.Equal(t, t0.Add(15*time.Minute), *sub.NextStepAt)
	assert.Equal(t, t0, sub.EnrolledAt)
	assert.Equal(t, t0, sub.LastActivityAt)
	assert.Equal(t, "pro", sub.TriggerData["plan"])

	again, err := m.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, sub.ID, again.ID, "re-enrollment creates a new subscription")

	subs, err := m.ListSubscriptions(c.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = m.Enroll("missing", "C1", nil)
	assert.ErrorIs(t, err, campaign.ErrNotFound)

	_, err = m.Enroll(c.ID, "", nil)
	assert.ErrorIs(t, err, campaign.ErrValidation)
}

func TestEnroll_ZeroStepCampaign(t *testing.T) {
	m, _ := newManager(t)
	c, err := m.CreateCampaign("Empty", "owner-1", model.Settings{})
	require.NoError(t, err)

	sub, err := m.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCompleted, sub.Status)
	assert.Nil(t, sub.NextStepAt)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	m, clk := newManager(t)
	c, err := m.CreateCampaign("Welcome", "owner-1", model.Settings{})
	require.NoError(t, err)
	_, err = m.AddStep(c.ID, campaign.StepInput{Message: "A"})
	require.NoError(t, err)
	sub, err := m.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	first, err := m.Unsubscribe(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionUnsubscribed, first.Status)
	assert.Equal(t, sub.NextStepAt, first.NextStepAt)
	assert.Equal(t, t0.Add(time.Minute), first.LastActivityAt)

	clk.Advance(time.Minute)
	second, err := m.Unsubscribe(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = m.Unsubscribe("missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestUnsubscribe_CompletedIsNoop(t *testing.T) {
	m, _ := newManager(t)
	c, err := m.CreateCampaign("Empty", "owner-1", model.Settings{})
	require.NoError(t, err)
	sub, err := m.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)

	got, err := m.Unsubscribe(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCompleted, got.Status)
}

func TestQueries(t *testing.T) {
	m, _ := newManager(t)
	c, err := m.CreateCampaign("Welcome", "owner-1", model.Settings{})
	require.NoError(t, err)
	_, err = m.CreateCampaign("Other", "owner-2", model.Settings{})
	require.NoError(t, err)
	for _, msg := range []string{"A", "B", "C"} {
		_, err = m.AddStep(c.ID, campaign.StepInput{Message: msg})
		require.NoError(t, err)
	}

	mine, err := m.ListCampaignsForOwner("owner-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, c.ID, mine[0].ID)

	none, err := m.ListCampaignsForOwner("nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	active, err := m.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)
	gone, err := m.Enroll(c.ID, "C2", nil)
	require.NoError(t, err)
	_, err = m.Unsubscribe(gone.ID)
	require.NoError(t, err)

	progress, err := m.GetProgress(active.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.CurrentStep)
	assert.Equal(t, 3, progress.TotalSteps)
	assert.Equal(t, 0, progress.PercentComplete)
	assert.Equal(t, active.ID, progress.Subscription.ID)
	assert.Equal(t, c.ID, progress.Campaign.ID)

	stats, err := m.GetCampaignStats(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSubscribers)
	assert.Equal(t, 1, stats.ActiveSubscribers)
	assert.Equal(t, 0, stats.CompletedSubscribers)
	assert.Equal(t, 1, stats.UnsubscribedSubscribers)
	assert.Equal(t, 3, stats.StepCount)
	assert.Equal(t, t0, stats.CreatedAt)

	_, err = m.GetProgress("missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	_, err = m.GetCampaignStats("missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	_, err = m.GetSubscription("missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	_, err = m.ListSubscriptions("missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestPercentComplete(t *testing.T) {
	tests := []struct {
		current, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 2, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, campaign.PercentComplete(tt.current, tt.total), "%d/%d", tt.current, tt.total)
	}
}

func TestAuthorize(t *testing.T) {
	c := &model.Campaign{ID: "c1", OwnerID: "owner-1"}
	assert.NoError(t, campaign.Authorize(c, "owner-1"))
	assert.ErrorIs(t, campaign.Authorize(c, "owner-2"), campaign.ErrForbidden)
}

func TestImport(t *testing.T) {
	m, _ := newManager(t)

	c, err := m.Import("Onboarding", "owner-1", model.Settings{TriggerEvent: "signup"}, []campaign.StepInput{
		{Message: "A"},
		{TemplateID: "tips", DelayMinutes: 1440},
	}, model.CampaignActive)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, c.Status)
	assert.Len(t, c.Steps, 2)
	assert.Equal(t, "signup", c.Settings.TriggerEvent)

	_, err = m.Import("Broken", "owner-1", model.Settings{}, []campaign.StepInput{{Message: "A"}, {Message: "B", DelayMinutes: -1}}, "")
	assert.ErrorIs(t, err, campaign.ErrValidation)

	all, err := m.ListCampaigns()
	require.NoError(t, err)
	assert.Len(t, all, 1, "a rejected import writes nothing")
}
