package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/engine"
	"github.com/andrewhowdencom/drip/internal/gateway"
	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/kv/memory"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/processor"
	"github.com/andrewhowdencom/drip/internal/scheduler"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const campaignDoc = `
templates:
  - id: welcome
    subject: Welcome aboard
    content: "Hello {{ .TriggerData.name }}"
campaigns:
  - name: Onboarding
    status: active
    steps:
      - templateId: welcome
      - message: "Day two tips for {{ .ContactID }}"
        subject: Tips
        delay: 1440
`

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "onboarding.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return "file://" + path
}

func useMemoryStore(t *testing.T) kv.Storer {
	t.Helper()
	store := memory.NewStore()
	prevStore, prevReadOnly := datastoreNewStore, datastoreNewReadOnlyStore
	datastoreNewStore = func() (kv.Storer, error) { return store, nil }
	datastoreNewReadOnlyStore = datastoreNewStore
	t.Cleanup(func() {
		datastoreNewStore, datastoreNewReadOnlyStore = prevStore, prevReadOnly
	})
	return store
}

func TestCampaignsImportExport(t *testing.T) {
	m := campaign.New(memory.NewStore())
	var out bytes.Buffer

	err := doCampaignsImport(m, buildSourcer(), writeDoc(t, campaignDoc), "", &out)
	assert.ErrorContains(t, err, "no owner")

	out.Reset()
	require.NoError(t, doCampaignsImport(m, buildSourcer(), writeDoc(t, campaignDoc), "owner-1", &out))
	assert.Contains(t, out.String(), "Imported Onboarding")

	campaigns, err := m.ListCampaigns()
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	c := campaigns[0]
	assert.Equal(t, model.CampaignActive, c.Status)
	require.Len(t, c.Steps, 2)
	assert.Equal(t, "welcome", c.Steps[0].TemplateID)
	assert.Equal(t, 1440, c.Steps[1].DelayMinutes)

	out.Reset()
	require.NoError(t, doCampaignsExport(m, []string{c.ID}, &out))
	exported := out.String()
	assert.Contains(t, exported, "name: Onboarding")
	assert.Contains(t, exported, "templateId: welcome")
	assert.Contains(t, exported, "delay: 1440")

	// The export is itself a valid document.
	out.Reset()
	require.NoError(t, doCampaignsImport(m, buildSourcer(), writeDoc(t, exported), "", &out))
	campaigns, err = m.ListCampaigns()
	require.NoError(t, err)
	assert.Len(t, campaigns, 2)

	assert.ErrorIs(t, doCampaignsExport(m, []string{"drip_missing"}, &out), campaign.ErrNotFound)
}

func TestCampaignsListAndStats(t *testing.T) {
	m := campaign.New(memory.NewStore())
	var out bytes.Buffer

	require.NoError(t, doCampaignsList(m, "", &out))
	assert.Contains(t, out.String(), "No campaigns found.")

	c, err := m.CreateCampaign("Onboarding", "owner-1", model.Settings{})
	require.NoError(t, err)
	_, err = m.AddStep(c.ID, campaign.StepInput{Message: "Hi"})
	require.NoError(t, err)
	_, err = m.Enroll(c.ID, "email:ada@example.com", nil)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, doCampaignsList(m, "owner-1", &out))
	assert.Contains(t, out.String(), c.ID)
	assert.Contains(t, out.String(), model.DefaultTriggerEvent)

	out.Reset()
	require.NoError(t, doCampaignsList(m, "owner-2", &out))
	assert.Contains(t, out.String(), "No campaigns found.")

	out.Reset()
	require.NoError(t, doCampaignsStats(m, c.ID, &out))
	assert.Contains(t, out.String(), "1")

	out.Reset()
	require.NoError(t, doSubscriptionsList(m, c.ID, &out))
	assert.Contains(t, out.String(), "email:ada@example.com")
}

func TestDebugValidate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, doDebugValidate(buildSourcer(), writeDoc(t, campaignDoc), &out))
	assert.Equal(t, "OK: 1 templates, 1 campaigns\n", out.String())

	err := doDebugValidate(buildSourcer(), writeDoc(t, "campaigns:\n  - steps:\n      - templateId: missing\n"), &out)
	assert.ErrorContains(t, err, "unknown template 'missing'")

	err = doDebugValidate(buildSourcer(), writeDoc(t, "calls: []\n"), &out)
	assert.Error(t, err)
}

func TestDebugRender(t *testing.T) {
	m := campaign.New(memory.NewStore())
	c, err := m.CreateCampaign("Onboarding", "owner-1", model.Settings{})
	require.NoError(t, err)
	_, err = m.AddStep(c.ID, campaign.StepInput{TemplateID: "welcome"})
	require.NoError(t, err)

	r := processor.NewResolver(processor.NewCatalog(model.Template{ID: "welcome", Subject: "Welcome", Content: "Hello {{ .TriggerData.name }}"}))

	var out bytes.Buffer
	require.NoError(t, doDebugRender(m, r, c.ID, 1, "email:ada@example.com", map[string]interface{}{"name": "Ada"}, &out))
	assert.Equal(t, "Subject: Welcome\nContent: Hello Ada\n", out.String())

	assert.Error(t, doDebugRender(m, r, c.ID, 2, "x", nil, &out))
}

func TestDebugSchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 2, 0, 0, time.UTC)
	store := memory.NewStore()
	m := campaign.New(store, campaign.WithClock(func() time.Time { return now }))
	c, err := m.CreateCampaign("Onboarding", "owner-1", model.Settings{})
	require.NoError(t, err)
	_, err = m.AddStep(c.ID, campaign.StepInput{Message: "A", DelayMinutes: 60})
	require.NoError(t, err)
	_, err = m.SetStatus(c.ID, model.CampaignActive)
	require.NoError(t, err)
	sub, err := m.Enroll(c.ID, "slack:#general", nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, doDebugSchedule(scheduler.New(store), "*/5 * * * *", now, 2, 2*time.Hour, &out))
	assert.Contains(t, out.String(), "2025-01-01 09:05:00")
	assert.Contains(t, out.String(), "2025-01-01 09:10:00")
	assert.Contains(t, out.String(), sub.ID)

	out.Reset()
	require.NoError(t, doDebugSchedule(scheduler.New(store), "*/5 * * * *", now, 1, 30*time.Minute, &out))
	assert.Contains(t, out.String(), "No steps due")

	assert.Error(t, doDebugSchedule(scheduler.New(store), "bogus", now, 1, time.Hour, &out))
}

func TestMigrateDB(t *testing.T) {
	store := memory.NewStore()
	var out bytes.Buffer

	require.NoError(t, doMigrateDB(store, &out))
	assert.Contains(t, out.String(), "Applied migration 1")

	out.Reset()
	require.NoError(t, doMigrateDB(store, &out))
	assert.Contains(t, out.String(), "up to date")
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(engine.SweepReport{
		Attempted: 2, Sent: 1, Errored: 1,
		Failures: []engine.Failure{{SubscriptionID: "sub_1", CampaignID: "drip_1", ContactID: "c1", Step: 0, Outcome: "retry", Error: "boom"}},
	}, &out)
	assert.Contains(t, out.String(), "Attempted: 2, Sent: 1")
	assert.Contains(t, out.String(), "sub_1")
	assert.Contains(t, out.String(), "boom")
}

func TestBuildGateway(t *testing.T) {
	resetConfig(t)

	viper.Set("dispatcher.dry_run", true)
	assert.IsType(t, gateway.DryRun{}, buildGateway())

	viper.Set("dispatcher.dry_run", false)
	viper.Set("slack.app.token", "xoxb-test")
	assert.IsType(t, &gateway.Router{}, buildGateway())
}

func TestBuildTrigger(t *testing.T) {
	resetConfig(t)
	from := time.Date(2025, 3, 1, 12, 2, 0, 0, time.UTC)

	trigger, err := buildTrigger()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC), trigger.Next(from))

	viper.Set("engine.interval", "90s")
	trigger, err = buildTrigger()
	require.NoError(t, err)
	assert.Equal(t, from.Add(90*time.Second), trigger.Next(from))

	viper.Set("engine.interval", "0s")
	viper.Set("engine.schedule", "not a schedule")
	_, err = buildTrigger()
	assert.Error(t, err)
}

func TestCommands_EndToEnd(t *testing.T) {
	resetConfig(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
	store := useMemoryStore(t)

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.Execute(), strings.Join(args, " "))
		return strings.TrimSpace(out.String())
	}
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	id := run("campaigns", "create", "--name", "Welcome", "--owner", "owner-1")
	assert.True(t, strings.HasPrefix(id, "drip_"))

	run("campaigns", "add-step", id, "--message", "Hi {{ .TriggerData.name }}", "--subject", "Hello")
	run("campaigns", "status", id, "active")

	subID := run("subscriptions", "enroll", id, "email:ada@example.com", "--data", "name=Ada")
	assert.True(t, strings.HasPrefix(subID, "sub_"))

	viper.Set("dispatcher.dry_run", true)
	report := run("dispatcher", "run")
	assert.Contains(t, report, "Attempted: 1, Sent: 1, Completed: 1")

	sub, err := store.GetSubscription(subID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCompleted, sub.Status)

	progress := run("subscriptions", "progress", subID)
	assert.Contains(t, progress, "Welcome: 1 of 1 steps sent (100%), completed")
}
