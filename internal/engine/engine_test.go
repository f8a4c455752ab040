package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/engine"
	"github.com/andrewhowdencom/drip/internal/executor"
	"github.com/andrewhowdencom/drip/internal/gateway"
	"github.com/andrewhowdencom/drip/internal/kv/memory"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/processor"
	"github.com/andrewhowdencom/drip/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// countingGateway records every send per contact and can fail a number of calls.
type countingGateway struct {
	mu     sync.Mutex
	bodies map[string][]string
	fail   int
}

func (g *countingGateway) Send(_ context.Context, contactID string, msg *model.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail > 0 {
		g.fail--
		return fmt.Errorf("%w: provider unavailable", gateway.ErrDelivery)
	}
	if g.bodies == nil {
		g.bodies = make(map[string][]string)
	}
	g.bodies[contactID] = append(g.bodies[contactID], msg.Body)
	return nil
}

func (g *countingGateway) Bodies(contactID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.bodies[contactID]...)
}

type harness struct {
	store   *memory.Store
	manager *campaign.Manager
	engine  *engine.Engine
	now     time.Time
}

func newHarness(t *testing.T, gw gateway.Gateway, opts ...engine.Option) *harness {
	t.Helper()
	h := &harness{store: memory.NewStore(), now: t0}
	h.manager = campaign.New(h.store, campaign.WithClock(func() time.Time { return h.now }))
	exec := executor.New(h.store, processor.NewResolver(nil), gw)
	e, err := engine.New(scheduler.New(h.store), exec, opts...)
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) linearCampaign(t *testing.T) *model.Campaign {
	t.Helper()
	c, err := h.manager.CreateCampaign("Linear", "owner-1", model.Settings{})
	require.NoError(t, err)
	_, err = h.manager.AddStep(c.ID, campaign.StepInput{Message: "A", DelayMinutes: 0})
	require.NoError(t, err)
	_, err = h.manager.AddStep(c.ID, campaign.StepInput{Message: "B", DelayMinutes: 60})
	require.NoError(t, err)
	c, err = h.manager.SetStatus(c.ID, model.CampaignActive)
	require.NoError(t, err)
	return c
}

func (h *harness) sweep(t *testing.T, at time.Time) engine.SweepReport {
	t.Helper()
	report, err := h.engine.RunSweep(context.Background(), at)
	require.NoError(t, err)
	return report
}

func (h *harness) subscription(t *testing.T, id string) *model.Subscription {
	t.Helper()
	sub, err := h.manager.GetSubscription(id)
	require.NoError(t, err)
	return sub
}

func TestRunSweep_LinearProgression(t *testing.T) {
	gw := &countingGateway{}
	h := newHarness(t, gw)
	c := h.linearCampaign(t)

	sub, err := h.manager.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)
	require.NotNil(t, sub.NextStepAt)
	assert.Equal(t, t0, *sub.NextStepAt)

	report := h.sweep(t, t0)
	assert.Equal(t, engine.SweepReport{Attempted: 1, Sent: 1}, report)
	got := h.subscription(t, sub.ID)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, t0.Add(60*time.Minute), *got.NextStepAt)
	assert.Equal(t, []string{"A"}, gw.Bodies("C1"))

	report = h.sweep(t, t0.Add(59*time.Minute))
	assert.Equal(t, engine.SweepReport{}, report)
	assert.Equal(t, 1, h.subscription(t, sub.ID).CurrentStep)

	report = h.sweep(t, t0.Add(60*time.Minute))
	assert.Equal(t, engine.SweepReport{Attempted: 1, Sent: 1, Completed: 1}, report)
	got = h.subscription(t, sub.ID)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, model.SubscriptionCompleted, got.Status)
	assert.Nil(t, got.NextStepAt)
	assert.Equal(t, []string{"A", "B"}, gw.Bodies("C1"))

	progress, err := h.manager.GetProgress(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.PercentComplete)
}

func TestRunSweep_GatewayFailureRetry(t *testing.T) {
	gw := &countingGateway{fail: 1}
	h := newHarness(t, gw)
	c := h.linearCampaign(t)
	sub, err := h.manager.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)

	report := h.sweep(t, t0)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 0, report.Sent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, sub.ID, report.Failures[0].SubscriptionID)
	assert.Equal(t, 1, report.Failures[0].Step)
	assert.Equal(t, 0, h.subscription(t, sub.ID).CurrentStep)

	report = h.sweep(t, t0.Add(5*time.Minute))
	assert.Equal(t, engine.SweepReport{Attempted: 1, Sent: 1}, report)
	got := h.subscription(t, sub.ID)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, t0.Add(65*time.Minute), *got.NextStepAt)
}

func TestRunSweep_UnsubscribeMidFlow(t *testing.T) {
	gw := &countingGateway{}
	h := newHarness(t, gw)
	c := h.linearCampaign(t)
	sub, err := h.manager.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)

	h.sweep(t, t0)
	h.now = t0.Add(10 * time.Minute)
	unsubscribed, err := h.manager.Unsubscribe(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionUnsubscribed, unsubscribed.Status)
	assert.Equal(t, t0.Add(60*time.Minute), *unsubscribed.NextStepAt)

	for _, at := range []time.Duration{60 * time.Minute, 2 * time.Hour, 24 * time.Hour} {
		report := h.sweep(t, t0.Add(at))
		assert.Equal(t, 0, report.Attempted)
	}
	assert.Equal(t, []string{"A"}, gw.Bodies("C1"))
	assert.Equal(t, unsubscribed, h.subscription(t, sub.ID))
}

func TestRunSweep_PausedCampaign(t *testing.T) {
	gw := &countingGateway{}
	h := newHarness(t, gw)
	c := h.linearCampaign(t)
	sub, err := h.manager.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)

	_, err = h.manager.SetStatus(c.ID, model.CampaignPaused)
	require.NoError(t, err)
	assert.Equal(t, 0, h.sweep(t, t0).Attempted)

	_, err = h.manager.SetStatus(c.ID, model.CampaignActive)
	require.NoError(t, err)
	assert.Equal(t, 1, h.sweep(t, t0.Add(time.Hour)).Sent)
	assert.Equal(t, 1, h.subscription(t, sub.ID).CurrentStep)
}

// blockingGateway holds the first send until released.
type blockingGateway struct {
	mu       sync.Mutex
	calls    int
	inFlight chan struct{}
	release  chan struct{}
}

func (g *blockingGateway) Send(_ context.Context, _ string, _ *model.Message) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.inFlight)
		<-g.release
	}
	return nil
}

func (g *blockingGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestRunSweep_ConcurrentSweepsDoNotDuplicate(t *testing.T) {
	gw := &blockingGateway{inFlight: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, gw)
	c := h.linearCampaign(t)
	sub, err := h.manager.Enroll(c.ID, "C1", nil)
	require.NoError(t, err)

	firstDone := make(chan engine.SweepReport, 1)
	go func() {
		report, err := h.engine.RunSweep(context.Background(), t0)
		assert.NoError(t, err)
		firstDone <- report
	}()
	<-gw.inFlight

	second := h.sweep(t, t0)
	assert.Equal(t, engine.SweepReport{Attempted: 1, Skipped: 1}, second)

	close(gw.release)
	first := <-firstDone
	assert.Equal(t, engine.SweepReport{Attempted: 1, Sent: 1}, first)

	third := h.sweep(t, t0)
	assert.Equal(t, engine.SweepReport{}, third)

	assert.Equal(t, 1, gw.Calls())
	assert.Equal(t, 1, h.subscription(t, sub.ID).CurrentStep)
}

func TestRunSweep_ParallelSweepsSendEachStepOnce(t *testing.T) {
	gw := &countingGateway{}
	h := newHarness(t, gw, engine.WithConcurrency(4))
	c := h.linearCampaign(t)

	var contacts []string
	for i := 0; i < 25; i++ {
		contact := fmt.Sprintf("C%d", i)
		contacts = append(contacts, contact)
		_, err := h.manager.Enroll(c.ID, contact, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	reports := make([]engine.SweepReport, 4)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := h.engine.RunSweep(context.Background(), t0)
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	sent := 0
	for _, r := range reports {
		sent += r.Sent
		assert.Equal(t, 0, r.Errored)
	}
	assert.Equal(t, len(contacts), sent)
	for _, contact := range contacts {
		assert.Equal(t, []string{"A"}, gw.Bodies(contact), contact)
	}
}

func TestRunSweep_IsolatesFailures(t *testing.T) {
	gw := gateway.Func(func(_ context.Context, contactID string, _ *model.Message) error {
		if contactID == "bad" {
			return gateway.ErrDelivery
		}
		if contactID == "panics" {
			panic("transport exploded")
		}
		return nil
	})
	h := newHarness(t, gw)
	c := h.linearCampaign(t)
	for _, contact := range []string{"bad", "panics", "good"} {
		_, err := h.manager.Enroll(c.ID, contact, nil)
		require.NoError(t, err)
	}

	report := h.sweep(t, t0)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Errored)
	assert.Len(t, report.Failures, 2)
}

type brokenFinder struct{}

func (brokenFinder) FindDue(time.Time) ([]scheduler.Due, error) {
	return nil, errors.New("disk on fire")
}

func TestRunSweep_FinderError(t *testing.T) {
	e, err := engine.New(brokenFinder{}, nil)
	require.NoError(t, err)

	_, err = e.RunSweep(context.Background(), t0)
	assert.ErrorContains(t, err, "disk on fire")
}

func TestRunSweep_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	gw := &countingGateway{fail: 1}
	h := newHarness(t, gw, engine.WithMeterProvider(mp))
	c := h.linearCampaign(t)
	for _, contact := range []string{"C1", "C2"} {
		_, err := h.manager.Enroll(c.ID, contact, nil)
		require.NoError(t, err)
	}
	h.sweep(t, t0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]int64{}
	var sweeps int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case "drip.engine.executions":
					outcome, _ := dp.Attributes.Value("outcome")
					outcomes[outcome.AsString()] += dp.Value
				case "drip.engine.sweeps":
					sweeps += dp.Value
				}
			}
		}
	}
	assert.Equal(t, map[string]int64{"sent": 1, "errored": 1}, outcomes)
	assert.Equal(t, int64(1), sweeps)
}
