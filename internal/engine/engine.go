// Package engine runs sweeps: it finds the subscriptions that are due and
// drives the executor over each of them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andrewhowdencom/drip/internal/executor"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/scheduler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/andrewhowdencom/drip/internal/engine"

// Finder lists the subscriptions that are due at a point in time.
type Finder interface {
	FindDue(now time.Time) ([]scheduler.Due, error)
}

// StepExecutor runs the current step of one subscription.
type StepExecutor interface {
	Execute(ctx context.Context, sub *model.Subscription, c *model.Campaign, now time.Time) executor.Result
}

// Failure describes one execution that did not deliver its step.
type Failure struct {
	SubscriptionID string `json:"subscription_id"`
	CampaignID     string `json:"campaign_id"`
	ContactID      string `json:"contact_id"`
	Step           int    `json:"step"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error"`
}

// SweepReport aggregates the outcomes of one sweep. Sent includes the
// executions that completed their subscription; Errored includes those that
// dead-lettered it.
type SweepReport struct {
	Attempted int       `json:"attempted"`
	Sent      int       `json:"sent"`
	Errored   int       `json:"errored"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (r *SweepReport) add(res executor.Result) {
	r.Attempted++
	switch res.Outcome {
	case executor.OutcomeSent:
		r.Sent++
	case executor.OutcomeCompleted:
		r.Sent++
		r.Completed++
	case executor.OutcomeErrored:
		r.Errored++
	case executor.OutcomeFailed:
		r.Errored++
		r.Failed++
	case executor.OutcomeSkipped:
		r.Skipped++
	}

	if res.Err != nil && res.Outcome != executor.OutcomeSkipped {
		r.Failures = append(r.Failures, Failure{
			SubscriptionID: res.SubscriptionID,
			CampaignID:     res.CampaignID,
			ContactID:      res.ContactID,
			Step:           res.Step,
			Outcome:        string(res.Outcome),
			Error:          res.Err.Error(),
		})
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency sets how many subscriptions are executed in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMeterProvider sets the provider of the sweep instruments.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.meterProvider = mp
	}
}

// WithTracerProvider sets the provider of the sweep spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracerProvider = tp
	}
}

// Engine orchestrates sweeps.
type Engine struct {
	finder      Finder
	executor    StepExecutor
	concurrency int

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	executions     metric.Int64Counter
	sweeps         metric.Int64Counter
	duration       metric.Float64Histogram
}

// New creates a new Engine.
func New(finder Finder, exec StepExecutor, opts ...Option) (*Engine, error) {
	e := &Engine{
		finder:         finder,
		executor:       exec,
		concurrency:    1,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.tracer = e.tracerProvider.Tracer(instrumentationName)
	meter := e.meterProvider.Meter(instrumentationName)

	var err error
	e.executions, err = meter.Int64Counter("drip.engine.executions",
		metric.WithDescription("Step executions attempted by sweeps, by outcome."),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}
	e.sweeps, err = meter.Int64Counter("drip.engine.sweeps",
		metric.WithDescription("Sweeps run."),
		metric.WithUnit("{sweep}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeps counter: %w", err)
	}
	e.duration, err = meter.Float64Histogram("drip.engine.sweep.duration",
		metric.WithDescription("Wall time of a sweep."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep duration histogram: %w", err)
	}

	return e, nil
}

// RunSweep executes every subscription due at now. A failing subscription
// never stops the sweep; the only error returned is a failure to find work.
func (e *Engine) RunSweep(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.RunSweep", trace.WithAttributes(
		attribute.String("sweep.now", now.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	var report SweepReport
	due, err := e.finder.FindDue(now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", true)))
		return report, fmt.Errorf("failed to find due subscriptions: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, d := range due {
		g.Go(func() error {
			res := e.execute(gctx, d, now)
			e.executions.Add(gctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))

			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sweep.attempted", report.Attempted),
		attribute.Int("sweep.sent", report.Sent),
		attribute.Int("sweep.errored", report.Errored),
	)
	e.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", false)))
	e.duration.Record(ctx, time.Since(start).Seconds())

	slog.Info("sweep finished",
		"attempted", report.Attempted,
		"sent", report.Sent,
		"errored", report.Errored,
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

// execute runs one subscription, turning a panic into an errored result.
func (e *Engine) execute(ctx context.Context, d scheduler.Due, now time.Time) (res executor.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("step execution panicked", "subscription_id", d.Subscription.ID, "panic", r)
			res = executor.Result{
				SubscriptionID: d.Subscription.ID,
				CampaignID:     d.Campaign.ID,
				ContactID:      d.Subscription.ContactID,
				Step:           d.Subscription.CurrentStep + 1,
				Outcome:        executor.OutcomeErrored,
				Err:            fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return e.executor.Execute(ctx, d.Subscription, d.Campaign, now)
}
