// Package executor runs the current step of a single subscription.
//
// An execution claims the subscription under the store's atomic update,
// releases it while the gateway is called, and commits the outcome under a
// second atomic update that only succeeds while the claim is still held.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrewhowdencom/drip/internal/gateway"
	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/scheduler"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults applied by New.
const (
	DefaultSendTimeout = 30 * time.Second
	DefaultClaimTTL    = 10 * time.Minute
	DefaultMaxFailures = 10
)

// ErrClaimLost is returned when another execution holds or has advanced the subscription.
var ErrClaimLost = errors.New("claim lost")

// Outcome classifies the result of one execution.
type Outcome string

const (
	// OutcomeSent means the step was delivered and more steps remain.
	OutcomeSent Outcome = "sent"
	// OutcomeCompleted means the last step was delivered.
	OutcomeCompleted Outcome = "completed"
	// OutcomeErrored means the step failed and will be retried.
	OutcomeErrored Outcome = "errored"
	// OutcomeFailed means the step failed too many times and the subscription was dead-lettered.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the subscription was not executed by this call.
	OutcomeSkipped Outcome = "skipped"
)

// Result reports what an execution did.
type Result struct {
	SubscriptionID string
	CampaignID     string
	ContactID      string
	Step           int
	Outcome        Outcome
	Err            error
}

// Store is the storage an Executor claims and commits against. Campaigns are
// re-read at commit time so steps added during a send are seen.
type Store interface {
	kv.SubscriptionStorer
	GetCampaign(id string) (*model.Campaign, error)
}

// ContentResolver produces the message for a step.
type ContentResolver interface {
	ResolveStepContent(c *model.Campaign, step model.Step, contactID string, triggerData map[string]interface{}) (*model.Message, error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithSendTimeout bounds each gateway call.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.sendTimeout = d
	}
}

// WithClaimTTL sets how long a claim is honoured before another execution may take over.
func WithClaimTTL(d time.Duration) Option {
	return func(e *Executor) {
		e.claimTTL = d
	}
}

// WithMaxFailures sets the consecutive failures after which a subscription is
// dead-lettered. Zero retries forever.
func WithMaxFailures(n int) Option {
	return func(e *Executor) {
		e.maxFailures = n
	}
}

// Executor resolves, sends and commits the current step of a subscription.
type Executor struct {
	store    Store
	resolver ContentResolver
	gateway  gateway.Gateway
	tracer   trace.Tracer

	sendTimeout time.Duration
	claimTTL    time.Duration
	maxFailures int
}

// New creates a new Executor. A claim must outlive the send it guards, so a
// claim TTL shorter than twice the send timeout is raised to that.
func New(store Store, resolver ContentResolver, gw gateway.Gateway, opts ...Option) *Executor {
	e := &Executor{
		store:       store,
		resolver:    resolver,
		gateway:     gw,
		tracer:      otel.Tracer("github.com/andrewhowdencom/drip/internal/executor"),
		sendTimeout: DefaultSendTimeout,
		claimTTL:    DefaultClaimTTL,
		maxFailures: DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(e)
	}
	if floor := 2 * e.sendTimeout; e.claimTTL < floor {
		slog.Warn("claim ttl shorter than send timeout allows, raising it", "claim_ttl", e.claimTTL, "send_timeout", e.sendTimeout, "raised_to", floor)
		e.claimTTL = floor
	}
	return e
}

// Execute runs the current step of sub, which belongs to c, as of now.
// Failures are reported in the Result and never returned to the caller.
func (e *Executor) Execute(ctx context.Context, sub *model.Subscription, c *model.Campaign, now time.Time) Result {
	res := Result{
		SubscriptionID: sub.ID,
		CampaignID:     c.ID,
		ContactID:      sub.ContactID,
		Step:           sub.CurrentStep + 1,
	}

	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("subscription.id", sub.ID),
		attribute.String("campaign.id", c.ID),
		attribute.Int("step", res.Step),
	))
	defer span.End()

	finish := func(outcome Outcome, err error) Result {
		res.Outcome, res.Err = outcome, err
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if err != nil && outcome != OutcomeSkipped {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res
	}

	if sub.CurrentStep >= len(c.Steps) {
		return finish(OutcomeSkipped, fmt.Errorf("subscription '%s' has no step %d", sub.ID, res.Step))
	}

	token, err := e.claim(sub, now)
	if err != nil {
		if errors.Is(err, ErrClaimLost) {
			slog.Debug("skipping subscription claimed elsewhere", "subscription_id", sub.ID)
			return finish(OutcomeSkipped, err)
		}
		slog.Error("failed to claim subscription", "subscription_id", sub.ID, "error", err)
		return finish(OutcomeErrored, err)
	}

	step := c.Steps[sub.CurrentStep]
	sendErr := e.send(ctx, sub, c, step)
	if sendErr != nil && ctx.Err() != nil {
		// Shutting down: hand the step back without counting it as a failure.
		if err := e.release(sub, token); err != nil {
			slog.Error("failed to release claim", "subscription_id", sub.ID, "error", err)
		}
		slog.Info("released step on shutdown", "subscription_id", sub.ID, "step", res.Step)
		return finish(OutcomeSkipped, sendErr)
	}
	if sendErr != nil {
		outcome, err := e.commitFailure(sub, token, now, sendErr)
		if err != nil {
			return finish(outcome, err)
		}
		if outcome == OutcomeFailed {
			slog.Error("dead-lettered subscription", "subscription_id", sub.ID, "campaign_id", c.ID, "step", res.Step, "error", sendErr)
		} else {
			slog.Warn("step failed, will retry", "subscription_id", sub.ID, "campaign_id", c.ID, "step", res.Step, "error", sendErr)
		}
		return finish(outcome, sendErr)
	}

	outcome, err := e.commitSuccess(sub, c, token, now)
	if err != nil {
		slog.Error("sent step but could not record it", "subscription_id", sub.ID, "step", res.Step, "error", err)
		return finish(outcome, err)
	}
	slog.Info("sent step", "subscription_id", sub.ID, "campaign_id", c.ID, "step", res.Step, "outcome", outcome)
	return finish(outcome, nil)
}

// claim marks the subscription as in flight if it is still due at the step
// in the snapshot and no live claim is held.
func (e *Executor) claim(snapshot *model.Subscription, now time.Time) (string, error) {
	token := uuid.NewString()
	expires := now.Add(e.claimTTL)
	_, err := e.store.UpdateSubscription(snapshot.ID, func(s *model.Subscription) error {
		if !s.Due(now) || s.CurrentStep != snapshot.CurrentStep || s.Claimed(now) {
			return ErrClaimLost
		}
		s.ClaimToken = token
		s.ClaimExpiresAt = &expires
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (e *Executor) send(ctx context.Context, sub *model.Subscription, c *model.Campaign, step model.Step) error {
	msg, err := e.resolver.ResolveStepContent(c, step, sub.ContactID, sub.TriggerData)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: gateway panicked: %v", gateway.ErrDelivery, r)
			}
		}()
		done <- e.gateway.Send(ctx, sub.ContactID, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", gateway.ErrDelivery, ctx.Err())
	}
}

// release drops the claim held by token and leaves everything else as it was.
func (e *Executor) release(snapshot *model.Subscription, token string) error {
	_, err := e.store.UpdateSubscription(snapshot.ID, func(s *model.Subscription) error {
		if s.ClaimToken != token {
			return ErrClaimLost
		}
		s.ClaimToken = ""
		s.ClaimExpiresAt = nil
		return nil
	})
	return err
}

func (e *Executor) commitSuccess(snapshot *model.Subscription, c *model.Campaign, token string, now time.Time) (Outcome, error) {
	if latest, err := e.store.GetCampaign(c.ID); err == nil {
		c = latest
	} else {
		slog.Warn("could not reload campaign, scheduling from snapshot", "campaign_id", c.ID, "error", err)
	}

	outcome := OutcomeSent
	_, err := e.store.UpdateSubscription(snapshot.ID, func(s *model.Subscription) error {
		if s.ClaimToken != token {
			return ErrClaimLost
		}
		s.CurrentStep++
		s.FailureCount = 0
		s.LastError = ""
		s.ClaimToken = ""
		s.ClaimExpiresAt = nil
		s.LastActivityAt = now

		// An unsubscribe that landed while the step was in flight keeps its status.
		if s.Status != model.SubscriptionActive {
			return nil
		}
		s.NextStepAt = scheduler.NextDueTime(c, s.CurrentStep, now)
		if s.NextStepAt == nil {
			s.Status = model.SubscriptionCompleted
			outcome = OutcomeCompleted
		}
		return nil
	})
	if err != nil {
		return OutcomeSkipped, err
	}
	return outcome, nil
}

func (e *Executor) commitFailure(snapshot *model.Subscription, token string, now time.Time, cause error) (Outcome, error) {
	outcome := OutcomeErrored
	_, err := e.store.UpdateSubscription(snapshot.ID, func(s *model.Subscription) error {
		if s.ClaimToken != token {
			return ErrClaimLost
		}
		s.FailureCount++
		s.LastError = cause.Error()
		s.ClaimToken = ""
		s.ClaimExpiresAt = nil

		if e.maxFailures > 0 && s.FailureCount >= e.maxFailures && s.Status == model.SubscriptionActive {
			s.Status = model.SubscriptionFailed
			s.NextStepAt = nil
			s.LastActivityAt = now
			outcome = OutcomeFailed
		}
		return nil
	})
	if err != nil {
		return OutcomeSkipped, err
	}
	return outcome, nil
}
