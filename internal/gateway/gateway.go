// Package gateway delivers resolved step messages to contacts.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/andrewhowdencom/drip/internal/clients/email"
	"github.com/andrewhowdencom/drip/internal/clients/slack"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/processor"
)

// ErrDelivery wraps every failure to hand a message to its transport.
var ErrDelivery = errors.New("delivery failed")

// Gateway sends a message to a contact.
type Gateway interface {
	Send(ctx context.Context, contactID string, msg *model.Message) error
}

// Func adapts a function to the Gateway interface.
type Func func(ctx context.Context, contactID string, msg *model.Message) error

// Send calls f.
func (f Func) Send(ctx context.Context, contactID string, msg *model.Message) error {
	return f(ctx, contactID, msg)
}

// Router picks a transport from the scheme of the contact ID: "slack:<channel,
// user ID or email>" or "email:<address>". Bare contact IDs are sent through
// the default scheme.
type Router struct {
	schemes       map[string]Gateway
	defaultScheme string
}

// NewRouter creates an empty Router that falls back to defaultScheme.
func NewRouter(defaultScheme string) *Router {
	return &Router{
		schemes:       make(map[string]Gateway),
		defaultScheme: defaultScheme,
	}
}

// Handle registers g for contact IDs prefixed with scheme.
func (r *Router) Handle(scheme string, g Gateway) {
	r.schemes[scheme] = g
}

// Send routes msg to the gateway registered for the contact's scheme.
func (r *Router) Send(ctx context.Context, contactID string, msg *model.Message) error {
	scheme, address, ok := strings.Cut(contactID, ":")
	if !ok {
		scheme, address = r.defaultScheme, contactID
	}
	g, found := r.schemes[scheme]
	if !found {
		return fmt.Errorf("%w: no gateway for contact '%s'", ErrDelivery, contactID)
	}
	return g.Send(ctx, address, msg)
}

// Slack posts messages to Slack, converting markdown bodies to mrkdwn.
type Slack struct {
	client    slack.Client
	formatter processor.Processor
}

// NewSlack creates a Slack gateway.
func NewSlack(client slack.Client) *Slack {
	return &Slack{
		client:    client,
		formatter: processor.NewMarkdownToSlack(),
	}
}

// Send posts msg to the channel, user ID or user email in address.
func (s *Slack) Send(ctx context.Context, address string, msg *model.Message) error {
	text, err := s.formatter.Process(msg.Body, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to format message: %w", ErrDelivery, err)
	}
	if _, _, err := s.client.PostMessage(ctx, address, msg.Subject, text); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

// Email sends messages over SMTP, converting markdown bodies to HTML.
type Email struct {
	client    email.Client
	formatter processor.Processor
}

// NewEmail creates an email gateway.
func NewEmail(client email.Client) *Email {
	return &Email{
		client:    client,
		formatter: processor.MarkdownToHTML,
	}
}

// Send emails msg to address.
func (e *Email) Send(ctx context.Context, address string, msg *model.Message) error {
	body, err := e.formatter.Process(msg.Body, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to format message: %w", ErrDelivery, err)
	}
	if err := e.client.Send(ctx, address, msg.Subject, body); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

// DryRun logs messages instead of sending them.
type DryRun struct{}

// Send logs msg and reports success.
func (DryRun) Send(_ context.Context, contactID string, msg *model.Message) error {
	slog.Info("dry run: not sending message", "contact_id", contactID, "subject", msg.Subject, "body", msg.Body)
	return nil
}
