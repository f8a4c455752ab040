package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/andrewhowdencom/drip/internal/clients/email"
	"github.com/andrewhowdencom/drip/internal/clients/slack"
	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	slackClient := slack.NewMockClient()
	emailClient := email.NewMockClient()

	r := NewRouter("slack")
	r.Handle("slack", NewSlack(slackClient))
	r.Handle("email", NewEmail(emailClient))

	msg := &model.Message{Subject: "Welcome", Body: "**Hello**"}

	require.NoError(t, r.Send(context.Background(), "slack:#general", msg))
	require.NoError(t, r.Send(context.Background(), "email:ada@example.com", msg))
	require.NoError(t, r.Send(context.Background(), "U123", msg))

	assert.Equal(t, []slack.PostedMessage{
		{Channel: "#general", Subject: "Welcome", Text: "*Hello*"},
		{Channel: "U123", Subject: "Welcome", Text: "*Hello*"},
	}, slackClient.Posted())
	assert.Equal(t, []email.SentEmail{
		{To: "ada@example.com", Subject: "Welcome", Body: "<p><strong>Hello</strong></p>\n"},
	}, emailClient.Sent())

	err := r.Send(context.Background(), "sms:+15550100", msg)
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestSlack_WrapsErrors(t *testing.T) {
	client := slack.NewMockClient()
	client.PostMessageFunc = func(channel, subject, text string) (string, string, error) {
		return "", "", errors.New("channel_not_found")
	}

	err := NewSlack(client).Send(context.Background(), "#nope", &model.Message{Body: "hi"})
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestEmail_WrapsErrors(t *testing.T) {
	client := email.NewMockClient()
	client.SendFunc = func(to, subject, body string) error {
		return errors.New("mailbox unavailable")
	}

	err := NewEmail(client).Send(context.Background(), "ada@example.com", &model.Message{Body: "hi"})
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestDryRunAndFunc(t *testing.T) {
	assert.NoError(t, DryRun{}.Send(context.Background(), "C1", &model.Message{Body: "hi"}))

	var got string
	g := Func(func(_ context.Context, contactID string, _ *model.Message) error {
		got = contactID
		return nil
	})
	assert.NoError(t, g.Send(context.Background(), "C1", &model.Message{}))
	assert.Equal(t, "C1", got)
}
