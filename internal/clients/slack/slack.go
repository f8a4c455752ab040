package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// Client is an interface that defines the methods for interacting with the Slack API.
type Client interface {
	PostMessage(ctx context.Context, channel, subject, text string) (string, string, error)
	GetChannelID(ctx context.Context, channelName string) (string, error)
	GetUserID(ctx context.Context, email string) (string, error)
}

// client is the concrete implementation of the Client interface.
type client struct {
	api *slack.Client
}

// NewClient creates a new Slack client.
func NewClient(token string, options ...slack.Option) Client {
	return &client{
		api: slack.New(token, options...),
	}
}

// PostMessage sends a message to a Slack channel, user ID or user email.
func (c *client) PostMessage(ctx context.Context, channel, subject, text string) (string, string, error) {
	message := text
	if subject != "" {
		message = fmt.Sprintf("*%s*\n%s", subject, text)
	}

	var channelID string
	var err error
	if strings.Contains(channel, "@") {
		channelID, err = c.GetUserID(ctx, channel)
	} else {
		channelID, err = c.GetChannelID(ctx, channel)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to get channel id: %w", err)
	}

	respChannel, timestamp, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(message, false))
	if err != nil {
		return "", "", fmt.Errorf("failed to post message: %w", err)
	}
	return respChannel, timestamp, nil
}

// GetUserID resolves the Slack user ID of a workspace member by email.
func (c *client) GetUserID(ctx context.Context, email string) (string, error) {
	user, err := c.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to get user by email: %w", err)
	}
	return user.ID, nil
}

// GetChannelID retrieves the ID of a channel given its name.
func (c *client) GetChannelID(ctx context.Context, channelName string) (string, error) {
	if !strings.HasPrefix(channelName, "#") {
		return channelName, nil
	}

	var channels []slack.Channel
	params := &slack.GetConversationsParameters{
		Limit: 1000,
		Types: []string{"public_channel", "private_channel"},
	}
	for {
		page, nextCursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("failed to get conversations: %w", err)
		}
		channels = append(channels, page...)
		if nextCursor == "" {
			break
		}
		params.Cursor = nextCursor
	}

	// Normalize channel name for case-insensitive comparison.
	normalizedChannelName := strings.TrimPrefix(strings.ToLower(channelName), "#")

	for _, channel := range channels {
		if strings.ToLower(channel.Name) == normalizedChannelName {
			return channel.ID, nil
		}
	}

	return "", fmt.Errorf("channel '%s' not found", channelName)
}
