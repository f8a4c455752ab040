package slack

import (
	"context"
	"sync"
)

// PostedMessage records a call to MockClient.PostMessage.
type PostedMessage struct {
	Channel string
	Subject string
	Text    string
}

// MockClient is a mock implementation of the Client interface for testing.
type MockClient struct {
	PostMessageFunc  func(channel, subject, text string) (string, string, error)
	GetChannelIDFunc func(channelName string) (string, error)
	GetUserIDFunc    func(email string) (string, error)

	mu     sync.Mutex
	posted []PostedMessage
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		PostMessageFunc: func(channel, subject, text string) (string, string, error) {
			return "C1234567890", "1234567890.123456", nil
		},
		GetChannelIDFunc: func(channelName string) (string, error) {
			return "C1234567890", nil
		},
		GetUserIDFunc: func(email string) (string, error) {
			return "U1234567890", nil
		},
	}
}

// PostMessage records the message and calls the PostMessageFunc.
func (m *MockClient) PostMessage(_ context.Context, channel, subject, text string) (string, string, error) {
	m.mu.Lock()
	m.posted = append(m.posted, PostedMessage{Channel: channel, Subject: subject, Text: text})
	m.mu.Unlock()
	return m.PostMessageFunc(channel, subject, text)
}

// GetChannelID calls the GetChannelIDFunc.
func (m *MockClient) GetChannelID(_ context.Context, channelName string) (string, error) {
	return m.GetChannelIDFunc(channelName)
}

// GetUserID calls the GetUserIDFunc.
func (m *MockClient) GetUserID(_ context.Context, email string) (string, error) {
	return m.GetUserIDFunc(email)
}

// Posted returns the messages posted so far.
func (m *MockClient) Posted() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedMessage, len(m.posted))
	copy(out, m.posted)
	return out
}
