package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"channels":[{"id":"C42","name":"General"}],"response_metadata":{"next_cursor":""}}`)
	})
	mux.HandleFunc("/users.lookupByEmail", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"user":{"id":"U7","name":"ada"}}`)
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"channel":%q,"ts":"1700000000.000100"}`, r.FormValue("channel"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestGetChannelID(t *testing.T) {
	server := newTestServer(t)
	c := NewClient("xoxb-test", slack.OptionAPIURL(server.URL+"/"))

	t.Run("should return the channel ID if it is not prefixed with a #", func(t *testing.T) {
		channelID, err := c.GetChannelID(context.Background(), "C1234567890")
		assert.NoError(t, err)
		assert.Equal(t, "C1234567890", channelID)
	})

	t.Run("should resolve the channel ID if it is prefixed with a #", func(t *testing.T) {
		channelID, err := c.GetChannelID(context.Background(), "#general")
		assert.NoError(t, err)
		assert.Equal(t, "C42", channelID)
	})

	t.Run("should fail for unknown channels", func(t *testing.T) {
		_, err := c.GetChannelID(context.Background(), "#random")
		assert.Error(t, err)
	})
}

func TestPostMessage(t *testing.T) {
	server := newTestServer(t)
	c := NewClient("xoxb-test", slack.OptionAPIURL(server.URL+"/"))

	channel, ts, err := c.PostMessage(context.Background(), "#general", "Welcome", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "C42", channel)
	assert.Equal(t, "1700000000.000100", ts)

	channel, _, err = c.PostMessage(context.Background(), "ada@example.com", "", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "U7", channel)
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	_, _, err := m.PostMessage(context.Background(), "#general", "s", "t")
	assert.NoError(t, err)
	assert.Equal(t, []PostedMessage{{Channel: "#general", Subject: "s", Text: "t"}}, m.Posted())
}
