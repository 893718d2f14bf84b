package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Event{
		Type:     EventDecisionRequired,
		Severity: "high",
		RunID:    "run-1",
		Message:  "contact gap cannot close",
	})
	require.NoError(t, err)

	assert.Equal(t, EventDecisionRequired, got.Type)
	assert.Equal(t, "run-1", got.RunID)
	assert.False(t, got.Timestamp.IsZero(), "timestamp is filled in when unset")
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Event{Type: EventRunError})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, Nop{}, FromConfig(""))
	assert.IsType(t, &WebhookNotifier{}, FromConfig("https://hooks.example.com/x"))
}
