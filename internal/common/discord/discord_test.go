package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendLogMessage(t *testing.T) {
	var got WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).SendLogMessage(context.Background(), "ERROR", "geoserver unreachable",
		map[string]interface{}{"node": 8081, "attempt": 1})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "geoserver unreachable", got.Embeds[0].Description)
	assert.Equal(t, 0xFF0000, got.Embeds[0].Color)
	require.Len(t, got.Embeds[0].Fields, 2)
	assert.Equal(t, "attempt", got.Embeds[0].Fields[0].Name)
}

func TestSendMessageStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).SendMessage(context.Background(), WebhookMessage{Content: "hi"})
	assert.ErrorContains(t, err, "429")
}

func TestEmptyWebhookIsNoop(t *testing.T) {
	assert.NoError(t, NewClient("").SendMessage(context.Background(), WebhookMessage{Content: "hi"}))
}
