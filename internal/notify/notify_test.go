package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calder-ops/tradevault/internal/config"
)

func TestWebhookPostsEvent(t *testing.T) {
	var got Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := Webhook{
		Name:    "ops",
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	}
	event := Event{
		Type:      "backup",
		Status:    "degraded",
		Artifact:  "/var/backups/trading/trading_full.tar.zst",
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		Warnings:  []string{"database dump failed"},
	}
	require.NoError(t, w.Notify(context.Background(), event))
	require.Equal(t, "Bearer token", auth)
	require.Equal(t, "backup", got.Type)
	require.Equal(t, "degraded", got.Status)
	require.Len(t, got.Warnings, 1)
}

func TestWebhookNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := Webhook{Name: "ops", URL: srv.URL}
	err := w.Notify(context.Background(), Event{Type: "backup"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ops")
}

func TestMultiTriesAllTargets(t *testing.T) {
	var hits int
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	m := FromConfig(config.NotificationsConfig{Webhooks: []config.WebhookConfig{
		{Name: "bad", URL: bad.URL},
		{Name: "ok", URL: ok.URL},
	}})
	err := m.Notify(context.Background(), Event{Type: "restore"})
	require.Error(t, err)
	require.Equal(t, 1, hits)
}
