package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"intake/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_EntriesSendsKeyAndOwner(t *testing.T) {
	var gotKey, gotOwner string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotOwner = r.URL.Query().Get("owner")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries": []models.ListEntry{{CorrelationID: "SCO_100001", Pending: true}},
		})
	}))
	t.Cleanup(ts.Close)

	c := New(ts.URL+"/", "secret", "")
	entries, err := c.Entries(context.Background(), "agent 1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SCO_100001", entries[0].CorrelationID)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "agent 1", gotOwner)
}

func TestClient_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"sync already running or no active session"}`))
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL, "", "").Sync(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusConflict, statusErr.Code)
	assert.Contains(t, statusErr.Error(), "already running")
}

func TestClient_SetOnlineAndExport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/network", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]bool
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]bool{"online": body["online"], "changed": true})
	})
	mux.HandleFunc("/api/v1/entries.xlsx", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("xlsx-bytes"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c := New(ts.URL, "", "")
	changed, err := c.SetOnline(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, changed)

	var buf bytes.Buffer
	require.NoError(t, c.ExportEntries(context.Background(), "", &buf))
	assert.Equal(t, "xlsx-bytes", buf.String())
}
