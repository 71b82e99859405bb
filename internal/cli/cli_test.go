package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"intake/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	lastErr := "remote unavailable"
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/queue", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tasks": []models.Task{{
			ID: "t1", Type: models.TaskUpdateDraft, CorrelationID: "SCO_100001",
			RetryCount: 1, MaxRetries: 3, LastError: &lastErr,
		}}})
	})
	mux.HandleFunc("/api/v1/sync", func(w http.ResponseWriter, r *http.Request) {
		s := models.ReplaySummary{Attempted: 2, Succeeded: 1, Retrying: 1, Deferred: 1}
		_ = json.NewEncoder(w).Encode(map[string]any{"summary": s, "message": s.Message()})
	})
	mux.HandleFunc("/api/v1/entries.xlsx", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("xlsx"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestQueueList(t *testing.T) {
	ts := fakeAPI(t)
	out, err := execute(t, "--addr", ts.URL, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SCO_100001")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "remote unavailable")
}

func TestSyncMessage(t *testing.T) {
	ts := fakeAPI(t)
	out, err := execute(t, "--addr", ts.URL, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "1 synced, 1 failed, will retry automatically")
	assert.Contains(t, out, "1 waiting for the next attempt")
}

func TestExportWritesFile(t *testing.T) {
	ts := fakeAPI(t)
	path := filepath.Join(t.TempDir(), "out", "entries.xlsx")
	_, err := execute(t, "--addr", ts.URL, "export", "--out", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", string(data))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "sync")
	assert.ErrorContains(t, err, "invalid format")
}
