package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecording = `{"type":"node-upsert","topic":"graph","seq":1,"payload":{"id":"A","category":"belief","label":"Alpha"},"timestamp":1000}
{"type":"node-upsert","topic":"graph","seq":2,"payload":{"id":"B","category":"goal","label":"Beta"},"timestamp":1001}
{"type":"edge-upsert","topic":"graph","seq":3,"payload":{"source":"A","target":"B"},"timestamp":1002}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("COGVIZ_ENV", "test")
	t.Setenv("COGVIZ_LOG_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config-dir", t.TempDir()}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRenderFromRecording(t *testing.T) {
	rec := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(rec, []byte(sampleRecording), 0o644))

	out, err := execute(t, "render", "--from", rec, "--ticks", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "Alpha")

	svg := filepath.Join(t.TempDir(), "graph.svg")
	_, err = execute(t, "render", "--from", rec, "--ticks", "50", "--no-labels", "-o", svg)
	require.NoError(t, err)
	data, err := os.ReadFile(svg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
	assert.NotContains(t, string(data), "Alpha")
}

func TestRenderMissingRecording(t *testing.T) {
	_, err := execute(t, "render", "--from", filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
}

func importServer(t *testing.T, final string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/knowledge/import":
			_ = json.NewEncoder(w).Encode(map[string]any{"importId": "imp-1", "status": "queued"})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/progress"):
			status, percent := "processing", 50.0
			if polls.Add(1) > 1 {
				status, percent = final, 100.0
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"importId": "imp-1", "status": status, "progressPercent": percent})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestImportSubmit(t *testing.T) {
	tests := []struct {
		name    string
		final   string
		wantErr bool
	}{
		{name: "completes", final: "completed"},
		{name: "fails", final: "failed", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, polls := importServer(t, tt.final)
			t.Setenv("COGVIZ_IMPORT_POLL_INTERVAL_MS", "20")

			out, err := execute(t, "import", "--base-url", srv.URL,
				"submit", "--type", "url", "--location", "https://example.com/paper.pdf")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, out, "imp-1")
			assert.Contains(t, out, tt.final)
			assert.GreaterOrEqual(t, polls.Load(), int32(2))
		})
	}
}

func TestImportSubmitDetach(t *testing.T) {
	srv, polls := importServer(t, "completed")

	out, err := execute(t, "import", "--base-url", srv.URL,
		"submit", "--type", "text", "--content", "socrates is mortal", "--detach")
	require.NoError(t, err)
	assert.Contains(t, out, "imp-1")
	assert.Zero(t, polls.Load())
}

func TestImportSubmitRejectsInvalidSource(t *testing.T) {
	srv, _ := importServer(t, "completed")

	_, err := execute(t, "import", "--base-url", srv.URL, "submit", "--type", "url")
	require.Error(t, err)
}

func TestImportWatch(t *testing.T) {
	srv, _ := importServer(t, "completed")
	t.Setenv("COGVIZ_IMPORT_POLL_INTERVAL_MS", "20")

	out, err := execute(t, "import", "--base-url", srv.URL, "watch", "imp-1")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}
