package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Steake/GodelOS-sub005/domain/layout"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := NewLoader(t.TempDir(), Test).WithLookupEnv(noEnv).Load()
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Stream.InitialDelay())
	assert.Equal(t, 30*time.Second, cfg.Stream.MaxDelay())
	assert.Equal(t, 50, cfg.Reconciler.WindowSize)
	assert.Equal(t, 2*time.Second, cfg.Reconciler.Window())
	assert.Equal(t, 2*time.Second, cfg.Import.PollInterval())
	assert.Equal(t, layout.ModeForce2D, cfg.Layout.Mode)
	assert.Equal(t, []string{"defaults"}, cfg.LoadedFrom)
}

func TestFileLayering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
stream:
  endpoint: ws://base:9000/ws
  initialDelayMs: 250
  heartbeatIntervalMs: 1000
layout:
  layoutMode: force3d
  linkStrength: 1.5
`)
	writeFile(t, dir, "staging.toml", `
[stream]
maxDelayMs = 10000

[layout]
colorMode = "importance"
`)
	explicit := writeFile(t, dir, "override.json", `{"layout": {"chargeStrength": -80}}`)

	cfg, err := NewLoader(dir, Staging).WithFile(explicit).WithLookupEnv(noEnv).Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://base:9000/ws", cfg.Stream.Endpoint)
	assert.Equal(t, 250, cfg.Stream.InitialDelayMs)
	assert.Equal(t, 10000, cfg.Stream.MaxDelayMs)
	assert.Equal(t, time.Second, cfg.Stream.HeartbeatInterval())
	assert.Equal(t, layout.ModeForce3D, cfg.Layout.Mode)
	assert.Equal(t, layout.ColorByImportance, cfg.Layout.ColorMode)
	assert.Equal(t, 1.5, cfg.Layout.LinkStrength)
	assert.Equal(t, -80.0, cfg.Layout.ChargeStrength)
	assert.Len(t, cfg.LoadedFrom, 4)
}

func TestEnvironmentOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "layout:\n  layoutMode: circular\n")

	cfg, err := NewLoader(dir, Test).WithLookupEnv(envMap(map[string]string{
		"COGVIZ_LAYOUT_MODE":      "hierarchical",
		"COGVIZ_STREAM_TOPICS":    "graph, jobs",
		"COGVIZ_MAX_DELAY_MS":     "60000",
		"COGVIZ_METRICS_ENABLED":  "false",
		"COGVIZ_TRACING_ENDPOINT": "collector:4317",
	})).Load()
	require.NoError(t, err)

	assert.Equal(t, layout.ModeHierarchical, cfg.Layout.Mode)
	assert.Equal(t, []string{"graph", "jobs"}, cfg.Stream.Topics)
	assert.Equal(t, 60000, cfg.Stream.MaxDelayMs)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, "environment", cfg.LoadedFrom[len(cfg.LoadedFrom)-1])
}

func TestInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "link strength above two", file: "layout:\n  linkStrength: 3\n"},
		{name: "unknown layout mode", file: "layout:\n  layoutMode: grid\n"},
		{name: "max delay below initial", file: "stream:\n  initialDelayMs: 1000\n  maxDelayMs: 10\n"},
		{name: "no topics", file: "stream:\n  topics: []\n"},
		{name: "tracing without endpoint", file: "tracing:\n  enabled: true\n"},
		{name: "malformed yaml", file: "stream: [\n"},
		{name: "bad env number", env: map[string]string{"COGVIZ_INITIAL_DELAY_MS": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.file != "" {
				writeFile(t, dir, "base.yaml", tt.file)
			}
			_, err := NewLoader(dir, Test).WithLookupEnv(envMap(tt.env)).Load()
			require.Error(t, err)
			assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeConfig), err.Error())
		})
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "layout:\n  layoutMode: force2d\n")

	loader := NewLoader(dir, Test).WithLookupEnv(noEnv)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Close()

	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) { changed <- c })

	require.NoError(t, os.WriteFile(path, []byte("layout:\n  layoutMode: circular\n"), 0o644))

	select {
	case c := <-changed:
		assert.Equal(t, layout.ModeCircular, c.Layout.Mode)
		assert.Equal(t, layout.ModeCircular, w.Current().Layout.Mode)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestWatcherKeepsPreviousOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "layout:\n  layoutMode: force2d\n")

	loader := NewLoader(dir, Test).WithLookupEnv(noEnv)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("layout:\n  linkStrength: 9\n"), 0o644))
	time.Sleep(DefaultDebounce + 300*time.Millisecond)
	assert.Same(t, initial, w.Current())
}
