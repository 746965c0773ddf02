package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/application/jobs"
	"github.com/Steake/GodelOS-sub005/domain/imports"
	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest/handlers"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

type mockImportAPI struct {
	mock.Mock
}

func (m *mockImportAPI) Submit(ctx context.Context, source imports.Source) (imports.Progress, error) {
	args := m.Called(ctx, source)
	return args.Get(0).(imports.Progress), args.Error(1)
}

func (m *mockImportAPI) Progress(ctx context.Context, id string) (imports.Progress, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(imports.Progress), args.Error(1)
}

func (m *mockImportAPI) Cancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func str(s string) *string { return &s }

type fixture struct {
	srv     *httptest.Server
	engine  *engine.Engine
	metrics *observability.Collector
}

func newFixture(t *testing.T, api *mockImportAPI) *fixture {
	t.Helper()
	cfg := config.Default(config.Test)
	cfg.Layout.Seed = 7
	logger := zaptest.NewLogger(t)
	metrics := observability.NewCollector("cogviz")

	var opts []engine.Option
	opts = append(opts, engine.WithMetrics(metrics))
	if api != nil {
		tracker := jobs.NewTracker(api, cfg.Import, logger)
		t.Cleanup(func() { tracker.Close() })
		opts = append(opts, engine.WithImportTracker(tracker))
	}
	e := engine.New(cfg, logger, opts...)
	t.Cleanup(e.Dispose)

	palette := render.NewPalette(cfg.Layout.ColorMode, time.Minute, time.Now)
	scene := render.NewScene(e.Model(), e.Simulation(), palette, render.NewViewport(400, 300, 600), 6)
	controller := render.NewController(e.Model(), e.Simulation(), scene, e, logger)
	e.Attach(scene)
	require.NoError(t, e.Init(context.Background()))

	env := func(typ messages.Type, seq int64, payload interface{}) messages.Envelope {
		m, err := messages.New(typ, "graph", payload, time.Now())
		require.NoError(t, err)
		m.Seq = seq
		return m
	}
	require.NoError(t, e.Ingest(context.Background(),
		env(messages.TypeNodeUpsert, 1, messages.NodePayload{ID: "A", Category: str("belief"), Label: str("Alpha")}),
		env(messages.TypeNodeUpsert, 2, messages.NodePayload{ID: "B", Category: str("goal")}),
		env(messages.TypeEdgeUpsert, 3, messages.EdgePayload{Source: "A", Target: "B"}),
	))
	_, err := e.Settle(context.Background(), 1000)
	require.NoError(t, err)

	view := handlers.View{Engine: e, Scene: scene, Controller: controller}
	router := NewRouter(view, cfg.HTTP, metrics, logger, pkgerrors.NewErrorHandler(logger, false))
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, engine: e, metrics: metrics}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[map[string]interface{}](t, resp)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["stale"])

	resp = f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeBody[engine.Status](t, resp)
	assert.Equal(t, 2, st.Nodes)
	assert.Equal(t, 1, st.Edges)
	assert.Equal(t, 1, st.Components.Count)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestSceneEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/scene", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scene := decodeBody[handlers.SceneResponse](t, resp)
	assert.Len(t, scene.Nodes, 2)
	assert.Len(t, scene.Edges, 1)
	assert.Equal(t, 400.0, scene.Viewport.Width)
	assert.True(t, scene.Stale)

	resp = f.do(t, http.MethodGet, "/api/scene.svg", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	svg, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(svg), "<svg"))
	assert.Contains(t, string(svg), "Alpha")
}

func TestNodeEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/nodes?category=belief", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[handlers.ListNodesResponse](t, resp)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "A", list.Nodes[0].ID)

	resp = f.do(t, http.MethodGet, "/api/nodes/A", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decodeBody[render.NodeDetail](t, resp)
	assert.Equal(t, 1, detail.Degree)
	assert.Equal(t, []string{"B"}, detail.Neighbors)

	resp = f.do(t, http.MethodGet, "/api/nodes/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	apiErr := decodeBody[pkgerrors.ErrorResponse](t, resp)
	assert.True(t, apiErr.Error)
	assert.Equal(t, string(pkgerrors.ErrorTypeNotFound), apiErr.Type)

	resp = f.do(t, http.MethodPost, "/api/nodes/A/pin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[render.NodeDetail](t, resp).Pinned)

	resp = f.do(t, http.MethodDelete, "/api/nodes/A/pin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[render.NodeDetail](t, resp).Pinned)

	resp = f.do(t, http.MethodPost, "/api/nodes/B/select", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/scene", "")
	assert.Equal(t, "B", decodeBody[handlers.SceneResponse](t, resp).Selected)

	resp = f.do(t, http.MethodDelete, "/api/nodes/B", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/api/nodes/B", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/scene", "")
	scene := decodeBody[handlers.SceneResponse](t, resp)
	assert.Len(t, scene.Nodes, 1)
	assert.Empty(t, scene.Edges)
	assert.Empty(t, scene.Selected, "deleting the selected node clears the selection")
}

func TestFilterHidesNodes(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPut, "/api/filter", `{"categories":["goal"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/scene", "")
	scene := decodeBody[handlers.SceneResponse](t, resp)
	require.Len(t, scene.Nodes, 2)
	hidden := map[string]bool{}
	for _, n := range scene.Nodes {
		hidden[n.ID] = n.Hidden
	}
	assert.True(t, hidden["A"])
	assert.False(t, hidden["B"])

	st, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes, "filtering never removes data")
}

func TestPointerAndViewport(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "unknown phase", body: `{"phase":"hover","x":1,"y":1}`, status: http.StatusBadRequest},
		{name: "malformed", body: `{"phase":`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"phase":"down","x":1,"y":1,"z":3}`, status: http.StatusBadRequest},
		{name: "background press", body: `{"phase":"down","x":1,"y":1}`, status: http.StatusOK},
		{name: "background release", body: `{"phase":"up","x":1,"y":1}`, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/pointer", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	resp := f.do(t, http.MethodPost, "/api/viewport", `{"dx":10,"dy":-5,"zoom":2,"x":200,"y":150}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vp := decodeBody[render.Viewport](t, resp)
	assert.Equal(t, 2.0, vp.Zoom)
}

func TestLayoutEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPut, "/api/layout",
		`{"linkStrength":3,"chargeStrength":-30,"layoutMode":"force2d","colorMode":"category"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/layout",
		`{"linkStrength":1,"chargeStrength":-60,"layoutMode":"force3d","colorMode":"importance"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/scene", "")
	assert.True(t, decodeBody[handlers.SceneResponse](t, resp).Viewport.Depth)
}

func TestSnapshotEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	snap, err := messages.New(messages.TypeSnapshotPatch, "cognitive",
		messages.PatchPayload{Set: map[string]json.RawMessage{"attention": json.RawMessage(`0.8`)}}, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.engine.Ingest(context.Background(), snap))

	resp := f.do(t, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[handlers.SnapshotResponse](t, resp)
	assert.JSONEq(t, `0.8`, string(body.Values["attention"]))
}

func TestImportEndpoints(t *testing.T) {
	t.Run("without tracker", func(t *testing.T) {
		f := newFixture(t, nil)
		resp := f.do(t, http.MethodGet, "/api/imports", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("submit list cancel", func(t *testing.T) {
		api := &mockImportAPI{}
		source := imports.Source{Kind: "url", Location: "https://example.com/a.pdf"}
		api.On("Submit", mock.Anything, source).
			Return(imports.Progress{ImportID: "imp-1", Status: imports.StatusQueued}, nil)
		api.On("Progress", mock.Anything, "imp-1").
			Return(imports.Progress{ImportID: "imp-1", Status: imports.StatusProcessing, ProgressPercent: 10}, nil).Maybe()
		api.On("Cancel", mock.Anything, "imp-1").Return(nil)
		f := newFixture(t, api)

		resp := f.do(t, http.MethodPost, "/api/imports", `{"type":"text"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = f.do(t, http.MethodPost, "/api/imports", `{"type":"url","location":"https://example.com/a.pdf"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		job := decodeBody[imports.Job](t, resp)
		assert.Equal(t, "imp-1", job.ID)

		resp = f.do(t, http.MethodGet, "/api/imports", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decodeBody[handlers.ListImportsResponse](t, resp).Jobs, 1)

		resp = f.do(t, http.MethodDelete, "/api/imports/imp-1", "")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.True(t, decodeBody[imports.Job](t, resp).Cancelling)

		resp = f.do(t, http.MethodDelete, "/api/imports/unknown", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		api.AssertCalled(t, "Cancel", mock.Anything, "imp-1")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/nodes/A", "")

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cogviz_http_requests_total{method="GET",route="/api/nodes/{id}",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/layout", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
