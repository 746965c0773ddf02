package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
)

func TestInitializeContainer(t *testing.T) {
	tests := []struct {
		name    string
		init    func(context.Context, *config.Config) (*Container, error)
		baseURL string
		live    bool
		tracker bool
	}{
		{name: "live with imports", init: InitializeContainer, baseURL: "http://localhost:8000", live: true, tracker: true},
		{name: "live without imports", init: InitializeContainer, live: true},
		{name: "offline", init: InitializeOfflineContainer, baseURL: "http://localhost:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default(config.Test)
			cfg.Import.BaseURL = tt.baseURL

			c, err := tt.init(context.Background(), cfg)
			require.NoError(t, err)
			defer c.Close(context.Background())

			assert.Same(t, cfg, c.Config)
			assert.Equal(t, tt.live, c.Streams != nil)
			assert.Equal(t, tt.tracker, c.Tracker != nil)
			assert.Equal(t, tt.tracker, c.Engine.Imports() != nil)
			assert.Equal(t, cfg.Metrics.Enabled, c.Metrics != nil)
			assert.NotNil(t, c.Router)
		})
	}
}

func TestInitializeContainerRejectsBadImportURL(t *testing.T) {
	cfg := config.Default(config.Test)
	cfg.Import.BaseURL = "::not a url"
	_, err := InitializeContainer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOfflineContainerServesScene(t *testing.T) {
	cfg := config.Default(config.Test)
	cfg.Layout.Seed = 3
	c, err := InitializeOfflineContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, c.Engine.Init(ctx))

	node, err := messages.New(messages.TypeNodeUpsert, "graph", messages.NodePayload{ID: "A"}, time.Now())
	require.NoError(t, err)
	node.Seq = 1
	require.NoError(t, c.Engine.Ingest(ctx, node))
	_, err = c.Engine.Settle(ctx, 500)
	require.NoError(t, err)

	handler := c.Router.Setup()
	for _, path := range []string{"/health", "/api/scene", "/api/nodes/A"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
