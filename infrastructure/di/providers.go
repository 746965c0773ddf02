package di

import (
	"context"

	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/application/jobs"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/importapi"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	"github.com/Steake/GodelOS-sub005/infrastructure/stream"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest/handlers"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// ProvideLogger creates the process logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Environment, cfg.Logging)
}

// ProvideMetrics creates the prometheus collector, or nil when metrics are off
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideTracing initializes OpenTelemetry
func ProvideTracing(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	return observability.InitTracing(ctx, cfg.Environment, cfg.Tracing)
}

// ProvideStreamManager creates the websocket session manager
func ProvideStreamManager(
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracing *observability.TracerProvider,
) *stream.Manager {
	return stream.NewManager(cfg.Stream, logger, stream.WithMetrics(metrics), stream.WithTracer(tracing.Tracer()))
}

// ProvideOfflineStreams leaves the engine without a stream
func ProvideOfflineStreams() *stream.Manager {
	return nil
}

// ProvideImportAPI creates the import REST client. Without a base URL there
// is no import service and the client is nil.
func ProvideImportAPI(
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracing *observability.TracerProvider,
) (*importapi.Client, error) {
	if cfg.Import.BaseURL == "" {
		return nil, nil
	}
	return importapi.NewClient(cfg.Import, logger, importapi.WithMetrics(metrics), importapi.WithTracer(tracing.Tracer()))
}

// ProvideOfflineImportAPI disables imports
func ProvideOfflineImportAPI() *importapi.Client {
	return nil
}

// ProvideTracker creates the import job tracker when an import service exists
func ProvideTracker(api *importapi.Client, cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) *jobs.Tracker {
	if api == nil {
		return nil
	}
	return jobs.NewTracker(api, cfg.Import, logger, jobs.WithMetrics(metrics))
}

// ProvideEngine creates the engine. It is not started.
func ProvideEngine(
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Collector,
	streams *stream.Manager,
	tracker *jobs.Tracker,
) *engine.Engine {
	opts := []engine.Option{engine.WithMetrics(metrics)}
	if streams != nil {
		opts = append(opts, engine.WithStreams(streams))
	}
	if tracker != nil {
		opts = append(opts, engine.WithImportTracker(tracker))
	}
	return engine.New(cfg, logger, opts...)
}

// ProvidePalette creates the color palette for the configured color mode
func ProvidePalette(cfg *config.Config) *render.Palette {
	return render.NewPalette(cfg.Layout.ColorMode, cfg.Render.RecencyHalfLife(), nil)
}

// ProvideScene creates the scene and attaches it to the engine
func ProvideScene(cfg *config.Config, e *engine.Engine, palette *render.Palette) *render.Scene {
	viewport := render.NewViewport(float64(cfg.Render.Width), float64(cfg.Render.Height), cfg.Render.Perspective)
	scene := render.NewScene(e.Model(), e.Simulation(), palette, viewport, cfg.Render.NodeRadius)
	e.Attach(scene)
	return scene
}

// ProvideController creates the gesture controller
func ProvideController(e *engine.Engine, scene *render.Scene, logger *zap.Logger) *render.Controller {
	return render.NewController(e.Model(), e.Simulation(), scene, e, logger)
}

// ProvideErrorHandler creates the HTTP error handler. Development builds
// expose unexpected error messages.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideView groups the loop-confined objects the HTTP handlers reach
func ProvideView(e *engine.Engine, scene *render.Scene, controller *render.Controller) handlers.View {
	return handlers.View{Engine: e, Scene: scene, Controller: controller}
}

// ProvideRouter creates the HTTP view API router
func ProvideRouter(
	view handlers.View,
	cfg *config.Config,
	metrics *observability.Collector,
	logger *zap.Logger,
	errorHandler *pkgerrors.ErrorHandler,
) *rest.Router {
	return rest.NewRouter(view, cfg.HTTP, metrics, logger, errorHandler)
}
