//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/Steake/GodelOS-sub005/infrastructure/config"
)

// CoreSet provides everything both the live and the offline engine need
var CoreSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideTracing,
	ProvideTracker,
	ProvideEngine,
	ProvidePalette,
	ProvideScene,
	ProvideController,
	ProvideErrorHandler,
	ProvideView,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// LiveSet connects the engine to the stream and the import service
var LiveSet = wire.NewSet(
	CoreSet,
	ProvideStreamManager,
	ProvideImportAPI,
)

// OfflineSet runs the engine on ingested messages only
var OfflineSet = wire.NewSet(
	CoreSet,
	ProvideOfflineStreams,
	ProvideOfflineImportAPI,
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(LiveSet)
	return nil, nil // Wire will replace this
}

// InitializeOfflineContainer creates a container whose engine has no stream
func InitializeOfflineContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(OfflineSet)
	return nil, nil // Wire will replace this
}
