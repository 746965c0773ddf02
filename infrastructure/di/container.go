// Package di wires the engine, its infrastructure and the view surfaces.
package di

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/application/jobs"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/importapi"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	"github.com/Steake/GodelOS-sub005/infrastructure/stream"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// Container holds all application dependencies. Streams, ImportAPI and
// Tracker are nil when the engine runs offline or without an import service.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Collector
	Tracing      *observability.TracerProvider
	Streams      *stream.Manager
	ImportAPI    *importapi.Client
	Tracker      *jobs.Tracker
	Engine       *engine.Engine
	Scene        *render.Scene
	Controller   *render.Controller
	ErrorHandler *pkgerrors.ErrorHandler
	Router       *rest.Router
}

// Close disposes the engine and releases every resource the container owns
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	c.Engine.Dispose()
	if c.Tracker != nil {
		if err := c.Tracker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	// Sync fails on terminals; the error carries no information
	_ = c.Logger.Sync()
	return errors.Join(errs...)
}
