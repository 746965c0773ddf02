package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/di"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest"
	"github.com/Steake/GodelOS-sub005/interfaces/replay"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, from string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live graph over the HTTP view API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]string{}
			if addr != "" {
				overrides["HTTP_ADDR"] = addr
			}
			cfg, loader, err := root.load(overrides)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			initialize := di.InitializeContainer
			if from != "" {
				initialize = di.InitializeOfflineContainer
			}
			c, err := initialize(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			if err := c.Engine.Init(ctx); err != nil {
				return err
			}
			if from != "" {
				if err := ingestRecording(ctx, c, from); err != nil {
					return err
				}
			}
			return serve(ctx, c, loader)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding the configuration")
	cmd.Flags().StringVar(&from, "from", "", "serve a JSONL recording offline instead of following the stream")
	return cmd
}

// serve runs the HTTP server and the configuration watcher until ctx ends or
// the engine stops
func serve(ctx context.Context, c *di.Container, loader *config.Loader) error {
	server := rest.NewServer(c.Config.HTTP, c.Router.Setup(), c.Logger)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-c.Engine.Done():
			return pkgerrors.NewInternalError("engine stopped")
		}
	})

	watcher, err := config.NewWatcher(loader, c.Config, c.Logger)
	if err != nil {
		c.Logger.Warn("Configuration hot reloading unavailable", zap.Error(err))
	} else {
		c.Engine.WatchConfig(watcher)
		g.Go(func() error {
			<-gctx.Done()
			return watcher.Close()
		})
	}

	c.Logger.Info("Serving view API",
		zap.String("addr", c.Config.HTTP.Addr),
		zap.Bool("streaming", c.Streams != nil),
		zap.Bool("imports", c.Tracker != nil),
	)
	return g.Wait()
}

func ingestRecording(ctx context.Context, c *di.Container, path string) error {
	frames, err := replay.LoadRecordingFile(path)
	if err != nil {
		return err
	}
	if err := c.Engine.Ingest(ctx, frames...); err != nil {
		if pkgerrors.GetAppError(err) == nil {
			return err
		}
		c.Logger.Warn("Recording applied with errors", zap.Error(err))
	}
	c.Logger.Info("Recording ingested", zap.String("path", path), zap.Int("frames", len(frames)))
	return nil
}
