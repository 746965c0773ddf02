package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/infrastructure/di"
	"github.com/Steake/GodelOS-sub005/infrastructure/stream"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

type renderOptions struct {
	from     string
	out      string
	maxTicks int
	wait     time.Duration
	width    int
	height   int
	noLabels bool
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Settle the layout and write it as SVG",
		Long:  "Without --from the graph is taken from the stream once every topic is in sync.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load(nil)
			if err != nil {
				return err
			}
			if opts.width > 0 {
				cfg.Render.Width = opts.width
			}
			if opts.height > 0 {
				cfg.Render.Height = opts.height
			}

			ctx := cmd.Context()
			initialize := di.InitializeContainer
			if opts.from != "" {
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
			if opts.from != "" {
				err = ingestRecording(ctx, c, opts.from)
			} else {
				err = waitForSync(ctx, c.Engine, opts.wait)
			}
			if err != nil {
				return err
			}

			ticks, err := c.Engine.Settle(ctx, opts.maxTicks)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if opts.out != "" {
				f, err := os.Create(opts.out)
				if err != nil {
					return pkgerrors.Wrap(err, "create output")
				}
				defer f.Close()
				w = f
			}

			svg := render.DefaultSVGOptions()
			svg.Labels = !opts.noLabels
			var writeErr error
			if err := c.Engine.Call(ctx, func() {
				writeErr = render.WriteSVG(w, c.Scene, svg)
			}); err != nil {
				return err
			}
			if writeErr != nil {
				return writeErr
			}
			c.Logger.Info("Rendered graph", zap.Int("ticks", ticks), zap.String("out", opts.out))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.from, "from", "", "JSONL recording to render instead of the stream")
	flags.StringVarP(&opts.out, "out", "o", "", "output file, stdout when empty")
	flags.IntVar(&opts.maxTicks, "ticks", 3000, "maximum simulation ticks before writing")
	flags.DurationVar(&opts.wait, "wait", 10*time.Second, "how long to wait for the stream to sync")
	flags.IntVar(&opts.width, "width", 0, "drawing width, overriding the configuration")
	flags.IntVar(&opts.height, "height", 0, "drawing height, overriding the configuration")
	flags.BoolVar(&opts.noLabels, "no-labels", false, "leave node labels out")
	return cmd
}

// waitForSync blocks until the stream is connected and no topic awaits a
// snapshot
func waitForSync(ctx context.Context, e *engine.Engine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var last engine.Status
	for {
		st, err := e.Status(ctx)
		if err == nil {
			last = st
			if synced(st) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return pkgerrors.NewConnectionError("stream did not sync in time", ctx.Err()).
				WithDetail("connection", string(last.Connection))
		case <-ticker.C:
		}
	}
}

func synced(st engine.Status) bool {
	if st.Connection != stream.Connected || len(st.Topics) == 0 {
		return false
	}
	for _, t := range st.Topics {
		if t.ResyncPending {
			return false
		}
	}
	return true
}
