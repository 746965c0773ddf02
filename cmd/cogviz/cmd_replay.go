package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Steake/GodelOS-sub005/infrastructure/di"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest"
	"github.com/Steake/GodelOS-sub005/interfaces/replay"
)

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := replay.DefaultOptions()
	var addr, secret string
	cmd := &cobra.Command{
		Use:   "replay <recording.jsonl>",
		Short: "Serve a recorded session as a live stream endpoint",
		Long: "Replay plays the frames of a JSONL recording to every subscribed client,\n" +
			"answering resync requests with snapshots of the replayed state.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]string{"HTTP_ADDR": addr}
			cfg, _, err := root.load(overrides)
			if err != nil {
				return err
			}
			logger, err := di.ProvideLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			frames, err := replay.LoadRecordingFile(args[0])
			if err != nil {
				return err
			}
			if secret != "" {
				opts.Secret = []byte(secret)
			}

			srv := replay.NewServer(frames, opts, logger)
			httpSrv := rest.NewServer(cfg.HTTP, srv.Routes(), logger)

			logger.Info("Replaying recording",
				zap.String("file", args[0]),
				zap.Int("frames", len(frames)),
				zap.String("endpoint", "ws://"+cfg.HTTP.Addr+"/ws"),
				zap.Bool("loop", opts.Loop),
			)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.Run(ctx) })
			g.Go(func() error { return httpSrv.Run(ctx) })
			return g.Wait()
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":8090", "listen address")
	flags.DurationVar(&opts.Interval, "interval", opts.Interval, "delay between frames")
	flags.DurationVar(&opts.Heartbeat, "heartbeat", opts.Heartbeat, "heartbeat period, 0 disables heartbeats")
	flags.BoolVar(&opts.Loop, "loop", false, "restart the recording after the last frame")
	flags.BoolVar(&opts.AwaitSubscriber, "await", true, "hold playback until the first client subscribes")
	flags.StringVar(&secret, "secret", "", "require HS256 bearer tokens signed with this secret")
	return cmd
}
