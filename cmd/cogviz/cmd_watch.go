package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Steake/GodelOS-sub005/infrastructure/di"
	"github.com/Steake/GodelOS-sub005/interfaces/tui"
)

// tuiNodeRadius keeps nodes clickable at terminal cell resolution
const tuiNodeRadius = 10

func newWatchCmd(root *rootOptions) *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live graph in the terminal",
		Long:  "Drag nodes with the mouse to pin them, click to select, press ? for keys.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]string{}
			if cmd.Flags().Changed("log-file") {
				overrides["LOG_FILE"] = logFile
			}
			cfg, _, err := root.load(overrides)
			if err != nil {
				return err
			}
			if cfg.Logging.File == "" {
				cfg.Logging.File = logFile
			}
			cfg.Render.NodeRadius = max(cfg.Render.NodeRadius, tuiNodeRadius)

			ctx := cmd.Context()
			c, err := di.InitializeContainer(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			if err := c.Engine.Init(ctx); err != nil {
				return err
			}
			return tui.Run(ctx, c.Engine, c.Scene, c.Controller, c.Logger)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "cogviz.log", "file receiving logs while the terminal view is open")
	return cmd
}
