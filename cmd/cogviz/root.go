package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Steake/GodelOS-sub005/infrastructure/config"
)

var version = "0.1.0"

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	configDir  string
	configFile string
	endpoint   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cogviz",
		Short:         "Client for a live cognitive graph",
		Long:          "cogviz follows a cognitive backend over websocket, lays the graph out and shows it in the terminal, over HTTP or as SVG.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configDir, "config-dir", "config", "directory holding base and per-environment configuration files")
	flags.StringVarP(&opts.configFile, "config", "c", "", "configuration file applied after the directory files")
	flags.StringVar(&opts.endpoint, "endpoint", "", "stream endpoint, overriding the configuration")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level, overriding the configuration")

	cmd.AddCommand(
		newWatchCmd(opts),
		newServeCmd(opts),
		newRenderCmd(opts),
		newImportCmd(opts),
		newReplayCmd(opts),
	)
	return cmd
}

// loader builds a configuration loader. Flag values and overrides act as
// environment variables so they survive hot reloads and are validated.
func (o *rootOptions) loader(overrides map[string]string) *config.Loader {
	env := make(map[string]string, len(overrides)+2)
	if o.endpoint != "" {
		env[config.EnvPrefix+"STREAM_ENDPOINT"] = o.endpoint
	}
	if o.logLevel != "" {
		env[config.EnvPrefix+"LOG_LEVEL"] = o.logLevel
	}
	for k, v := range overrides {
		env[config.EnvPrefix+k] = v
	}

	return config.NewLoader(o.configDir, config.EnvironmentFromEnv()).
		WithFile(o.configFile).
		WithLookupEnv(func(key string) (string, bool) {
			if v, ok := env[key]; ok {
				return v, true
			}
			return os.LookupEnv(key)
		})
}

func (o *rootOptions) load(overrides map[string]string) (*config.Config, *config.Loader, error) {
	loader := o.loader(overrides)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}
