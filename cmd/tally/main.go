// Command tally runs tally nodes, workers, and monitors.
package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/tally/clientpool"
	"github.com/rfratto/tally/config"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:          "tally",
		Short:        "Decentralized chunked file scanning",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config.file", "", "YAML configuration file to load")
	cmd.PersistentFlags().String("log.level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		cmdServe(&configFile),
		cmdMonitor(&configFile),
		cmdWork(&configFile),
	)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the configuration file and environment, then applies the
// flags the user explicitly set. Flags left at their defaults never override
// the file or the environment.
func loadConfig(cmd *cobra.Command, path string, overrides map[string]func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("log.level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log.level")
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply(&cfg)
		}
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) (log.Logger, error) {
	opt, err := cfg.LevelOption()
	if err != nil {
		return nil, err
	}

	var l log.Logger
	w := log.NewSyncWriter(os.Stderr)
	switch cfg.Format {
	case "json":
		l = log.NewJSONLogger(w)
	default:
		l = log.NewLogfmtLogger(w)
	}

	l = level.NewFilter(l, opt)
	return log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}

func newPool(l log.Logger, cfg config.ClientConfig) (*clientpool.Pool, error) {
	opts := cfg.PoolOptions()
	opts.Log = l
	pool, err := clientpool.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client pool: %w", err)
	}
	return pool, nil
}
