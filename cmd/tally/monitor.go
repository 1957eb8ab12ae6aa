package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rfratto/tally/config"
	"github.com/rfratto/tally/monitor"
	"github.com/spf13/cobra"
)

func cmdMonitor(configFile *string) *cobra.Command {
	var (
		peers        []string
		pollInterval time.Duration
		maxWait      time.Duration
		stableRounds int
	)

	cmd := &cobra.Command{
		Use:   "monitor [path or url]",
		Short: "Submits a file to the cluster and follows its total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configFile, map[string]func(*config.Config){
				"peers":         func(c *config.Config) { c.Bootstrap.Peers = peers },
				"poll-interval": func(c *config.Config) { c.Monitor.PollInterval = pollInterval },
				"max-wait":      func(c *config.Config) { c.Monitor.MaxWait = maxWait },
				"stable-rounds": func(c *config.Config) { c.Monitor.StableRounds = stableRounds },
			})
			if err != nil {
				return err
			}

			l, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			pool, err := newPool(l, cfg.Client)
			if err != nil {
				return err
			}
			defer pool.Close()

			bs, err := cfg.Bootstrap.Provider()
			if err != nil {
				return err
			}

			m, err := monitor.New(monitor.Options{
				Log:          l,
				Pool:         pool,
				Bootstrap:    bs,
				ProbeTimeout: cfg.Monitor.ProbeTimeout,
				PollInterval: cfg.Monitor.PollInterval,
				MaxWait:      cfg.Monitor.MaxWait,
				StableRounds: cfg.Monitor.StableRounds,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := m.Run(ctx, args[0])
			switch {
			case errors.Is(err, context.Canceled):
				fmt.Fprintln(cmd.OutOrStdout(), "interrupted")
			case errors.Is(err, monitor.ErrTimeoutExceeded):
				fmt.Fprintf(cmd.OutOrStdout(), "timed out after %s\n", cfg.Monitor.MaxWait)
			case err != nil:
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "file %s: total %s (%s)\n",
				res.FileID, humanize.Comma(res.Total), res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	def := config.Default().Monitor
	cmd.Flags().StringSliceVar(&peers, "peers", nil, "Peer URLs to probe. Replaces the configured bootstrap peers")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", def.PollInterval, "Delay between total polls")
	cmd.Flags().DurationVar(&maxWait, "max-wait", def.MaxWait, "Maximum time to follow the total")
	cmd.Flags().IntVar(&stableRounds, "stable-rounds", def.StableRounds, "Stop once the total is unchanged for this many polls. 0 follows until interrupted")

	return cmd
}
