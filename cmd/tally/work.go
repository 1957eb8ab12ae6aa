package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rfratto/tally/config"
	"github.com/rfratto/tally/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func cmdWork(configFile *string) *cobra.Command {
	var (
		peers       []string
		concurrency int
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Processes chunks handed out by the cluster until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configFile, map[string]func(*config.Config){
				"peers":       func(c *config.Config) { c.Bootstrap.Peers = peers },
				"concurrency": func(c *config.Config) { c.Worker.Concurrency = concurrency },
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

			w, err := worker.New(worker.Options{
				ID:              cfg.Worker.ID,
				Log:             l,
				Pool:            pool,
				Bootstrap:       bs,
				Concurrency:     cfg.Worker.Concurrency,
				IdleInterval:    cfg.Worker.IdleInterval,
				RefreshInterval: cfg.Worker.RefreshInterval,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if !quiet {
				go reportProgress(ctx, w)
			}
			if err := w.Run(ctx); err != nil {
				return err
			}

			st := w.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "\nworker %s: %s chunks processed, %s duplicates, %s failed, value %s\n",
				w.ID(), humanize.Comma(st.Processed), humanize.Comma(st.Duplicates), humanize.Comma(st.Failed), humanize.Comma(st.Value))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&peers, "peers", nil, "Peer URLs to pull work from. Replaces the configured bootstrap peers")
	cmd.Flags().IntVar(&concurrency, "concurrency", config.Default().Worker.Concurrency, "Number of concurrent work loops")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Disable the progress spinner")

	return cmd
}

// reportProgress renders a spinner with the number of processed chunks until
// ctx is canceled.
func reportProgress(ctx context.Context, w *worker.Worker) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("processing chunks"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
	)
	defer func() { _ = bar.Finish() }()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = bar.Set(int(w.Stats().Processed))
		}
	}
}
