package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rfratto/tally"
	"github.com/rfratto/tally/advertise"
	"github.com/rfratto/tally/api"
	"github.com/rfratto/tally/config"
	"github.com/spf13/cobra"
)

func cmdServe(configFile *string) *cobra.Command {
	var (
		listenAddr   string
		advertiseURL string
		joinAddrs    []string
		chunkSize    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs a tally node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configFile, map[string]func(*config.Config){
				"listen-addr":   func(c *config.Config) { c.Server.ListenAddr = listenAddr },
				"advertise-url": func(c *config.Config) { c.Server.AdvertiseURL = advertiseURL },
				"join":          func(c *config.Config) { c.Bootstrap.Peers = joinAddrs },
				"chunk-size":    func(c *config.Config) { c.Node.ChunkSize = chunkSize },
			})
			if err != nil {
				return err
			}

			l, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, l, cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen-addr", config.Default().Server.ListenAddr, "Address to listen for API traffic on")
	cmd.Flags().StringVar(&advertiseURL, "advertise-url", "", "URL to advertise to peers. Inferred from the listen address if empty")
	cmd.Flags().StringSliceVar(&joinAddrs, "join", nil, "Peer URLs to announce to on startup")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", tally.DefaultChunkSize, "Maximum chunk size in bytes")

	return cmd
}

func serve(ctx context.Context, l log.Logger, cfg config.Config) error {
	pool, err := newPool(log.With(l, "component", "clientpool"), cfg.Client)
	if err != nil {
		return err
	}
	defer pool.Close()

	bs, err := cfg.Bootstrap.Provider()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer lis.Close()

	advertiseURL := cfg.Server.AdvertiseURL
	if advertiseURL == "" {
		advertiseURL, err = advertise.URL(lis.Addr().String(), cfg.Server.Interfaces)
		if err != nil {
			return fmt.Errorf("failed to find advertise URL: %w", err)
		}
	}

	node, err := tally.NewNode(tally.Config{
		AdvertiseURL:      advertiseURL,
		Log:               log.With(l, "component", "node"),
		Pool:              pool,
		Bootstrap:         bs,
		ChunkSize:         cfg.Node.ChunkSize,
		WindowSize:        cfg.Node.WindowSize,
		DiscoveryInterval: cfg.Node.DiscoveryInterval,
		GossipInterval:    cfg.Node.GossipInterval,
		RequestTimeout:    cfg.Node.RequestTimeout,
		PropagateTimeout:  cfg.Node.PropagateTimeout,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		node.Metrics(),
		pool.Metrics(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := mux.NewRouter()
	api.New(node, r, api.Options{Log: log.With(l, "component", "api"), Gatherer: reg})

	srv := &http.Server{
		Handler:  api.Handler(r),
		ErrorLog: tally.NewHTTPErrorLog(log.With(l, "component", "http")),
	}

	serveErr := make(chan error, 1)
	go func() {
		level.Info(l).Log("msg", "listening", "addr", lis.Addr(), "advertise_url", advertiseURL)
		serveErr <- srv.Serve(lis)
	}()

	if err := node.Start(); err != nil {
		_ = srv.Close()
		return fmt.Errorf("failed to start node: %w", err)
	}

	select {
	case <-ctx.Done():
		level.Info(l).Log("msg", "shutting down...")
	case err := <-serveErr:
		level.Error(l).Log("msg", "server exited", "err", err)
	}

	if err := node.Stop(); err != nil {
		level.Warn(l).Log("msg", "failed to stop node", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
