// Command node runs a single edge mesh node: it accepts events over
// HTTP, maintains convergent state and a tamper-evident log, and
// gossips with its peers over UDP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shghadge/collaborative-edge-mesh/internal/chainlog"
	"github.com/shghadge/collaborative-edge-mesh/internal/config"
	"github.com/shghadge/collaborative-edge-mesh/internal/gossip"
	"github.com/shghadge/collaborative-edge-mesh/internal/httpapi"
	"github.com/shghadge/collaborative-edge-mesh/internal/meshstate"
	"github.com/shghadge/collaborative-edge-mesh/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	envFile := ".env"
	if len(os.Args) > 1 {
		envFile = os.Args[1]
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger = logger.With("node_id", cfg.NodeID)

	state := meshstate.New(cfg.NodeID)
	chain := chainlog.New()

	registry := prometheus.NewRegistry()
	gossipMetrics := telemetry.NewGossipMetrics(registry, cfg.NodeID)

	engine := gossip.New(gossip.Config{
		NodeID:   cfg.NodeID,
		Port:     cfg.GossipPort,
		Peers:    cfg.Peers,
		Interval: cfg.GossipInterval,
		Logger:   logger,
		Metrics:  gossipMetrics,
	}, state)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		logger.Error("gossip_start_failed", "error", err)
		os.Exit(1)
	}

	router := httpapi.NewRouter(&httpapi.Node{
		NodeID:   cfg.NodeID,
		State:    state,
		Chain:    chain,
		Gossip:   engine,
		Logger:   logger,
		Registry: registry,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("node_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http_server_failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
}
