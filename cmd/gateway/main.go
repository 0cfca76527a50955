// Command gateway polls registered edge nodes, tracks divergence, and
// persists merged mesh state snapshots.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/config"
	"github.com/shghadge/collaborative-edge-mesh/internal/gatewaycore"
	"github.com/shghadge/collaborative-edge-mesh/internal/snapshot/memsink"
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

	sink := memsink.New(0)
	engine := gatewaycore.New(gatewaycore.Config{
		PollInterval:       cfg.GatewayPollInterval,
		HTTPTimeout:        5 * time.Second,
		MaxRetries:         cfg.GatewayHTTPRetries,
		BackoffMillis:      cfg.GatewayHTTPRetryBackoff,
		NodeFailureBackoff: cfg.GatewayNodeFailureBackoff,
		Logger:             logger,
	}, sink)

	for _, entry := range cfg.EdgeNodes {
		host, port, ok := strings.Cut(entry, ":")
		if !ok {
			logger.Warn("edge_node_entry_invalid", "entry", entry)
			continue
		}
		engine.RegisterNode(host, fmt.Sprintf("http://%s:%s", host, port))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.GetStatus())
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.MergedState().Serialize())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}

	go func() {
		logger.Info("gateway_listening", "addr", srv.Addr)
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
