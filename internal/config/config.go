// Package config loads node and gateway configuration from the
// environment, optionally seeded from a .env file via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable a node or gateway process reads at
// startup. Fields unused by a given process (e.g. GossipPort in the
// gateway) are simply ignored.
type Config struct {
	NodeID              string
	HTTPPort            int
	GossipPort          int
	GossipInterval      time.Duration
	GatewayPollInterval time.Duration
	DataDir             string
	LogLevel            string

	GatewayHTTPRetries         uint64
	GatewayHTTPRetryBackoff    time.Duration
	GatewayNodeFailureBackoff  time.Duration

	Peers     []string
	EdgeNodes []string
}

// Load reads .env (if present, missing is not an error) then overlays
// environment variables, matching the precedence godotenv.Load gives:
// an already-set OS env var is never overwritten.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	cfg := Config{
		NodeID:                    getString("NODE_ID", "node-1"),
		HTTPPort:                  getInt("HTTP_PORT", 8000),
		GossipPort:                getInt("GOSSIP_PORT", 9000),
		GossipInterval:            getSeconds("GOSSIP_INTERVAL", 5),
		GatewayPollInterval:       getSeconds("GATEWAY_POLL_INTERVAL", 10),
		DataDir:                   getString("DATA_DIR", "/data"),
		LogLevel:                  getString("LOG_LEVEL", "INFO"),
		GatewayHTTPRetries:        uint64(maxInt(getInt("GATEWAY_HTTP_RETRIES", 2), 1)),
		GatewayHTTPRetryBackoff:   time.Duration(maxInt(getInt("GATEWAY_HTTP_RETRY_BACKOFF_MS", 150), 0)) * time.Millisecond,
		GatewayNodeFailureBackoff: getSeconds("GATEWAY_NODE_FAILURE_BACKOFF", 2),
		Peers:                     splitList(os.Getenv("PEER_NODES")),
		EdgeNodes:                 splitList(os.Getenv("EDGE_NODES")),
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getSeconds(key string, fallbackSeconds float64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallbackSeconds * float64(time.Second))
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Duration(fallbackSeconds * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
