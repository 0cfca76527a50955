// Package httpapi exposes a mesh node's state over HTTP using chi.
// The GET routes only read; POST /event and POST /merge change the
// node's state. The gateway's poll loop (internal/gatewaycore) is the
// only expected long-lived client.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shghadge/collaborative-edge-mesh/internal/chainlog"
	"github.com/shghadge/collaborative-edge-mesh/internal/gossip"
	"github.com/shghadge/collaborative-edge-mesh/internal/meshstate"
)

// Node bundles the dependencies a node's HTTP handlers need.
type Node struct {
	NodeID   string
	State    *meshstate.State
	Chain    *chainlog.Chain
	Gossip   *gossip.Engine
	Logger   *slog.Logger
	Registry *prometheus.Registry
	started  time.Time
}

// NewRouter builds the chi router for a single mesh node.
func NewRouter(n *Node) http.Handler {
	if n.Logger == nil {
		n.Logger = slog.Default()
	}
	n.started = time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(n.Logger))

	r.Get("/state", n.handleGetState)
	r.Get("/state/merkle", n.handleGetMerkle)
	r.Post("/event", n.handlePostEvent)
	r.Post("/merge", n.handlePostMerge)
	r.Get("/status", n.handleGetStatus)
	r.Get("/log", n.handleGetLog)
	r.Get("/health", n.handleHealth)

	if n.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(n.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http_request", "method", r.Method, "path", r.URL.Path, "elapsed_ms", time.Since(start).Milliseconds())
		})
	}
}

func (n *Node) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.State.Serialize())
}

func (n *Node) handleGetMerkle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":     n.NodeID,
		"merkle_root": n.State.Fingerprint(),
		"version":     n.State.Version(),
	})
}

func (n *Node) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var e meshstate.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if e.Category == "" {
		e.Category = meshstate.CategoryGeneral
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	stored, err := n.State.RecordEvent(e)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var logSequence int64
	entry, err := n.Chain.Append(e.ID, e.Type, e)
	if err != nil {
		n.Logger.Error("chain_append_failed", "error", err)
	} else {
		logSequence = entry.Sequence
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "recorded",
		"event_id":     e.ID,
		"category":     e.Category,
		"log_sequence": logSequence,
		"version":      n.State.Version(),
		"stored_in":    stored,
	})
}

func (n *Node) handlePostMerge(w http.ResponseWriter, r *http.Request) {
	var wire meshstate.Wire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid state payload")
		return
	}
	incoming := meshstate.Deserialize(wire)
	before := n.State.Fingerprint()
	n.State.Merge(incoming)
	after := n.State.Fingerprint()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "merged",
		"merged":      before != after,
		"version":     n.State.Version(),
		"merkle_root": after,
	})
}

func (n *Node) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"node_id":     n.NodeID,
		"version":     n.State.Version(),
		"updated_at":  n.State.UpdatedAt(),
		"merkle_root": n.State.Fingerprint(),
		"uptime_s":    time.Since(n.started).Seconds(),
		"summary":     n.State.StateSummary(),
		"chain_len":   n.Chain.Len(),
	}
	if n.Gossip != nil {
		status["gossip"] = n.Gossip.Stats()
	}
	writeJSON(w, http.StatusOK, status)
}

func (n *Node) handleGetLog(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if s := r.URL.Query().Get("since"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			since = parsed
		}
	}
	entries := n.Chain.EntriesSince(since)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"verified": func() bool {
			return n.Chain.Verify() == nil
		}(),
	})
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
