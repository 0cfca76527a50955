package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/meshstate"
)

// Metrics is implemented by internal/telemetry to export gossip
// activity as Prometheus counters/histograms without this package
// importing the client library directly.
type Metrics interface {
	ObserveSend(messageType string, bytes int, err error)
	ObserveReceive(messageType string, bytes int)
	ObserveMerge(elapsed time.Duration, changed bool)
	ObserveMerkleMismatch()
}

type noopMetrics struct{}

func (noopMetrics) ObserveSend(string, int, error)      {}
func (noopMetrics) ObserveReceive(string, int)          {}
func (noopMetrics) ObserveMerge(time.Duration, bool)    {}
func (noopMetrics) ObserveMerkleMismatch()              {}

// Config configures a single node's gossip Engine.
type Config struct {
	NodeID   string
	Port     int
	Peers    []string
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  Metrics
}

// Engine owns one UDP socket and runs a broadcast loop plus a receive
// loop against a shared meshstate.State. Exactly one Engine should
// exist per node process.
type Engine struct {
	nodeID   string
	port     int
	peers    []string
	interval time.Duration
	logger   *slog.Logger
	metrics  Metrics

	state *meshstate.State
	stats *Stats

	conn net.PacketConn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine bound to state. The socket is not opened
// until Start is called.
func New(cfg Config, state *meshstate.State) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Engine{
		nodeID:   cfg.NodeID,
		port:     cfg.Port,
		peers:    cfg.Peers,
		interval: interval,
		logger:   logger.With("component", "gossip", "node_id", cfg.NodeID),
		metrics:  metrics,
		state:    state,
		stats:    &Stats{},
	}
}

// Start opens the UDP socket and launches the broadcast and receive
// goroutines. It blocks until the socket is bound, then returns; the
// loops keep running until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", e.port))
	if err != nil {
		return fmt.Errorf("gossip: listen on port %d: %w", e.port, err)
	}
	e.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.logger.Info("gossip_started", "port", e.port, "peers", e.peers)

	e.wg.Add(2)
	go e.broadcastLoop(runCtx)
	go e.receiveLoop(runCtx)

	return nil
}

// Stop cancels both loops and closes the socket, waiting for them to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.wg.Wait()
}

// Stats returns a point-in-time snapshot of gossip activity counters.
func (e *Engine) Stats() Snapshot {
	return e.stats.Snapshot()
}

func (e *Engine) broadcastLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.broadcastOnce()
		}
	}
}

func (e *Engine) broadcastOnce() {
	e.stats.recordBroadcastCycle()

	wire := e.state.Serialize()
	envelope := Envelope{
		Type:         TypeStateSync,
		Reason:       "periodic_sync",
		Sender:       e.nodeID,
		State:        &wire,
		StateSummary: wire.StateSummary,
	}

	msg, err := json.Marshal(envelope)
	if err != nil {
		e.logger.Error("broadcast_encode_failed", "error", err)
		return
	}
	msgType := TypeStateSync

	if len(msg) > MaxPacketBytes {
		digest := Envelope{
			Type:         TypeMerkleOnly,
			Reason:       "state_too_large_for_udp",
			Sender:       e.nodeID,
			MerkleRoot:   wire.MerkleRoot,
			EventCount:   int64(len(wire.EventIDs)),
			StateSummary: wire.StateSummary,
		}
		msg, err = json.Marshal(digest)
		if err != nil {
			e.logger.Error("broadcast_encode_failed", "error", err)
			return
		}
		msgType = TypeMerkleOnly
	}

	for _, peer := range e.peers {
		addr, err := parsePeer(peer)
		if err != nil {
			e.logger.Debug("gossip_peer_invalid", "peer", peer, "error", err)
			continue
		}
		n, err := e.conn.WriteTo(msg, addr)
		e.stats.recordSend(n, msgType, err)
		e.metrics.ObserveSend(msgType, n, err)
		if err != nil {
			e.logger.Debug("gossip_send_failed", "peer", peer, "error", err)
		}
	}
}

func (e *Engine) receiveLoop(ctx context.Context) {
	defer e.wg.Done()
	buf := make([]byte, MaxPacketBytes+4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if pc, ok := e.conn.(interface {
			SetReadDeadline(time.Time) error
		}); ok {
			_ = pc.SetReadDeadline(time.Now().Add(time.Second))
		}

		n, _, err := e.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isTimeout(err) {
				continue
			}
			e.stats.recordError()
			e.logger.Debug("gossip_receive_error", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		e.handle(data)
	}
}

func (e *Engine) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.stats.recordError()
		e.logger.Debug("gossip_decode_failed", "error", err)
		return
	}

	e.stats.recordReceive(len(data), env.Type)
	e.metrics.ObserveReceive(env.Type, len(data))

	if env.Sender == e.nodeID {
		return
	}

	switch env.Type {
	case TypeStateSync:
		e.handleStateSync(env)
	case TypeMerkleOnly:
		e.handleMerkleOnly(env)
	default:
		e.logger.Debug("gossip_unknown_type", "type", env.Type, "sender", env.Sender)
	}
}

func (e *Engine) handleStateSync(env Envelope) {
	if env.State == nil {
		return
	}
	incoming := meshstate.Deserialize(*env.State)

	oldRoot := e.state.Fingerprint()
	started := time.Now()
	e.state.Merge(incoming)
	newRoot := e.state.Fingerprint()
	elapsed := time.Since(started)

	changed := oldRoot != newRoot
	e.stats.recordMerge(float64(elapsed.Microseconds())/1000.0, changed)
	e.metrics.ObserveMerge(elapsed, changed)

	if changed {
		e.logger.Info("gossip_merged",
			"from_node", env.Sender,
			"reason", env.Reason,
			"old_root", shortRoot(oldRoot),
			"new_root", shortRoot(newRoot),
		)
	}
}

func (e *Engine) handleMerkleOnly(env Envelope) {
	ours := e.state.Fingerprint()
	if env.MerkleRoot != ours {
		e.stats.recordMerkleMismatch()
		e.metrics.ObserveMerkleMismatch()
		e.logger.Info("merkle_mismatch",
			"from_node", env.Sender,
			"reason", env.Reason,
			"ours", shortRoot(ours),
			"theirs", shortRoot(env.MerkleRoot),
			"their_event_count", env.EventCount,
		)
	}
}

func shortRoot(root string) string {
	if len(root) > 12 {
		return root[:12]
	}
	return root
}

// parsePeer accepts "host:port", defaulting to port 9000 if absent.
func parsePeer(peer string) (net.Addr, error) {
	idx := strings.LastIndex(peer, ":")
	host, portStr := peer, "9000"
	if idx >= 0 {
		host, portStr = peer[:idx], peer[idx+1:]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("gossip: invalid peer port %q: %w", peer, err)
	}
	return net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
