// Package gatewaycore implements the gateway poll/merge engine (spec
// component C5): it polls registered edge nodes over HTTP, detects
// merkle-root divergence, merges reachable node state into one
// aggregate view, and hands snapshots and metrics to a snapshot.Sink.
package gatewaycore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shghadge/collaborative-edge-mesh/internal/meshstate"
	"github.com/shghadge/collaborative-edge-mesh/internal/snapshot"
)

// gatewayNodeID is the owner ID the gateway's own aggregate State is
// created under. RegisterNode does not validate node IDs; the aggregate
// only ever receives state through Merge, which never consults the
// owner ID, and the fingerprint ignores it.
const gatewayNodeID = "gateway"

// nodeInfo tracks what the gateway knows about one registered edge node,
// mirroring the edge_nodes entry shape (url, last_merkle, last_version)
// plus the node_health bookkeeping (consecutive_failures, backoff_until).
type nodeInfo struct {
	URL              string
	LastMerkle       string
	LastVersion      int64
	ConsecutiveFails int
	BackoffUntil     time.Time
}

// Config configures a gateway Engine.
type Config struct {
	PollInterval       time.Duration
	HTTPTimeout        time.Duration
	MaxRetries         uint64
	BackoffMillis      time.Duration
	NodeFailureBackoff time.Duration
	Logger             *slog.Logger
	HTTPClient         *http.Client
}

// Engine polls edge nodes and maintains one merged aggregate State.
type Engine struct {
	cfg    Config
	sink   snapshot.Sink
	logger *slog.Logger
	client *http.Client

	mu          sync.Mutex
	nodes       map[string]*nodeInfo
	merged      *meshstate.State
	isDivergent bool
	divergedAt  time.Time
	lastPoll    time.Time
	pollCount   int64
	metrics     metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a gateway Engine backed by sink.
func New(cfg Config, sink snapshot.Sink) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffMillis <= 0 {
		cfg.BackoffMillis = 200 * time.Millisecond
	}
	if cfg.NodeFailureBackoff <= 0 {
		cfg.NodeFailureBackoff = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Engine{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "gateway"),
		client: client,
		nodes:  make(map[string]*nodeInfo),
		merged: meshstate.New(gatewayNodeID),
	}
}

// RegisterNode adds or replaces a polled edge node.
func (e *Engine) RegisterNode(nodeID, url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes[nodeID] = &nodeInfo{URL: url}
	e.logger.Info("node_registered", "node_id", nodeID, "url", url)
}

// UnregisterNode removes a polled edge node.
func (e *Engine) UnregisterNode(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.nodes, nodeID)
	e.logger.Info("node_unregistered", "node_id", nodeID)
}

// Start launches the continuous polling loop. It returns immediately;
// polling runs until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.logger.Info("gateway_polling_started", "interval", e.cfg.PollInterval, "nodes", e.nodeIDs())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			e.PollOnce(runCtx)
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) nodeIDs() []string {
	ids := make([]string, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type merkleResponse struct {
	MerkleRoot string `json:"merkle_root"`
}

// PollOnce fetches merkle roots from every registered node, determines
// divergence, then fetches and merges full state from every reachable
// node, persisting a snapshot and metrics via the sink. It is safe to
// call directly (e.g. from tests or an on-demand HTTP trigger) outside
// the scheduled loop.
func (e *Engine) PollOnce(ctx context.Context) {
	e.mu.Lock()
	if len(e.nodes) == 0 {
		e.mu.Unlock()
		return
	}
	nodeURLs := make(map[string]string, len(e.nodes))
	skipped := make(map[string]struct{})
	now := time.Now()
	for id, info := range e.nodes {
		if now.Before(info.BackoffUntil) {
			skipped[id] = struct{}{}
			continue
		}
		nodeURLs[id] = info.URL
	}
	e.mu.Unlock()

	ok := e.pollOnceLocked(ctx, nodeURLs, skipped)

	e.mu.Lock()
	e.lastPoll = time.Now()
	e.pollCount++
	e.mu.Unlock()

	if ok {
		e.metrics.incPollsCompleted()
	} else {
		e.metrics.incPollsFailed()
	}
}

// pollOnceLocked performs one poll/merge cycle against the given set of
// not-backed-off node URLs, returning false if a step-boundary error
// left the poll incomplete (per spec.md §4.5 step 9).
func (e *Engine) pollOnceLocked(ctx context.Context, nodeURLs map[string]string, skipped map[string]struct{}) bool {
	merkleRoots := make(map[string]string, len(nodeURLs)+len(skipped))
	for nodeID := range skipped {
		merkleRoots[nodeID] = "backed_off"
	}

	for nodeID, url := range nodeURLs {
		root, retries, err := e.fetchMerkle(ctx, url)
		e.metrics.addHTTPRetries(retries)
		if err != nil {
			e.logger.Warn("poll_failed", "node", nodeID, "error", err)
			merkleRoots[nodeID] = "unreachable"
			e.recordFailure(nodeID)
			continue
		}
		merkleRoots[nodeID] = root
		e.recordSuccess(nodeID, root)
	}

	reachable := make(map[string]string)
	unique := make(map[string]struct{})
	for id, root := range merkleRoots {
		if root == "unreachable" || root == "backed_off" {
			continue
		}
		reachable[id] = root
		unique[root] = struct{}{}
	}

	divergent := len(unique) > 1
	e.setDivergent(divergent)

	if err := e.sink.LogDivergence(ctx, snapshot.DivergenceRecord{
		Divergent:   divergent,
		MerkleRoots: merkleRoots,
		RecordedAt:  time.Now(),
	}); err != nil {
		e.logger.Warn("divergence_log_failed", "error", err)
		return false
	}
	if divergent {
		e.logger.Warn("divergence_detected", "roots", merkleRoots)
	}

	start := time.Now()
	reachableIDs := make([]string, 0, len(reachable))
	for nodeID := range reachable {
		url := nodeURLs[nodeID]
		state, retries, err := e.fetchState(ctx, url)
		e.metrics.addHTTPRetries(retries)
		if err != nil {
			e.logger.Warn("state_fetch_failed", "node", nodeID, "error", err)
			e.metrics.incStateMergesFailed()
			continue
		}
		e.mergeState(nodeID, state)
		reachableIDs = append(reachableIDs, nodeID)
	}
	sort.Strings(reachableIDs)
	mergeElapsed := time.Since(start)

	if len(reachableIDs) > 0 {
		e.saveSnapshot(ctx, reachableIDs, mergeElapsed, divergent)
	}

	e.logger.Info("poll_complete",
		"nodes", len(reachableIDs),
		"divergent", divergent,
		"merge_ms", float64(mergeElapsed.Microseconds())/1000.0,
	)
	return true
}

func (e *Engine) fetchMerkle(ctx context.Context, baseURL string) (string, int64, error) {
	var result merkleResponse
	retries, err := e.getWithRetry(ctx, baseURL+"/state/merkle", &result)
	return result.MerkleRoot, retries, err
}

func (e *Engine) fetchState(ctx context.Context, baseURL string) (*meshstate.State, int64, error) {
	var wire meshstate.Wire
	retries, err := e.getWithRetry(ctx, baseURL+"/state", &wire)
	if err != nil {
		return nil, retries, err
	}
	return meshstate.Deserialize(wire), retries, nil
}

// getWithRetry performs an HTTP GET and decodes the JSON body into
// out, retrying transient failures with exponential backoff
// (cenkalti/backoff) up to cfg.MaxRetries attempts. It returns the
// number of retries actually spent (attempts beyond the first).
func (e *Engine) getWithRetry(ctx context.Context, url string, out any) (int64, error) {
	maxRetries := e.cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 1
	}
	// WithMaxRetries counts retries after the first attempt, so the
	// total number of attempts is maxRetries.
	policy := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(e.cfg.BackoffMillis),
		),
		maxRetries-1,
	)
	policy = backoff.WithContext(policy, ctx)

	var attempts int64
	err := backoff.Retry(func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("gatewaycore: %s returned %d", url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("gatewaycore: %s returned %d", url, resp.StatusCode))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}, policy)

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	return retries, err
}

// recordFailure marks a node's final retry failure: it bumps
// consecutive_failures and sets backoff_until per the retry policy in
// spec.md §4.5, so that subsequent polls skip the node entirely until
// the backoff window elapses.
func (e *Engine) recordFailure(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.nodes[nodeID]; ok {
		info.ConsecutiveFails++
		info.BackoffUntil = time.Now().Add(e.cfg.NodeFailureBackoff * time.Duration(info.ConsecutiveFails))
	}
}

func (e *Engine) recordSuccess(nodeID, root string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.nodes[nodeID]; ok {
		info.LastMerkle = root
		info.ConsecutiveFails = 0
		info.BackoffUntil = time.Time{}
	}
}

// setDivergent updates the divergence flag, tracking divergence-duration
// metrics: a transition back to non-divergent increments
// total_convergence_events (spec.md §4.5 step 8).
func (e *Engine) setDivergent(divergent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasDivergent := e.isDivergent
	e.isDivergent = divergent
	if divergent && !wasDivergent {
		e.divergedAt = time.Now()
	}
	if !divergent && wasDivergent {
		e.divergedAt = time.Time{}
		e.metrics.incTotalConvergenceEvents()
	}
}

// mergeState merges incoming state from nodeID into the aggregate,
// unless its version is stale relative to the last version recorded
// for that node (spec.md §4.5 step 6, Testable Property #10).
func (e *Engine) mergeState(nodeID string, incoming *meshstate.State) {
	e.mu.Lock()
	merged := e.merged
	info, known := e.nodes[nodeID]
	if known && incoming.Version() < info.LastVersion {
		e.mu.Unlock()
		e.metrics.incStaleStateSkips()
		e.logger.Warn("stale_state_skipped", "node", nodeID, "incoming_version", incoming.Version(), "last_version", info.LastVersion)
		return
	}
	e.mu.Unlock()

	before := merged.Fingerprint()
	merged.Merge(incoming)
	after := merged.Fingerprint()

	e.mu.Lock()
	if known {
		info.LastVersion = incoming.Version()
	}
	e.mu.Unlock()

	if after != before {
		e.metrics.incStateMergesSuccessful()
	}
}

func (e *Engine) saveSnapshot(ctx context.Context, sourceNodes []string, mergeElapsed time.Duration, divergent bool) {
	e.mu.Lock()
	merged := e.merged
	e.mu.Unlock()

	wire := merged.Serialize()
	stateMap := map[string]any{
		"node_id":       wire.NodeID,
		"version":       wire.Version,
		"counters":      wire.Counters,
		"registers":     wire.Registers,
		"pn_counters":   wire.PNCounters,
		"sets":          wire.Sets,
		"event_ids":     wire.EventIDs,
		"state_summary": wire.StateSummary,
	}

	if err := e.sink.SaveSnapshot(ctx, snapshot.Snapshot{
		MerkleRoot:  wire.MerkleRoot,
		NodeCount:   len(sourceNodes),
		SourceNodes: sourceNodes,
		State:       stateMap,
		CapturedAt:  time.Now(),
	}); err != nil {
		e.logger.Warn("snapshot_save_failed", "error", err)
	}

	now := time.Now()
	metrics := []snapshot.Metric{
		{Name: "merge_time_ms", Value: float64(mergeElapsed.Microseconds()) / 1000.0, RecordedAt: now},
		{Name: "node_count", Value: float64(len(sourceNodes)), RecordedAt: now},
		{Name: "is_divergent", Value: boolToFloat(divergent), RecordedAt: now},
	}
	for _, m := range metrics {
		if err := e.sink.SaveMetric(ctx, m); err != nil {
			e.logger.Warn("metric_save_failed", "metric", m.Name, "error", err)
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Status is the JSON shape returned by the gateway's /status endpoint.
type Status struct {
	RegisteredNodes map[string]string `json:"registered_nodes"`
	IsDivergent     bool              `json:"is_divergent"`
	DivergedSince   *time.Time        `json:"diverged_since,omitempty"`
	LastPoll        *time.Time        `json:"last_poll,omitempty"`
	PollCount       int64             `json:"poll_count"`
	MergedMerkle    string            `json:"merged_merkle,omitempty"`
	Metrics         Metrics           `json:"runtime_metrics"`
}

// GetStatus returns a snapshot of the gateway's current view.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	registered := make(map[string]string, len(e.nodes))
	for id, info := range e.nodes {
		registered[id] = info.URL
	}
	isDivergent := e.isDivergent
	pollCount := e.pollCount
	divergedAt := e.divergedAt
	lastPoll := e.lastPoll
	merged := e.merged
	e.mu.Unlock()

	status := Status{
		RegisteredNodes: registered,
		IsDivergent:     isDivergent,
		PollCount:       pollCount,
		MergedMerkle:    merged.Fingerprint(),
		Metrics:         e.metrics.Snapshot(),
	}
	if !divergedAt.IsZero() {
		t := divergedAt
		status.DivergedSince = &t
	}
	if !lastPoll.IsZero() {
		t := lastPoll
		status.LastPoll = &t
	}
	return status
}

// MergedState exposes the gateway's aggregate State directly, e.g. for
// a /state handler mirroring a node's own endpoint.
func (e *Engine) MergedState() *meshstate.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merged
}
