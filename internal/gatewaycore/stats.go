package gatewaycore

import "sync"

// metrics is the gateway's runtime_metrics bundle (spec.md §4.5).
type metrics struct {
	mu sync.Mutex

	pollsCompleted         int64
	pollsFailed            int64
	stateMergesSuccessful  int64
	stateMergesFailed      int64
	staleStateSkips        int64
	httpRetries            int64
	totalConvergenceEvents int64
}

func (m *metrics) incPollsCompleted()         { m.mu.Lock(); m.pollsCompleted++; m.mu.Unlock() }
func (m *metrics) incPollsFailed()            { m.mu.Lock(); m.pollsFailed++; m.mu.Unlock() }
func (m *metrics) incStateMergesSuccessful()  { m.mu.Lock(); m.stateMergesSuccessful++; m.mu.Unlock() }
func (m *metrics) incStateMergesFailed()      { m.mu.Lock(); m.stateMergesFailed++; m.mu.Unlock() }
func (m *metrics) incStaleStateSkips()        { m.mu.Lock(); m.staleStateSkips++; m.mu.Unlock() }
func (m *metrics) addHTTPRetries(n int64)     { m.mu.Lock(); m.httpRetries += n; m.mu.Unlock() }
func (m *metrics) incTotalConvergenceEvents() { m.mu.Lock(); m.totalConvergenceEvents++; m.mu.Unlock() }

// Metrics is an immutable snapshot of the gateway's runtime_metrics bundle.
type Metrics struct {
	PollsCompleted         int64 `json:"polls_completed"`
	PollsFailed            int64 `json:"polls_failed"`
	StateMergesSuccessful  int64 `json:"state_merges_successful"`
	StateMergesFailed      int64 `json:"state_merges_failed"`
	StaleStateSkips        int64 `json:"stale_state_skips"`
	HTTPRetries            int64 `json:"http_retries"`
	TotalConvergenceEvents int64 `json:"total_convergence_events"`
}

// Snapshot returns a copy of the current metrics.
func (m *metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		PollsCompleted:         m.pollsCompleted,
		PollsFailed:            m.pollsFailed,
		StateMergesSuccessful:  m.stateMergesSuccessful,
		StateMergesFailed:      m.stateMergesFailed,
		StaleStateSkips:        m.staleStateSkips,
		HTTPRetries:            m.httpRetries,
		TotalConvergenceEvents: m.totalConvergenceEvents,
	}
}
