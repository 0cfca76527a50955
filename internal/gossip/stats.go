package gossip

import (
	"sync"
	"time"
)

// Stats mirrors the counters the node's /status endpoint surfaces to
// operators. All fields are read through Snapshot, never directly.
type Stats struct {
	mu sync.Mutex

	Sent                 int64
	Received             int64
	Merged               int64
	Errors               int64
	SentBytes            int64
	ReceivedBytes        int64
	BroadcastCycles      int64
	StateSyncSent        int64
	MerkleOnlySent       int64
	MerkleMismatches     int64
	MergeTimeMsTotal     float64
	LastMergeMs          float64
	LastMessageType      string
	LastMessageAt        time.Time
	LastSuccessfulMergeAt time.Time
}

// Snapshot is a point-in-time, allocation-free-to-read copy of Stats
// plus the derived average merge duration.
type Snapshot struct {
	Sent                  int64     `json:"sent"`
	Received              int64     `json:"received"`
	Merged                int64     `json:"merged"`
	Errors                int64     `json:"errors"`
	SentBytes             int64     `json:"sent_bytes"`
	ReceivedBytes         int64     `json:"received_bytes"`
	BroadcastCycles       int64     `json:"broadcast_cycles"`
	StateSyncSent         int64     `json:"state_sync_sent"`
	MerkleOnlySent        int64     `json:"merkle_only_sent"`
	MerkleMismatches      int64     `json:"merkle_mismatches"`
	MergeTimeMsTotal      float64   `json:"merge_time_ms_total"`
	LastMergeMs           float64   `json:"last_merge_ms"`
	LastMessageType       string    `json:"last_message_type,omitempty"`
	LastMessageAt         time.Time `json:"last_message_at,omitempty"`
	LastSuccessfulMergeAt time.Time `json:"last_successful_merge_at,omitempty"`
	AvgMergeMs            float64   `json:"avg_merge_ms"`
}

func (s *Stats) recordSend(n int, msgType string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.Errors++
		return
	}
	s.Sent++
	s.SentBytes += int64(n)
	if msgType == TypeStateSync {
		s.StateSyncSent++
	} else {
		s.MerkleOnlySent++
	}
}

func (s *Stats) recordBroadcastCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BroadcastCycles++
}

func (s *Stats) recordReceive(n int, msgType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Received++
	s.ReceivedBytes += int64(n)
	s.LastMessageType = msgType
	s.LastMessageAt = time.Now()
}

func (s *Stats) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors++
}

func (s *Stats) recordMerge(elapsedMs float64, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if changed {
		s.LastMergeMs = elapsedMs
		s.MergeTimeMsTotal += elapsedMs
		s.Merged++
		s.LastSuccessfulMergeAt = time.Now()
	}
}

func (s *Stats) recordMerkleMismatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MerkleMismatches++
}

// Snapshot returns a copy of the current stats with avg_merge_ms derived.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg float64
	if s.Merged > 0 {
		avg = s.MergeTimeMsTotal / float64(s.Merged)
	}

	return Snapshot{
		Sent:                  s.Sent,
		Received:              s.Received,
		Merged:                s.Merged,
		Errors:                s.Errors,
		SentBytes:             s.SentBytes,
		ReceivedBytes:         s.ReceivedBytes,
		BroadcastCycles:       s.BroadcastCycles,
		StateSyncSent:         s.StateSyncSent,
		MerkleOnlySent:        s.MerkleOnlySent,
		MerkleMismatches:      s.MerkleMismatches,
		MergeTimeMsTotal:      s.MergeTimeMsTotal,
		LastMergeMs:           s.LastMergeMs,
		LastMessageType:       s.LastMessageType,
		LastMessageAt:         s.LastMessageAt,
		LastSuccessfulMergeAt: s.LastSuccessfulMergeAt,
		AvgMergeMs:            avg,
	}
}
