// Package memsink is a bounded in-memory snapshot.Sink, used by
// default when no external store is configured. History is capped the
// same way the edge cache's LRU store bounds entry count: a fixed
// capacity with oldest-first eviction, just keyed by insertion order
// instead of recency-of-access.
package memsink

import (
	"context"
	"sync"

	"github.com/shghadge/collaborative-edge-mesh/internal/snapshot"
)

const defaultCapacity = 200

// Sink is a capacity-bounded, mutex-guarded snapshot.Sink.
type Sink struct {
	mu sync.RWMutex

	capacity int

	snapshots   []snapshot.Snapshot
	divergences []snapshot.DivergenceRecord
	metrics     map[string][]snapshot.Metric
}

// New returns a Sink holding up to capacity entries per collection.
// capacity <= 0 uses defaultCapacity.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Sink{
		capacity: capacity,
		metrics:  make(map[string][]snapshot.Metric),
	}
}

func (s *Sink) SaveSnapshot(_ context.Context, snap snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = appendBounded(s.snapshots, snap, s.capacity)
	return nil
}

func (s *Sink) GetLatestSnapshot(_ context.Context) (snapshot.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return snapshot.Snapshot{}, false, nil
	}
	return s.snapshots[len(s.snapshots)-1], true, nil
}

func (s *Sink) GetSnapshotHistory(_ context.Context, limit int) ([]snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.snapshots, limit), nil
}

func (s *Sink) LogDivergence(_ context.Context, d snapshot.DivergenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.divergences = appendBounded(s.divergences, d, s.capacity)
	return nil
}

func (s *Sink) GetDivergenceLog(_ context.Context, limit int) ([]snapshot.DivergenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.divergences, limit), nil
}

func (s *Sink) SaveMetric(_ context.Context, m snapshot.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.Name] = appendBounded(s.metrics[m.Name], m, s.capacity)
	return nil
}

func (s *Sink) GetMetrics(_ context.Context, name string, limit int) ([]snapshot.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.metrics[name], limit), nil
}

func appendBounded[T any](items []T, item T, capacity int) []T {
	items = append(items, item)
	if len(items) > capacity {
		items = items[len(items)-capacity:]
	}
	return items
}

func lastN[T any](items []T, limit int) []T {
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	out := make([]T, limit)
	copy(out, items[len(items)-limit:])
	return out
}
