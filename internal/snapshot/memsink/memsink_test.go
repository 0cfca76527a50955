package memsink_test

import (
	"context"
	"testing"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/snapshot"
	"github.com/shghadge/collaborative-edge-mesh/internal/snapshot/memsink"
)

func TestSink_SaveAndGetLatestSnapshot(t *testing.T) {
	s := memsink.New(0)
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, snapshot.Snapshot{MerkleRoot: "root-1", NodeCount: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSnapshot(ctx, snapshot.Snapshot{MerkleRoot: "root-2", NodeCount: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}

	latest, ok, err := s.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if !ok || latest.MerkleRoot != "root-2" {
		t.Errorf("latest: got %+v", latest)
	}
}

func TestSink_HistoryIsBoundedByCapacity(t *testing.T) {
	s := memsink.New(3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		s.SaveSnapshot(ctx, snapshot.Snapshot{MerkleRoot: string(rune('a' + i))})
	}
	history, err := s.GetSnapshotHistory(ctx, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length: got %d, want 3", len(history))
	}
	if history[len(history)-1].MerkleRoot != string(rune('a'+9)) {
		t.Errorf("expected most recent entry last, got %+v", history)
	}
}

func TestSink_MetricsAreKeyedByName(t *testing.T) {
	s := memsink.New(0)
	ctx := context.Background()
	now := time.Now()

	s.SaveMetric(ctx, snapshot.Metric{Name: "merge_time_ms", Value: 12.5, RecordedAt: now})
	s.SaveMetric(ctx, snapshot.Metric{Name: "node_count", Value: 3, RecordedAt: now})

	metrics, err := s.GetMetrics(ctx, "merge_time_ms", 10)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Value != 12.5 {
		t.Errorf("metrics: got %+v", metrics)
	}
}

func TestSink_GetLatestSnapshot_EmptyReturnsFalse(t *testing.T) {
	s := memsink.New(0)
	_, ok, err := s.GetLatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for empty sink")
	}
}
