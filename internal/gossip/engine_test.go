package gossip_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/gossip"
	"github.com/shghadge/collaborative-edge-mesh/internal/meshstate"
)

func freePort(t *testing.T) int {
	t.Helper()
	// Ports in this high range are unlikely to collide across the
	// small number of gossip tests in this package.
	return 29000 + (int(time.Now().UnixNano()) % 900)
}

func TestEngine_BroadcastAndMergeConverge(t *testing.T) {
	portA := freePort(t)
	portB := portA + 1

	stateA := meshstate.New("node-a")
	stateA.RecordEvent(meshstate.Event{
		ID: "evt-1", Type: "temperature", Category: meshstate.CategorySensor,
		Location: "zone-a", Value: float64(21),
	})
	stateB := meshstate.New("node-b")

	engineA := gossip.New(gossip.Config{
		NodeID: "node-a", Port: portA,
		Peers:    []string{"127.0.0.1:" + strconv.Itoa(portB)},
		Interval: 50 * time.Millisecond,
	}, stateA)
	engineB := gossip.New(gossip.Config{
		NodeID: "node-b", Port: portB,
		Peers:    []string{"127.0.0.1:" + strconv.Itoa(portA)},
		Interval: 50 * time.Millisecond,
	}, stateB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engineA.Start(ctx); err != nil {
		t.Fatalf("start A: %v", err)
	}
	defer engineA.Stop()
	if err := engineB.Start(ctx); err != nil {
		t.Fatalf("start B: %v", err)
	}
	defer engineB.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if stateB.Fingerprint() == stateA.Fingerprint() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("gossip did not converge: A=%s B=%s", stateA.Fingerprint(), stateB.Fingerprint())
}

func TestEngine_StatsTrackBroadcastCycles(t *testing.T) {
	port := freePort(t)
	state := meshstate.New("node-a")
	engine := gossip.New(gossip.Config{
		NodeID: "node-a", Port: port, Interval: 20 * time.Millisecond,
	}, state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer engine.Stop()

	time.Sleep(100 * time.Millisecond)
	if engine.Stats().BroadcastCycles == 0 {
		t.Errorf("expected at least one broadcast cycle")
	}
}
