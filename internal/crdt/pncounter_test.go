package crdt_test

import (
	"testing"

	"github.com/shghadge/collaborative-edge-mesh/internal/crdt"
)

func TestPNCounter_IncrementDecrementValue(t *testing.T) {
	c := crdt.NewPNCounter()
	c.Increment("node-a", 10)
	c.Decrement("node-a", 3)

	if got := c.Value(); got != 7 {
		t.Errorf("value: got %d, want 7", got)
	}
}

func TestPNCounter_MergeIndependentlyCombinesPandN(t *testing.T) {
	a := crdt.NewPNCounter()
	a.Increment("node-a", 10)
	a.Decrement("node-a", 2)

	b := crdt.NewPNCounter()
	b.Increment("node-a", 4)
	b.Decrement("node-a", 9)

	a.Merge(b)

	if got := a.Value(); got != 1 { // P=max(10,4)=10, N=max(2,9)=9 -> 1
		t.Errorf("value: got %d, want 1", got)
	}
}

func TestPNCounter_MergeNilIsNoop(t *testing.T) {
	a := crdt.NewPNCounter()
	a.Increment("node-a", 5)
	a.Merge(nil)
	if a.Value() != 5 {
		t.Errorf("merge(nil) changed value: got %d", a.Value())
	}
}
