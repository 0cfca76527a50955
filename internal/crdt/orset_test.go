package crdt_test

import (
	"reflect"
	"testing"

	"github.com/shghadge/collaborative-edge-mesh/internal/crdt"
)

func TestORSet_AddAndLookup(t *testing.T) {
	s := crdt.NewORSet()
	s.Add("downtown", "node-a")

	if !s.Lookup("downtown") {
		t.Errorf("expected downtown to be present")
	}
	if s.Lookup("uptown") {
		t.Errorf("expected uptown to be absent")
	}
}

func TestORSet_RemoveClearsElement(t *testing.T) {
	s := crdt.NewORSet()
	s.Add("downtown", "node-a")
	s.Remove("downtown")

	if s.Lookup("downtown") {
		t.Errorf("expected downtown to be removed")
	}
	if got := s.Value(); len(got) != 0 {
		t.Errorf("value: got %v, want empty", got)
	}
}

func TestORSet_AddWinsOverConcurrentRemove(t *testing.T) {
	// Replica A adds "downtown", replica B has never observed that tag
	// and therefore cannot remove it; merging A's add into B must
	// resurrect the element (add-wins semantics).
	a := crdt.NewORSet()
	a.Add("downtown", "node-a")

	b := crdt.NewORSet()
	b.Remove("downtown") // no-op locally, nothing to remove yet

	b.Merge(a)

	if !b.Lookup("downtown") {
		t.Errorf("expected add-wins: downtown should be present after merge")
	}
}

func TestORSet_MergeUnionsTags(t *testing.T) {
	a := crdt.NewORSet()
	tagA := a.Add("downtown", "node-a")

	b := crdt.NewORSet()
	tagB := b.Add("downtown", "node-b")

	a.Merge(b)

	got := a.Tags("downtown")
	want := []string{tagA, tagB}
	if got[0] > got[1] {
		want[0], want[1] = want[1], want[0]
	}
	if !reflect.DeepEqual(sortedCopy(got), sortedCopy(want)) {
		t.Errorf("tags: got %v, want %v", got, want)
	}
}

func TestORSet_ValueIsSorted(t *testing.T) {
	s := crdt.NewORSet()
	s.Add("zeta", "node-a")
	s.Add("alpha", "node-a")
	s.Add("mu", "node-a")

	got := s.Value()
	want := []string{"alpha", "mu", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("value: got %v, want %v", got, want)
	}
}

func TestORSet_RestoreRoundTrips(t *testing.T) {
	s := crdt.RestoreORSet(map[string][]string{
		"downtown": {"node-a:t1", "node-b:t2"},
	})
	if !s.Lookup("downtown") {
		t.Errorf("expected downtown to be present after restore")
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
