// Package crdt provides the convergent replicated data types that back
// the mesh's composite node state: grow-counters, positive-negative
// counters, last-writer-wins registers, and observed-remove sets.
package crdt

import "fmt"

// ErrInvalidAmount is returned when a caller supplies a negative amount
// to an operation that only accepts non-negative deltas.
var ErrInvalidAmount = fmt.Errorf("crdt: amount must be >= 0")

// GCounter is a grow-only counter: a mapping from node ID to a
// non-negative running total. Its value is the sum of all entries and
// its merge is an element-wise maximum, so it is commutative,
// associative, and idempotent.
type GCounter struct {
	counts map[string]int64
}

// NewGCounter returns an empty grow-counter.
func NewGCounter() *GCounter {
	return &GCounter{counts: make(map[string]int64)}
}

// Increment adds amount to nodeID's entry. amount must be >= 0.
func (c *GCounter) Increment(nodeID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[nodeID] += amount
	return nil
}

// Value returns the sum of all per-node entries.
func (c *GCounter) Value() int64 {
	var total int64
	for _, v := range c.counts {
		total += v
	}
	return total
}

// Merge takes the element-wise maximum of c and other, mutating c in place.
func (c *GCounter) Merge(other *GCounter) {
	if other == nil {
		return
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	for node, v := range other.counts {
		if v > c.counts[node] {
			c.counts[node] = v
		}
	}
}

// Counts returns a defensive copy of the per-node counts, keyed by node ID.
func (c *GCounter) Counts() map[string]int64 {
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// FromCounts returns a new counter holding a copy of the given
// per-node counts. Used when deserializing.
func FromCounts(counts map[string]int64) *GCounter {
	c := NewGCounter()
	for k, v := range counts {
		c.counts[k] = v
	}
	return c
}
