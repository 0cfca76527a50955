package crdt

// PNCounter is a positive-negative counter: a pair of grow-counters
// tracking increments and decrements independently. Its value is
// P.Value() - N.Value(); merging a PNCounter merges P and N
// independently, which keeps the whole type commutative, associative,
// and idempotent.
type PNCounter struct {
	P *GCounter
	N *GCounter
}

// NewPNCounter returns a zeroed positive-negative counter.
func NewPNCounter() *PNCounter {
	return &PNCounter{P: NewGCounter(), N: NewGCounter()}
}

// Increment adds amount (>= 0) to the positive side for nodeID.
func (c *PNCounter) Increment(nodeID string, amount int64) error {
	return c.P.Increment(nodeID, amount)
}

// Decrement adds amount (>= 0) to the negative side for nodeID.
func (c *PNCounter) Decrement(nodeID string, amount int64) error {
	return c.N.Increment(nodeID, amount)
}

// Value returns P.Value() - N.Value().
func (c *PNCounter) Value() int64 {
	return c.P.Value() - c.N.Value()
}

// Merge merges other's P and N into c's, independently.
func (c *PNCounter) Merge(other *PNCounter) {
	if other == nil {
		return
	}
	c.P.Merge(other.P)
	c.N.Merge(other.N)
}
