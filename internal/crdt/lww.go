package crdt

import "time"

// LWWRegister is a last-writer-wins register holding an arbitrary
// JSON-serializable value alongside the (timestamp, writer) pair that
// produced it.
//
// Two different rules govern updates, matching the source system this
// was distilled from (see DESIGN.md "LWW tie-break asymmetry"):
//
//   - Merge (remote state arriving over gossip/HTTP) uses a strict
//     total order: a higher timestamp wins outright; on a timestamp
//     tie, a lexicographically greater writer ID wins. Equal writer
//     IDs at equal timestamps never update (idempotence).
//   - Set (a local write by the register's own owning node) uses the
//     same ordering but breaks timestamp ties in favor of the local
//     node whenever the owning node's ID is lexicographically >= the
//     currently stored writer ID — independent of what the new write's
//     writer field actually is. This privileges the local node's own
//     writes on a same-instant race and is reproduced here exactly
//     because later invariants (idempotent re-application of a node's
//     own writes) depend on it.
type LWWRegister struct {
	nodeID    string
	value     interface{}
	timestamp time.Time
	writer    string
	isSet     bool
}

// NewLWWRegister returns an empty register owned by nodeID.
func NewLWWRegister(nodeID string) *LWWRegister {
	return &LWWRegister{nodeID: nodeID}
}

// Set performs a local write. A zero ts means "now"; an empty writer
// means "this register's owning node".
func (r *LWWRegister) Set(value interface{}, ts time.Time, writer string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	if writer == "" {
		writer = r.nodeID
	}
	if !r.isSet || ts.After(r.timestamp) || (ts.Equal(r.timestamp) && r.nodeID >= r.writer) {
		r.value = value
		r.timestamp = ts
		r.writer = writer
		r.isSet = true
	}
}

// Value returns the current value and whether the register has ever
// been set (an empty register's value is absent).
func (r *LWWRegister) Value() (interface{}, bool) {
	return r.value, r.isSet
}

// Timestamp and Writer return the (timestamp, writer) pair backing the
// current value, used by the fingerprint leaf encoding.
func (r *LWWRegister) Timestamp() time.Time { return r.timestamp }
func (r *LWWRegister) Writer() string       { return r.writer }

// Merge applies other's state using the strict total order: a higher
// timestamp wins, or on a tie a strictly greater writer ID wins.
func (r *LWWRegister) Merge(other *LWWRegister) {
	if other == nil || !other.isSet {
		return
	}
	if !r.isSet || other.timestamp.After(r.timestamp) ||
		(other.timestamp.Equal(r.timestamp) && other.writer > r.writer) {
		r.value = other.value
		r.timestamp = other.timestamp
		r.writer = other.writer
		r.isSet = true
	}
}

// RestoreLWW rebuilds a register from deserialized fields (used when
// loading a peer's state or a persisted snapshot).
func RestoreLWW(nodeID string, value interface{}, ts time.Time, writer string, isSet bool) *LWWRegister {
	return &LWWRegister{nodeID: nodeID, value: value, timestamp: ts, writer: writer, isSet: isSet}
}
