// Package chainlog implements the per-node append-only hash-chained
// event ledger (spec component C3): tamper evidence, not durability —
// a node that loses its process loses its chain beyond whatever the
// host's disk offers.
package chainlog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/canonjson"
)

// ErrIntegrity is returned by Verify when the chain has been tampered with.
var ErrIntegrity = errors.New("chainlog: integrity check failed")

// genesisHash is the literal prev_hash value of entry zero.
const genesisHash = "genesis"

// Entry is one link in the hash chain.
type Entry struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Chain is an append-only, in-memory hash-chained log. All methods are
// safe for concurrent use.
type Chain struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns an empty chain.
func New() *Chain {
	return &Chain{}
}

// Append computes data_hash over eventData's canonical JSON encoding,
// links it to the previous entry's hash, and appends the new entry.
// Sequence numbers are strictly increasing by one, starting at zero.
func (c *Chain) Append(eventID, eventType string, eventData interface{}) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataBytes, err := canonjson.Marshal(eventData)
	if err != nil {
		return Entry{}, err
	}
	dataHash := sha256Hex(dataBytes)

	prev := genesisHash
	seq := int64(0)
	if n := len(c.entries); n > 0 {
		prev = c.entries[n-1].Hash
		seq = c.entries[n-1].Sequence + 1
	}

	e := Entry{
		Sequence:  seq,
		Timestamp: time.Now(),
		EventID:   eventID,
		EventType: eventType,
		DataHash:  dataHash,
		PrevHash:  prev,
	}
	e.Hash = entryHash(e)

	c.entries = append(c.entries, e)
	return e, nil
}

// entryHash hashes the canonical JSON of an entry with its own Hash
// field cleared, matching the spec's "hash = SHA-256 of canonical-JSON
// entry excluding hash" construction.
func entryHash(e Entry) string {
	e.Hash = ""
	b := canonjson.MustMarshal(map[string]interface{}{
		"sequence":   e.Sequence,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_id":   e.EventID,
		"event_type": e.EventType,
		"data_hash":  e.DataHash,
		"prev_hash":  e.PrevHash,
	})
	return sha256Hex(b)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify walks every entry and returns nil iff each entry's prev_hash
// matches the previous entry's stored hash, each entry's stored hash
// equals its recomputed hash, and each entry's sequence equals its
// position in the chain. Cost is O(n); corruption found is
// not auto-corrected.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prev := genesisHash
	for i, e := range c.entries {
		if e.PrevHash != prev {
			return ErrIntegrity
		}
		if entryHash(e) != e.Hash {
			return ErrIntegrity
		}
		if e.Sequence != int64(i) {
			return ErrIntegrity
		}
		prev = e.Hash
	}
	return nil
}

// EntriesSince returns every entry with Sequence >= sequence.
func (c *Chain) EntriesSince(sequence int64) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range c.entries {
		if e.Sequence >= sequence {
			out = append(out, e)
		}
	}
	return out
}

// LatestHash returns the last entry's hash, or the genesis sentinel if
// the chain is empty.
func (c *Chain) LatestHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return genesisHash
	}
	return c.entries[len(c.entries)-1].Hash
}

// Len returns the number of entries appended so far.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// All returns a defensive copy of every entry, in append order. Used
// by the /log HTTP endpoint and by tests wanting to mutate an entry to
// prove Verify catches it.
func (c *Chain) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Replace overwrites the entry at index i (0-based, not sequence — the
// two coincide for an untampered chain). Exists so tests can corrupt a
// single byte of stored state and assert Verify then fails; production
// code never calls this, the chain is append-only.
func (c *Chain) Replace(i int, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= 0 && i < len(c.entries) {
		c.entries[i] = e
	}
}
