// Package meshstate implements the composite node state (spec
// component C2): it routes incoming events to the four convergent
// sub-types by category, computes a verifiable fingerprint over their
// combined content, and merges peer state without ever regressing a
// value a replica has already observed.
package meshstate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/canonjson"
	"github.com/shghadge/collaborative-edge-mesh/internal/crdt"
)

// ErrInvalidAmount is surfaced to a local caller when a counter
// operation is given a negative amount.
var ErrInvalidAmount = crdt.ErrInvalidAmount

// ErrStateDecode is returned by UnmarshalState when a peer or HTTP
// payload cannot be parsed into a valid State. The caller must skip
// the merge entirely rather than apply it partially.
var ErrStateDecode = errors.New("meshstate: malformed state payload")

// State is the composite node state. All operations that touch it are
// serialized through mu so the fingerprint is always computed over a
// consistent snapshot, matching the single-mutex-per-owning-service
// concurrency model in spec.md §5.
type State struct {
	mu sync.Mutex

	nodeID    string
	version   int64
	updatedAt time.Time

	counters   map[string]*crdt.GCounter
	registers  map[string]*crdt.LWWRegister
	pnCounters map[string]*crdt.PNCounter
	sets       map[string]*crdt.ORSet

	eventIDs    []string
	eventIDSeen map[string]struct{}
}

// New returns an empty State owned by nodeID.
func New(nodeID string) *State {
	return &State{
		nodeID:      nodeID,
		updatedAt:   time.Now(),
		counters:    make(map[string]*crdt.GCounter),
		registers:   make(map[string]*crdt.LWWRegister),
		pnCounters:  make(map[string]*crdt.PNCounter),
		sets:        make(map[string]*crdt.ORSet),
		eventIDs:    make([]string, 0),
		eventIDSeen: make(map[string]struct{}),
	}
}

// NodeID, Version, UpdatedAt are read-only accessors; none of them
// feed into the fingerprint (spec.md §4.2 — it "MUST depend only on
// convergent content").
func (s *State) NodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeID
}

func (s *State) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *State) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// RecordEvent dispatches event to the appropriate sub-type(s) by
// category and bumps the version. See spec.md §4.2 steps 1-7.
func (s *State) RecordEvent(e Event) (StoredIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored StoredIn

	switch e.Category {
	case CategorySensor:
		ck := eventCountKey(e.Type)
		s.getOrCreateGC(ck).Increment(s.nodeID, 1)
		stored.Counter = ck

		rk := sensorKey(e.Location, e.Type)
		payload := map[string]interface{}{
			"value":      e.Value,
			"unit":       e.Metadata["unit"],
			"severity":   e.Metadata["severity"],
			"event_id":   e.ID,
			"event_type": e.Type,
			"category":   CategorySensor,
		}
		s.getOrCreateLWW(rk).Set(payload, time.Time{}, "")
		stored.Register = rk

	case CategoryResource:
		pk := resourceKey(e.Location, e.Type)
		pnc := s.getOrCreatePNC(pk)
		if amount, ok := asInt64(e.Value); ok && amount >= 0 {
			if e.Operation == OpDecrement {
				_ = pnc.Decrement(s.nodeID, amount)
			} else {
				_ = pnc.Increment(s.nodeID, amount)
			}
			stored.PNCounter = pk
		}
		ck := eventCountKey(e.Type)
		s.getOrCreateGC(ck).Increment(s.nodeID, 1)
		stored.Counter = ck

	case CategoryInfrastructure:
		sk := hazardsKey(e.Type)
		orset := s.getOrCreateORS(sk)
		if e.Operation == OpRemove {
			orset.Remove(e.Location)
		} else {
			orset.Add(e.Location, s.nodeID)
		}
		stored.Set = sk

		rk := infraKey(e.Location, e.Type)
		payload := map[string]interface{}{
			"value":             e.Value,
			"cause":             e.Metadata["cause"],
			"estimated_restore": e.Metadata["estimated_restore"],
			"event_id":          e.ID,
			"event_type":        e.Type,
			"category":          CategoryInfrastructure,
		}
		s.getOrCreateLWW(rk).Set(payload, time.Time{}, "")
		stored.InfraRegister = rk

		ck := eventCountKey(e.Type)
		s.getOrCreateGC(ck).Increment(s.nodeID, 1)
		stored.Counter = ck

	default: // CategoryGeneral and anything unrecognized
		ck := eventCountKey(e.Type)
		s.getOrCreateGC(ck).Increment(s.nodeID, 1)
		stored.Counter = ck

		if e.Location != "" && e.Value != nil {
			rk := generalKey(e.Location, e.Type)
			s.getOrCreateLWW(rk).Set(e.Value, time.Time{}, "")
			stored.Register = rk
		}
	}

	if _, seen := s.eventIDSeen[e.ID]; !seen && e.ID != "" {
		s.eventIDs = append(s.eventIDs, e.ID)
		s.eventIDSeen[e.ID] = struct{}{}
	}

	s.version++
	s.updatedAt = time.Now()

	return stored, nil
}

// IncrementResource applies a validated, explicit amount to a resource
// PN-counter directly (used by tests and by callers that have already
// parsed the amount). Returns ErrInvalidAmount for amount < 0.
func (s *State) IncrementResource(location, eventType string, amount int64, decrement bool) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pnc := s.getOrCreatePNC(resourceKey(location, eventType))
	if decrement {
		return pnc.Decrement(s.nodeID, amount)
	}
	return pnc.Increment(s.nodeID, amount)
}

// Merge applies other's convergent content into s. Every sub-type
// merges independently and is created locally on first sight. version
// only advances if the fingerprint actually changed, so a merge that
// delivers no new information is a true no-op — this is what lets the
// gateway's stale-skip policy and the mesh's "quiet period" detection
// behave correctly (spec.md §4.2).
func (s *State) Merge(other *State) {
	if other == nil {
		return
	}
	other.mu.Lock()
	counters := cloneGCMap(other.counters)
	registers := cloneLWWMap(other.registers)
	pnCounters := clonePNCMap(other.pnCounters)
	sets := cloneORSMap(other.sets)
	eventIDs := append([]string(nil), other.eventIDs...)
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.fingerprintLocked()

	for k, gc := range counters {
		s.getOrCreateGC(k).Merge(gc)
	}
	for k, lww := range registers {
		s.getOrCreateLWW(k).Merge(lww)
	}
	for k, pnc := range pnCounters {
		local := s.getOrCreatePNC(k)
		local.P.Merge(pnc.P)
		local.N.Merge(pnc.N)
	}
	for k, set := range sets {
		s.getOrCreateORS(k).Merge(set)
	}
	for _, id := range eventIDs {
		if _, seen := s.eventIDSeen[id]; !seen && id != "" {
			s.eventIDs = append(s.eventIDs, id)
			s.eventIDSeen[id] = struct{}{}
		}
	}

	after := s.fingerprintLocked()
	if after != before {
		s.version++
		s.updatedAt = time.Now()
	}
}

func (s *State) getOrCreateGC(key string) *crdt.GCounter {
	gc, ok := s.counters[key]
	if !ok {
		gc = crdt.NewGCounter()
		s.counters[key] = gc
	}
	return gc
}

func (s *State) getOrCreateLWW(key string) *crdt.LWWRegister {
	lww, ok := s.registers[key]
	if !ok {
		lww = crdt.NewLWWRegister(s.nodeID)
		s.registers[key] = lww
	}
	return lww
}

func (s *State) getOrCreatePNC(key string) *crdt.PNCounter {
	pnc, ok := s.pnCounters[key]
	if !ok {
		pnc = crdt.NewPNCounter()
		s.pnCounters[key] = pnc
	}
	return pnc
}

func (s *State) getOrCreateORS(key string) *crdt.ORSet {
	set, ok := s.sets[key]
	if !ok {
		set = crdt.NewORSet()
		s.sets[key] = set
	}
	return set
}

// EventCount returns the total event count, or the count for a single
// type when eventType is non-empty.
func (s *State) EventCount(eventType string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eventType != "" {
		if gc, ok := s.counters[eventCountKey(eventType)]; ok {
			return gc.Value()
		}
		return 0
	}
	var total int64
	for k, gc := range s.counters {
		if len(k) > len("event_count:") && k[:len("event_count:")] == "event_count:" {
			total += gc.Value()
		}
	}
	return total
}

// ResourceValue returns the current PN-counter value for a resource
// routing key, and whether it exists.
func (s *State) ResourceValue(location, eventType string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pnc, ok := s.pnCounters[resourceKey(location, eventType)]
	if !ok {
		return 0, false
	}
	return pnc.Value(), true
}

// SensorValue returns the current LWW payload for a sensor routing key.
func (s *State) SensorValue(location, eventType string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lww, ok := s.registers[sensorKey(location, eventType)]
	if !ok {
		return nil, false
	}
	return lww.Value()
}

// HazardContains returns whether location is currently present in the
// hazards set for eventType.
func (s *State) HazardContains(eventType, location string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[hazardsKey(eventType)]
	if !ok {
		return false
	}
	return set.Lookup(location)
}

// StateSummary returns a human-readable count per sub-type category,
// included in serialized state and gossip envelopes.
func (s *State) StateSummary() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"counters":    len(s.counters),
		"registers":   len(s.registers),
		"pn_counters": len(s.pnCounters),
		"sets":        len(s.sets),
		"event_ids":   len(s.eventIDs),
	}
}

// Fingerprint returns the merkle root over every sub-type's convergent
// content. It depends only on values that are themselves commutative,
// associative, and idempotent under merge, so two replicas with the
// same applied event set always compute the same fingerprint
// regardless of the order events arrived in (spec.md §4.2).
func (s *State) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprintLocked()
}

// fingerprintLocked assumes mu is already held.
func (s *State) fingerprintLocked() string {
	leaves := make([]string, 0, len(s.counters)+len(s.registers)+len(s.pnCounters)+len(s.sets))

	for _, k := range sortedKeys(s.counters) {
		leaves = append(leaves, "c:"+k+":"+string(canonjson.MustMarshal(s.counters[k].Counts())))
	}
	for _, k := range sortedKeys(s.registers) {
		lww := s.registers[k]
		val, isSet := lww.Value()
		if !isSet {
			continue
		}
		leaves = append(leaves, "r:"+k+":"+string(canonjson.MustMarshal(map[string]interface{}{
			"v": val,
			"t": lww.Timestamp().UTC().Format(time.RFC3339Nano),
			"w": lww.Writer(),
		})))
	}
	for _, k := range sortedKeys(s.pnCounters) {
		pnc := s.pnCounters[k]
		leaves = append(leaves, "pn:"+k+":"+string(canonjson.MustMarshal(map[string]interface{}{
			"p": pnc.P.Counts(),
			"n": pnc.N.Counts(),
		})))
	}
	for _, k := range sortedKeys(s.sets) {
		set := s.sets[k]
		elems := set.Value()
		tags := make(map[string]interface{}, len(elems))
		for _, elem := range elems {
			tags[elem] = set.Tags(elem)
		}
		leaves = append(leaves, "s:"+k+":"+string(canonjson.MustMarshal(tags)))
	}

	return reduceMerkle(leaves)
}

// reduceMerkle hashes each leaf, then repeatedly hashes adjacent pairs
// of hex digests (duplicating a dangling last element) until a single
// root remains. An empty leaf set hashes the literal string "empty" so
// a freshly created node still has a well-defined fingerprint.
func reduceMerkle(leaves []string) string {
	if len(leaves) == 0 {
		return sha256Hex([]byte("empty"))
	}

	level := make([]string, len(leaves))
	for i, leaf := range leaves {
		level[i] = sha256Hex([]byte(leaf))
	}

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, sha256Hex([]byte(level[i]+level[i+1])))
			} else {
				next = append(next, sha256Hex([]byte(level[i]+level[i])))
			}
		}
		level = next
	}
	return level[0]
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneGCMap(m map[string]*crdt.GCounter) map[string]*crdt.GCounter {
	out := make(map[string]*crdt.GCounter, len(m))
	for k, v := range m {
		out[k] = crdt.FromCounts(v.Counts())
	}
	return out
}

func cloneLWWMap(m map[string]*crdt.LWWRegister) map[string]*crdt.LWWRegister {
	out := make(map[string]*crdt.LWWRegister, len(m))
	for k, v := range m {
		val, isSet := v.Value()
		out[k] = crdt.RestoreLWW("", val, v.Timestamp(), v.Writer(), isSet)
	}
	return out
}

func clonePNCMap(m map[string]*crdt.PNCounter) map[string]*crdt.PNCounter {
	out := make(map[string]*crdt.PNCounter, len(m))
	for k, v := range m {
		out[k] = &crdt.PNCounter{
			P: crdt.FromCounts(v.P.Counts()),
			N: crdt.FromCounts(v.N.Counts()),
		}
	}
	return out
}

func cloneORSMap(m map[string]*crdt.ORSet) map[string]*crdt.ORSet {
	out := make(map[string]*crdt.ORSet, len(m))
	for k, v := range m {
		data := make(map[string][]string)
		for _, elem := range v.Elements() {
			data[elem] = v.Tags(elem)
		}
		out[k] = crdt.RestoreORSet(data)
	}
	return out
}
