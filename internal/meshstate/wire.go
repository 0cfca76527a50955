package meshstate

import (
	"encoding/json"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/crdt"
)

// Wire is the JSON representation of a State exchanged over the node
// HTTP API and embedded in gossip state_sync envelopes. It carries
// every sub-type's raw content plus the derived merkle_root so a
// receiver can check divergence before paying for a full decode.
type Wire struct {
	NodeID      string                        `json:"node_id"`
	Version     int64                         `json:"version"`
	UpdatedAt   time.Time                     `json:"updated_at"`
	MerkleRoot  string                        `json:"merkle_root"`
	StateSummary map[string]int               `json:"state_summary"`
	Counters    map[string]map[string]int64   `json:"counters"`
	Registers   map[string]wireRegister       `json:"registers"`
	PNCounters  map[string]wirePNCounter      `json:"pn_counters"`
	Sets        map[string]map[string][]string `json:"sets"`
	EventIDs    []string                      `json:"event_ids"`
}

type wireRegister struct {
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
	Writer    string      `json:"writer"`
	IsSet     bool        `json:"is_set"`
}

type wirePNCounter struct {
	P map[string]int64 `json:"p"`
	N map[string]int64 `json:"n"`
}

// Serialize produces the wire representation of s, including the
// fingerprint so a caller never has to recompute it after decode.
func (s *State) Serialize() Wire {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := Wire{
		NodeID:      s.nodeID,
		Version:     s.version,
		UpdatedAt:   s.updatedAt,
		MerkleRoot:  s.fingerprintLocked(),
		Counters:    make(map[string]map[string]int64, len(s.counters)),
		Registers:   make(map[string]wireRegister, len(s.registers)),
		PNCounters:  make(map[string]wirePNCounter, len(s.pnCounters)),
		Sets:        make(map[string]map[string][]string, len(s.sets)),
		EventIDs:    append([]string(nil), s.eventIDs...),
	}

	for k, gc := range s.counters {
		w.Counters[k] = gc.Counts()
	}
	for k, lww := range s.registers {
		val, isSet := lww.Value()
		w.Registers[k] = wireRegister{
			Value:     val,
			Timestamp: lww.Timestamp(),
			Writer:    lww.Writer(),
			IsSet:     isSet,
		}
	}
	for k, pnc := range s.pnCounters {
		w.PNCounters[k] = wirePNCounter{P: pnc.P.Counts(), N: pnc.N.Counts()}
	}
	for k, set := range s.sets {
		tags := make(map[string][]string)
		for _, elem := range set.Value() {
			tags[elem] = set.Tags(elem)
		}
		w.Sets[k] = tags
	}

	w.StateSummary = map[string]int{
		"counters":    len(w.Counters),
		"registers":   len(w.Registers),
		"pn_counters": len(w.PNCounters),
		"sets":        len(w.Sets),
		"event_ids":   len(w.EventIDs),
	}

	return w
}

// MarshalState serializes s directly to JSON bytes.
func MarshalState(s *State) ([]byte, error) {
	return json.Marshal(s.Serialize())
}

// Deserialize builds a detached State from a Wire payload. It never
// mutates an existing State — callers merge the result in via Merge,
// per spec.md's "apply received state through the same merge path as
// any other peer" rule.
func Deserialize(w Wire) *State {
	s := New(w.NodeID)
	s.version = w.Version
	s.updatedAt = w.UpdatedAt

	for k, counts := range w.Counters {
		s.counters[k] = crdt.FromCounts(counts)
	}
	for k, r := range w.Registers {
		s.registers[k] = crdt.RestoreLWW(w.NodeID, r.Value, r.Timestamp, r.Writer, r.IsSet)
	}
	for k, pnc := range w.PNCounters {
		s.pnCounters[k] = &crdt.PNCounter{
			P: crdt.FromCounts(pnc.P),
			N: crdt.FromCounts(pnc.N),
		}
	}
	for k, tags := range w.Sets {
		s.sets[k] = crdt.RestoreORSet(tags)
	}
	for _, id := range w.EventIDs {
		if _, seen := s.eventIDSeen[id]; !seen && id != "" {
			s.eventIDs = append(s.eventIDs, id)
			s.eventIDSeen[id] = struct{}{}
		}
	}

	return s
}

// UnmarshalState parses JSON bytes into a detached State. Returns
// ErrStateDecode on malformed input so callers can distinguish a
// transport/parse failure from "peer legitimately has no new data".
func UnmarshalState(data []byte) (*State, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, ErrStateDecode
	}
	if w.NodeID == "" {
		return nil, ErrStateDecode
	}
	return Deserialize(w), nil
}
