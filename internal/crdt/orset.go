package crdt

import (
	"sort"

	"github.com/google/uuid"
)

// ORSet is an observed-remove set: a mapping from element to the set
// of unique tags that added it. An element is present iff its tag set
// is non-empty. Remove only clears tags the local replica has
// observed, so a concurrent add on another replica (whose tag was
// never observed here) survives a local remove — the add-wins policy.
type ORSet struct {
	elements map[string]map[string]struct{}
}

// NewORSet returns an empty observed-remove set.
func NewORSet() *ORSet {
	return &ORSet{elements: make(map[string]map[string]struct{})}
}

// Add generates a fresh globally-unique tag for elem (derived from
// nodeID plus a version-4 UUID's 122 random bits, comfortably
// over the spec's 96-bit floor) and records it. Returns the tag so
// callers can gossip it alongside the element.
func (s *ORSet) Add(elem, nodeID string) string {
	if s.elements == nil {
		s.elements = make(map[string]map[string]struct{})
	}
	tag := nodeID + ":" + uuid.NewString()
	if s.elements[elem] == nil {
		s.elements[elem] = make(map[string]struct{})
	}
	s.elements[elem][tag] = struct{}{}
	return tag
}

// Remove clears every tag this replica currently observes for elem. A
// tag added concurrently at another replica, not yet merged in here,
// is unaffected and will resurrect the element once merged.
func (s *ORSet) Remove(elem string) {
	delete(s.elements, elem)
}

// Lookup reports whether elem has at least one surviving tag.
func (s *ORSet) Lookup(elem string) bool {
	tags, ok := s.elements[elem]
	return ok && len(tags) > 0
}

// Value returns the sorted list of elements with at least one tag.
func (s *ORSet) Value() []string {
	out := make([]string, 0, len(s.elements))
	for elem, tags := range s.elements {
		if len(tags) > 0 {
			out = append(out, elem)
		}
	}
	sort.Strings(out)
	return out
}

// Tags returns a defensive copy of the tag set for elem, sorted for
// deterministic fingerprint encoding.
func (s *ORSet) Tags(elem string) []string {
	tags := s.elements[elem]
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Elements returns the set's element keys, unsorted, including any
// whose tag set is empty (possible after RestoreORSet or Merge with an
// empty tag list; Remove deletes the entry itself); callers that need
// presence should use Value or Lookup.
func (s *ORSet) Elements() []string {
	out := make([]string, 0, len(s.elements))
	for elem := range s.elements {
		out = append(out, elem)
	}
	return out
}

// Merge unions other's tag sets into s, per element.
func (s *ORSet) Merge(other *ORSet) {
	if other == nil {
		return
	}
	if s.elements == nil {
		s.elements = make(map[string]map[string]struct{})
	}
	for elem, tags := range other.elements {
		if s.elements[elem] == nil {
			s.elements[elem] = make(map[string]struct{})
		}
		for tag := range tags {
			s.elements[elem][tag] = struct{}{}
		}
	}
}

// RestoreORSet rebuilds a set from a plain element->tags mapping
// (used when deserializing).
func RestoreORSet(data map[string][]string) *ORSet {
	s := NewORSet()
	for elem, tags := range data {
		set := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			set[t] = struct{}{}
		}
		s.elements[elem] = set
	}
	return s
}
