package meshstate_test

import (
	"testing"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/meshstate"
)

func sensorEvent(id, eventType, location string, value float64) meshstate.Event {
	return meshstate.Event{
		ID:       id,
		Type:     eventType,
		Category: meshstate.CategorySensor,
		Location: location,
		Value:    value,
		Metadata: map[string]interface{}{"unit": "celsius", "severity": "low"},
	}
}

func TestState_RecordEvent_SensorRoutesToCounterAndRegister(t *testing.T) {
	s := meshstate.New("node-1")
	stored, err := s.RecordEvent(sensorEvent("evt-1", "temperature", "zone-a", 21.5))
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if stored.Counter == "" || stored.Register == "" {
		t.Errorf("expected both counter and register to be populated, got %+v", stored)
	}
	if got := s.EventCount("temperature"); got != 1 {
		t.Errorf("event count: got %d, want 1", got)
	}
	val, ok := s.SensorValue("zone-a", "temperature")
	if !ok {
		t.Fatalf("expected sensor value to be set")
	}
	payload, ok := val.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map payload, got %T", val)
	}
	if payload["value"] != 21.5 {
		t.Errorf("payload value: got %v, want 21.5", payload["value"])
	}
}

func TestState_RecordEvent_ResourceUpdatesPNCounter(t *testing.T) {
	s := meshstate.New("node-1")
	_, err := s.RecordEvent(meshstate.Event{
		ID:        "evt-1",
		Type:      "water_bottles",
		Category:  meshstate.CategoryResource,
		Location:  "shelter-1",
		Value:     float64(50),
		Operation: meshstate.OpIncrement,
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	val, ok := s.ResourceValue("shelter-1", "water_bottles")
	if !ok || val != 50 {
		t.Errorf("resource value: got (%d, %v), want (50, true)", val, ok)
	}

	_, err = s.RecordEvent(meshstate.Event{
		ID:        "evt-2",
		Type:      "water_bottles",
		Category:  meshstate.CategoryResource,
		Location:  "shelter-1",
		Value:     float64(10),
		Operation: meshstate.OpDecrement,
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	val, _ = s.ResourceValue("shelter-1", "water_bottles")
	if val != 40 {
		t.Errorf("resource value after decrement: got %d, want 40", val)
	}
}

func TestState_RecordEvent_InfrastructureTracksHazardSet(t *testing.T) {
	s := meshstate.New("node-1")
	_, err := s.RecordEvent(meshstate.Event{
		ID:        "evt-1",
		Type:      "road_closure",
		Category:  meshstate.CategoryInfrastructure,
		Location:  "bridge-7",
		Operation: meshstate.OpAdd,
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if !s.HazardContains("road_closure", "bridge-7") {
		t.Errorf("expected bridge-7 to be a tracked hazard")
	}

	_, err = s.RecordEvent(meshstate.Event{
		ID:        "evt-2",
		Type:      "road_closure",
		Category:  meshstate.CategoryInfrastructure,
		Location:  "bridge-7",
		Operation: meshstate.OpRemove,
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if s.HazardContains("road_closure", "bridge-7") {
		t.Errorf("expected bridge-7 to be cleared")
	}
}

func TestState_RecordEvent_EventIDsListDedupesButCountersDoNot(t *testing.T) {
	s := meshstate.New("node-1")
	e := sensorEvent("evt-dup", "temperature", "zone-a", 10)
	s.RecordEvent(e)
	s.RecordEvent(e)

	wire := s.Serialize()
	if len(wire.EventIDs) != 1 {
		t.Errorf("event_ids: got %d entries, want 1 (deduped)", len(wire.EventIDs))
	}
	if got := s.EventCount("temperature"); got != 2 {
		t.Errorf("duplicate event still increments counter: got %d, want 2", got)
	}
}

func TestState_Fingerprint_DeterministicAcrossReplicas(t *testing.T) {
	a := meshstate.New("node-a")
	b := meshstate.New("node-b")

	events := []meshstate.Event{
		sensorEvent("evt-1", "temperature", "zone-a", 21.5),
		{ID: "evt-2", Type: "water_bottles", Category: meshstate.CategoryResource, Location: "shelter-1", Value: float64(30), Operation: meshstate.OpIncrement},
	}
	for _, e := range events {
		a.RecordEvent(e)
		b.RecordEvent(e)
	}

	// Both replicas apply identical events locally with different
	// owning node IDs (so GCounter/PNCounter entries differ per node),
	// but merging converges them to the same fingerprint.
	a.Merge(b)
	b.Merge(a)

	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprints diverged after merge: %s vs %s", a.Fingerprint(), b.Fingerprint())
	}
}

func TestState_Fingerprint_EmptyStateIsStable(t *testing.T) {
	a := meshstate.New("node-a")
	b := meshstate.New("node-b")
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("expected two empty states to share a fingerprint")
	}
}

func TestState_Merge_IsIdempotent(t *testing.T) {
	a := meshstate.New("node-a")
	a.RecordEvent(sensorEvent("evt-1", "temperature", "zone-a", 21.5))

	b := meshstate.New("node-b")
	b.Merge(a)
	root1 := b.Fingerprint()
	b.Merge(a)
	root2 := b.Fingerprint()

	if root1 != root2 {
		t.Errorf("merge not idempotent: %s != %s", root1, root2)
	}
}

func TestState_Merge_NilIsNoop(t *testing.T) {
	a := meshstate.New("node-a")
	a.RecordEvent(sensorEvent("evt-1", "temperature", "zone-a", 21.5))
	before := a.Fingerprint()
	a.Merge(nil)
	if a.Fingerprint() != before {
		t.Errorf("merge(nil) changed fingerprint")
	}
}

func TestState_SerializeDeserializeRoundTrips(t *testing.T) {
	a := meshstate.New("node-a")
	a.RecordEvent(sensorEvent("evt-1", "temperature", "zone-a", 21.5))

	wire := a.Serialize()
	restored := meshstate.Deserialize(wire)

	if restored.Fingerprint() != a.Fingerprint() {
		t.Errorf("fingerprint mismatch after round trip: %s != %s", restored.Fingerprint(), a.Fingerprint())
	}
}

func TestState_IncrementResource_RejectsNegative(t *testing.T) {
	s := meshstate.New("node-1")
	if err := s.IncrementResource("shelter-1", "water_bottles", -5, false); err != meshstate.ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestState_RecordEvent_GeneralCategoryTouchesRegisterOnlyWhenPossible(t *testing.T) {
	s := meshstate.New("node-1")
	stored, err := s.RecordEvent(meshstate.Event{
		ID:        "evt-1",
		Type:      "note",
		Category:  meshstate.CategoryGeneral,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if stored.Register != "" {
		t.Errorf("expected no register without location/value, got %q", stored.Register)
	}
	if stored.Counter == "" {
		t.Errorf("expected counter to still be recorded")
	}
}
