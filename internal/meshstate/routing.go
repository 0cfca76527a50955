package meshstate

import "fmt"

// Routing key builders. These strings are stored verbatim as map keys
// and are never reparsed — see spec.md §3 "Routing keys".
func eventCountKey(eventType string) string {
	return fmt.Sprintf("event_count:%s", eventType)
}

func sensorKey(location, eventType string) string {
	return fmt.Sprintf("sensor:%s:%s", location, eventType)
}

func resourceKey(location, eventType string) string {
	return fmt.Sprintf("resource:%s:%s", location, eventType)
}

func hazardsKey(eventType string) string {
	return fmt.Sprintf("hazards:%s", eventType)
}

func infraKey(location, eventType string) string {
	return fmt.Sprintf("infra:%s:%s", location, eventType)
}

func generalKey(location, eventType string) string {
	return fmt.Sprintf("general:%s:%s", location, eventType)
}

// asInt64 coerces a JSON-decoded numeric value (float64 from
// encoding/json, or a native Go integer type) to int64. ok is false
// for anything else — strings, bools, nil, objects — so resource
// routing can "count the event but skip the PNC update" per spec.md §4.2.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
