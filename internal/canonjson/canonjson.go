// Package canonjson produces a single, stable JSON encoding for
// arbitrary values: object keys sorted at every depth, no insignificant
// whitespace, numbers in Go's shortest round-trip form, strings encoded
// the standard JSON way. The mesh's fingerprint (internal/meshstate)
// and hash-chain (internal/chainlog) both hash against this encoding,
// so any two implementations that agree on these bytes agree on every
// hash derived from them.
//
// Grounded on the ordered-struct canonicalization approach used for
// audit-event hashing in the retrieval pack (Chartly2.0's hash_chain.go):
// maps are walked in sorted key order and rebuilt as ordered structures
// before marshaling, rather than relying on any library's "canonical
// JSON" mode.
package canonjson

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical JSON encoding of v. v must already be
// built from maps, slices, and scalars produced by decoding JSON (or
// equivalent Go types) — values of any other type, structs included,
// are handed to encoding/json unchanged.
func Marshal(v interface{}) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

// MustMarshal panics on error; used in contexts (fingerprint leaves)
// where the input is always JSON-safe by construction.
func MustMarshal(v interface{}) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("canonjson: %v", err))
	}
	return b
}

// normalize walks v, turning every map into an orderedMap (which
// marshals its keys in sorted order) so the final json.Marshal output
// is byte-for-byte deterministic regardless of Go's map iteration order.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return normalizeMap(t)
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = val
		}
		return normalizeMap(m)
	case map[string]int64:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = val
		}
		return normalizeMap(m)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// orderedMap marshals as a JSON object with keys emitted in sorted order.
type orderedMap struct {
	keys   []string
	values map[string]interface{}
}

func normalizeMap(m map[string]interface{}) orderedMap {
	keys := make([]string, 0, len(m))
	values := make(map[string]interface{}, len(m))
	for k, v := range m {
		keys = append(keys, k)
		values[k] = normalize(v)
	}
	sort.Strings(keys)
	return orderedMap{keys: keys, values: values}
}

func (o orderedMap) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, '{')
	for i, k := range o.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
