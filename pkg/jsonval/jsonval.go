// Package jsonval canonicalizes arbitrary Go values into a JSON-compatible
// tree so that persisted answers, history entries, and form payloads share
// one representation regardless of where they originated.
package jsonval

import (
	"math/big"
	"sort"
)

// Value is the canonical sum type: nil, bool, string (which also carries
// every integer, in decimal), float64/float32, []Value, or
// map[string]Value.
type Value = any

// Serialize converts an arbitrary value into the canonical JSON-compatible
// tree with these rules:
//
//	undefined (nil interface held inside a map/slice, or a literal nil) -> nil
//	string, bool, float64, float32 pass through unchanged
//	integers (every signed/unsigned Go integer kind, and *big.Int) -> decimal string
//	arrays/slices -> recurse element-wise, preserving order
//	maps and *OrderedMap -> recurse over string keys into a
//	        map[string]Value; the result is a Go map, so key order is
//	        not kept
//	[]string, []int64, map[string]string -> converted element-wise
//	anything else (channels, funcs, complex numbers, structs) -> nil
//
// Serialize(Serialize(x)) == Serialize(x) for any x: the output alphabet
// is closed under re-serialization because every branch below maps into
// nil/bool/string/float64/float32/[]Value/map[string]Value, all of which
// are already fixed points of the subsequent switch.
func Serialize(v any) Value {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string, float64, float32:
		return normalizeFloat(t)
	case int:
		return bigIntToString(int64(t))
	case int8:
		return bigIntToString(int64(t))
	case int16:
		return bigIntToString(int64(t))
	case int32:
		return bigIntToString(int64(t))
	case int64:
		return bigIntToString(t)
	case uint:
		return bigUintToString(uint64(t))
	case uint8:
		return bigUintToString(uint64(t))
	case uint16:
		return bigUintToString(uint64(t))
	case uint32:
		return bigUintToString(uint64(t))
	case uint64:
		return bigUintToString(t)
	case *big.Int:
		if t == nil {
			return nil
		}
		return t.String()
	case []any:
		return serializeSlice(t)
	case map[string]any:
		return serializeMap(t)
	case *OrderedMap:
		return serializeOrderedMap(t)
	default:
		return serializeReflect(v)
	}
}

// normalizeFloat keeps small scalars as-is; Serialize's only job for
// these kinds is to pass them through unchanged. Serialize routes bool,
// string, float64 and float32 values here alike.
func normalizeFloat(v any) any {
	return v
}

// bigIntToString renders a signed integer as a decimal string. Integers
// are always rendered as strings rather than float64 so that Telegram
// IDs (int64) round-trip exactly through JSON, which cannot represent
// 64-bit integers precisely as numbers.
func bigIntToString(v int64) string {
	return new(big.Int).SetInt64(v).String()
}

func bigUintToString(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}

func serializeSlice(in []any) []Value {
	out := make([]Value, len(in))
	for i, elem := range in {
		out[i] = Serialize(elem)
	}
	return out
}

func serializeMap(in map[string]any) map[string]Value {
	out := make(map[string]Value, len(in))
	for k, val := range in {
		out[k] = Serialize(val)
	}
	return out
}

// OrderedMap preserves key insertion order for callers that need that
// guarantee when recursing over object keys (e.g. rendering history for
// display).
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]any)}
}

// Set inserts or overwrites a key. Overwriting an existing key keeps its
// original position.
func (m *OrderedMap) Set(key string, value any) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func serializeOrderedMap(in *OrderedMap) map[string]Value {
	if in == nil {
		return map[string]Value{}
	}
	out := make(map[string]Value, len(in.keys))
	for _, k := range in.keys {
		out[k] = Serialize(in.values[k])
	}
	return out
}

// serializeReflect handles three slice/map types with concrete
// (non-`any`) elements ([]string, []int64, map[string]string) through a
// type switch, without reflection, and returns nil for every other type
// (funcs, channels, complex numbers, structs, other slices and maps).
func serializeReflect(v any) Value {
	switch t := v.(type) {
	case []string:
		out := make([]Value, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]Value, len(t))
		for i, n := range t {
			out[i] = bigIntToString(n)
		}
		return out
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]Value, len(t))
		for _, k := range keys {
			out[k] = t[k]
		}
		return out
	default:
		return nil
	}
}

// DeepEqual reports whether two canonical values are structurally equal.
// It is used by the persistence gateway's syncSessionState no-op check:
// syncSessionState must skip the write iff the freshly serialized
// session data deep-equals the stored answers.
func DeepEqual(a, b Value) bool {
	switch av := a.(type) {
	case map[string]Value:
		bv, ok := b.(map[string]Value)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, ok := bv[k]
			if !ok || !DeepEqual(v, bval) {
				return false
			}
		}
		return true
	case []Value:
		bv, ok := b.([]Value)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
