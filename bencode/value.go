// Package bencode implements a decoder and canonical encoder for
// BitTorrent's bencode serialization, preserving byte-exact strings so
// that decode-then-encode round-trips and info-hash derivation are
// correct even for binary (non-UTF8) byte strings.
package bencode

import "sort"

// Kind tags which case a Value holds.
type Kind int

const (
	KindBytes Kind = iota
	KindInteger
	KindList
	KindMap
)

// Value is a tagged bencode value: exactly one of Bytes, Integer, List,
// or Map is meaningful, selected by Kind.
type Value struct {
	Kind    Kind
	Bytes   []byte
	Integer int64
	List    []Value
	Map     map[string]Value
}

// Str builds a Value for a byte string.
func Str(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// Int builds a Value for a signed integer.
func Int(i int64) Value { return Value{Kind: KindInteger, Integer: i} }

// Lst builds a Value for a list.
func Lst(v []Value) Value { return Value{Kind: KindList, List: v} }

// Dict builds a Value for a map.
func Dict(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// IsBytes reports whether the value is a byte string.
func (v Value) IsBytes() bool { return v.Kind == KindBytes }

// String returns Bytes interpreted as text; callers needing strict
// UTF-8 validation should check separately (e.g. at the rendering
// boundary, not here — bencode byte strings are not required to be
// valid text).
func (v Value) String() string { return string(v.Bytes) }

// Get looks up a key in a Map value; ok is false if the value is not a
// Map or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	val, ok := v.Map[key]
	return val, ok
}

// sortedKeys returns a Map's keys in ascending byte-lexicographic
// order, the order canonical encoding requires.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
