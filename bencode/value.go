// Package bencode implements a decoder and encoder for the bencoding
// format used by .torrent files and tracker responses.
//
// Decoded values keep the byte range of the original input they came
// from, so that a sub-value (typically the "info" dictionary) can be
// hashed exactly as it appeared on the wire without risking a
// re-encoding mismatch for non-canonically ordered sources.
package bencode

import "github.com/emirpasic/gods/maps/linkedhashmap"

// Kind identifies which variant of the bencode tagged union a Value holds.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// Value is a decoded bencoded value: exactly one of Int, Bytes, List, or
// Dict is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	Int   int64
	Bytes []byte
	List  []*Value
	Dict  *linkedhashmap.Map // keys are string, values are *Value

	// Span is the half-open byte range [start, end) in the original
	// input this value was decoded from.
	Span [2]int
}

// Slice returns the exact bytes this value was decoded from, out of the
// original input passed to Decode. This is what lets info_hash be
// computed without re-encoding the info dictionary.
func (v *Value) Slice(original []byte) []byte {
	return original[v.Span[0]:v.Span[1]]
}

// Get looks up a key in a dict value. Returns nil, false if v is not a
// dict or the key is absent.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.Kind != KindDict {
		return nil, false
	}
	raw, found := v.Dict.Get(key)
	if !found {
		return nil, false
	}
	return raw.(*Value), true
}

// String returns Bytes interpreted as UTF-8; useful for announce URLs
// and file names, which the spec treats as byte strings but are
// conventionally ASCII/UTF-8.
func (v *Value) String() string {
	if v == nil || v.Kind != KindBytes {
		return ""
	}
	return string(v.Bytes)
}

// newDict allocates an empty ordered dict value.
func newDict() *Value {
	return &Value{Kind: KindDict, Dict: linkedhashmap.New()}
}
