package bencode

import (
	"bytes"
	"sort"
	"strconv"
)

// Encode serializes v in canonical form: dict keys are emitted in
// ascending byte-lexicographic order regardless of the order they were
// inserted or decoded in.
func Encode(v *Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v *Value) {
	switch v.Kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteByte(':')
		buf.Write(v.Bytes)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			encodeInto(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := v.Dict.Keys()
		strKeys := make([]string, len(keys))
		for i, k := range keys {
			strKeys[i] = k.(string)
		}
		sort.Strings(strKeys)
		for _, k := range strKeys {
			raw, _ := v.Dict.Get(k)
			keyVal := &Value{Kind: KindBytes, Bytes: []byte(k)}
			encodeInto(buf, keyVal)
			encodeInto(buf, raw.(*Value))
		}
		buf.WriteByte('e')
	}
}

// NewInt, NewBytes, NewList, and NewDict build Values programmatically,
// for tests that need bencoded input without hand-writing it.
func NewInt(n int64) *Value { return &Value{Kind: KindInt, Int: n} }

func NewBytes(b []byte) *Value { return &Value{Kind: KindBytes, Bytes: b} }

func NewList(items ...*Value) *Value { return &Value{Kind: KindList, List: items} }

func NewDict() *Value { return newDict() }

// Put inserts or overwrites key in a dict value, preserving first-seen
// insertion order for keys not previously present.
func (v *Value) Put(key string, val *Value) {
	v.Dict.Put(key, val)
}
