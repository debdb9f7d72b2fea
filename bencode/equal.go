package bencode

// Equal reports structural equality between two decoded values, per
// spec.md §8: mappings compare as ordered sequences of pairs, spans are
// ignored (they describe provenance, not identity).
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInt:
		return a.Int == b.Int
	case KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindDict:
		aKeys := a.Dict.Keys()
		bKeys := b.Dict.Keys()
		if len(aKeys) != len(bKeys) {
			return false
		}
		for i, k := range aKeys {
			if k.(string) != bKeys[i].(string) {
				return false
			}
			av, _ := a.Dict.Get(k)
			bv, _ := b.Dict.Get(k)
			if !Equal(av.(*Value), bv.(*Value)) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
