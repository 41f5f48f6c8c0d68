package flush

import "github.com/siltdb/silt/internal/meta"

// dirtyCollectionSearch walks a state vector and reports whether any
// tracked collection has drifted from its snapshot. Traversal stops at
// the first dirty collection; walking collections is the expensive
// part of the dirty check and is only attempted for versioned
// persisters that actually declare collections.
type dirtyCollectionSearch struct {
	found bool
}

func (s *dirtyCollectionSearch) visit(values []any) {
	for _, v := range values {
		if s.found {
			return
		}
		if col, ok := v.(*meta.Collection); ok && col.Dirty() {
			s.found = true
			return
		}
	}
}

// wrapCollections substitutes tracked proxies for raw collection
// values in place and returns the substituted positions. Callers must
// write the vector back to the live object, and mirror the proxies
// into the loaded snapshot, only when positions were substituted:
// collection slots compare by identity, so the snapshot must hold the
// same proxy or every later positional compare reports the slot
// dirty. Collection drift is the visitor's job, not the positional
// compare's.
func wrapCollections(props []meta.Property, values []any) []int {
	var substituted []int
	for i, p := range props {
		ct, ok := p.Type.(meta.CollectionType)
		if !ok {
			continue
		}
		col, replaced := meta.WrapCollection(ct.ElemType, values[i])
		if col != nil && replaced {
			values[i] = col
			substituted = append(substituted, i)
		}
	}
	return substituted
}
