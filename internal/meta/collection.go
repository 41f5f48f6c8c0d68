package meta

// Collection is a tracked proxy around a collection-valued property.
//
// Wrapping records a snapshot of the element slice at the moment the
// proxy is created; Dirty later compares the live elements against
// that snapshot. Elements are compared by the collection's element
// type, positionally, the same way scalar vectors are.
type Collection struct {
	elemType Type
	elements []any
	snapshot []any
}

// NewCollection wraps elements in a tracked collection and snapshots
// them. The caller hands over ownership of the slice header; element
// values are deep-copied into the snapshot per elemType.
func NewCollection(elemType Type, elements []any) *Collection {
	c := &Collection{elemType: elemType, elements: elements}
	c.TakeSnapshot()
	return c
}

// WrapCollection returns v as a tracked collection, wrapping a raw
// []any in place if necessary. The second result reports whether a
// substitution happened: callers must write the proxy back into the
// owning state vector (and the live object) only in that case.
// Already-wrapped values pass through untouched, so wrapping is
// idempotent.
func WrapCollection(elemType Type, v any) (*Collection, bool) {
	switch val := v.(type) {
	case *Collection:
		return val, false
	case []any:
		return NewCollection(elemType, val), true
	case nil:
		return NewCollection(elemType, nil), true
	}
	return nil, false
}

// Elements returns the live element slice.
func (c *Collection) Elements() []any { return c.elements }

// Len returns the live element count.
func (c *Collection) Len() int { return len(c.elements) }

// Add appends an element.
func (c *Collection) Add(v any) { c.elements = append(c.elements, v) }

// Set replaces the element at position i.
func (c *Collection) Set(i int, v any) { c.elements[i] = v }

// Remove deletes the element at position i, preserving order.
func (c *Collection) Remove(i int) {
	c.elements = append(c.elements[:i], c.elements[i+1:]...)
}

// Dirty reports whether the live elements differ from the snapshot.
func (c *Collection) Dirty() bool {
	if len(c.elements) != len(c.snapshot) {
		return true
	}
	for i := range c.elements {
		if !c.elemType.IsEqual(c.snapshot[i], c.elements[i]) {
			return true
		}
	}
	return false
}

// TakeSnapshot re-baselines the collection to its current elements.
// Called after a successful flush so the next dirty check starts
// clean.
func (c *Collection) TakeSnapshot() {
	c.snapshot = make([]any, len(c.elements))
	for i, e := range c.elements {
		c.snapshot[i] = c.elemType.DeepCopy(e)
	}
}

// CollectionType is the slot type for collection-valued properties.
// Dirtiness of the collection contents is tracked by the proxy, not by
// vector comparison, so two references to the same proxy are equal and
// a replaced proxy is dirty.
type CollectionType struct {
	// ElemType supplies comparison semantics for elements.
	ElemType Type
}

func (t CollectionType) Name() string { return "collection:" + t.ElemType.Name() }

func (CollectionType) IsEqual(a, b any) bool { return a == b }

func (t CollectionType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }

func (CollectionType) DeepCopy(v any) any { return v }
