package meta

// Property describes one slot of an entity's state vector.
//
// The property list of a persister fixes the positional meaning of
// every state vector for that entity: current values, loaded
// snapshots, and database snapshots all align index-for-index with
// this list.
type Property struct {
	// Name is the property name as declared in the mapping.
	Name string

	// Type supplies comparison semantics for this slot.
	Type Type

	// Updateable properties participate in UPDATE statements and in
	// dirty checking. Non-updateable properties (insert-only columns,
	// generated columns) are skipped by FindDirty.
	Updateable bool

	// NaturalID marks the property as part of the entity's natural
	// identifier.
	NaturalID bool

	// Immutable natural-identifier properties must never change after
	// load. Altering one is a data-integrity error, not a dirty
	// property.
	Immutable bool

	// Lazy properties are omitted from cache entries.
	Lazy bool
}

// FindDirty returns the positions of updateable properties whose
// current value has drifted from the previous snapshot, in property
// declaration order. Returns nil when nothing is dirty.
//
// The two vectors must be positionally aligned with props.
func FindDirty(props []Property, current, previous []any) []int {
	var dirty []int
	for i := range props {
		if !props[i].Updateable {
			continue
		}
		if props[i].Type.IsDirty(previous[i], current[i]) {
			dirty = append(dirty, i)
		}
	}
	return dirty
}

// FindModified returns the positions of properties whose current value
// differs from the snapshot, regardless of updateability. Used when
// diffing a deleted-state snapshot, where the question is "what
// changed" rather than "what should be written". Returns an empty
// slice, never nil, when nothing differs.
func FindModified(props []Property, snapshot, current []any) []int {
	modified := make([]int, 0)
	for i := range props {
		if !props[i].Type.IsEqual(snapshot[i], current[i]) {
			modified = append(modified, i)
		}
	}
	return modified
}

// DeepCopy snapshots a state vector using each slot's type. The result
// is safe to retain after the live object mutates.
func DeepCopy(props []Property, values []any) []any {
	if values == nil {
		return nil
	}
	cp := make([]any, len(values))
	for i := range props {
		cp[i] = props[i].Type.DeepCopy(values[i])
	}
	return cp
}
