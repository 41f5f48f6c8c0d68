package meta

import (
	"bytes"
	"time"
)

// Type defines the comparison semantics for one property slot.
//
// Equality is positional: the flush pipeline compares the value at
// position i of the current state vector against position i of a
// snapshot vector using the Type declared for that position. Types
// never carry per-instance state.
type Type interface {
	// Name identifies the type in mappings and diagnostics.
	Name() string

	// IsEqual reports whether two values are the same for snapshot
	// comparison purposes.
	IsEqual(a, b any) bool

	// IsDirty reports whether cur has drifted from old and a write is
	// needed for this slot.
	IsDirty(old, cur any) bool

	// DeepCopy returns a value safe to retain in a snapshot after the
	// live object mutates.
	DeepCopy(v any) any
}

// StringType compares string-valued properties.
type StringType struct{}

func (StringType) Name() string { return "string" }

func (StringType) IsEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	return aok && bok && as == bs
}

func (t StringType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }
func (StringType) DeepCopy(v any) any          { return v }

// Int64Type compares integer-valued properties. Values are always
// int64, never int, so vectors read back from a driver compare equal
// to vectors read from a live object.
type Int64Type struct{}

func (Int64Type) Name() string { return "int64" }

func (Int64Type) IsEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	return aok && bok && ai == bi
}

func (t Int64Type) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }
func (Int64Type) DeepCopy(v any) any          { return v }

// BoolType compares boolean-valued properties.
type BoolType struct{}

func (BoolType) Name() string { return "bool" }

func (BoolType) IsEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	return aok && bok && ab == bb
}

func (t BoolType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }
func (BoolType) DeepCopy(v any) any          { return v }

// TimeType compares time.Time-valued properties by instant, ignoring
// the monotonic clock reading and location.
type TimeType struct{}

func (TimeType) Name() string { return "time" }

func (TimeType) IsEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	return aok && bok && at.Equal(bt)
}

func (t TimeType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }
func (TimeType) DeepCopy(v any) any          { return v }

// BytesType compares []byte-valued properties by content.
type BytesType struct{}

func (BytesType) Name() string { return "bytes" }

func (BytesType) IsEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	return aok && bok && bytes.Equal(ab, bb)
}

func (t BytesType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }

func (BytesType) DeepCopy(v any) any {
	b, ok := v.([]byte)
	if !ok || b == nil {
		return v
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// EntityType compares association-valued properties. Values are live
// instances of the associated entity; equality is instance identity,
// which is what snapshot comparison needs: a property is dirty when it
// points at a different object than it did at load time.
type EntityType struct {
	// AssociatedEntity names the entity this property references.
	AssociatedEntity string
}

func (t EntityType) Name() string { return "entity:" + t.AssociatedEntity }

func (EntityType) IsEqual(a, b any) bool { return a == b }

func (t EntityType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }
func (EntityType) DeepCopy(v any) any          { return v }

// lookup table for mapping-declared type names
var builtinTypes = map[string]Type{
	"string": StringType{},
	"int64":  Int64Type{},
	"bool":   BoolType{},
	"time":   TimeType{},
	"bytes":  BytesType{},
}

// TypeByName resolves a built-in scalar type from its mapping name.
// Association and collection types carry parameters and are built
// directly, not through this table.
func TypeByName(name string) (Type, bool) {
	t, ok := builtinTypes[name]
	return t, ok
}
