package meta

import "time"

// VersionType extends Type with the operations optimistic concurrency
// needs: seeding a version for a fresh row and advancing it for an
// update.
type VersionType interface {
	Type

	// Seed returns the version for a newly inserted row.
	Seed() any

	// Next returns the version that follows current. Implementations
	// must return a value unequal to current.
	Next(current any) any
}

// CounterVersionType is an int64 counter version. Deterministic, so
// it is also the version type tests use.
type CounterVersionType struct{}

func (CounterVersionType) Name() string { return "counter" }

func (CounterVersionType) IsEqual(a, b any) bool {
	return Int64Type{}.IsEqual(a, b)
}

func (t CounterVersionType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }
func (CounterVersionType) DeepCopy(v any) any          { return v }

func (CounterVersionType) Seed() any { return int64(1) }

func (CounterVersionType) Next(current any) any {
	c, ok := current.(int64)
	if !ok {
		return int64(1)
	}
	return c + 1
}

// TimestampVersionType versions rows with wall-clock instants. Now is
// pluggable so tests can pin time; the zero value uses time.Now.
type TimestampVersionType struct {
	Now func() time.Time
}

func (TimestampVersionType) Name() string { return "timestamp" }

func (TimestampVersionType) IsEqual(a, b any) bool {
	return TimeType{}.IsEqual(a, b)
}

func (t TimestampVersionType) IsDirty(old, cur any) bool { return !t.IsEqual(old, cur) }
func (TimestampVersionType) DeepCopy(v any) any          { return v }

func (t TimestampVersionType) Seed() any { return t.now() }

func (t TimestampVersionType) Next(current any) any {
	next := t.now()
	// Guard against clocks too coarse to distinguish two versions
	// within one flush.
	if cur, ok := current.(time.Time); ok && !next.After(cur) {
		next = cur.Add(time.Nanosecond)
	}
	return next
}

func (t TimestampVersionType) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// VersionTypeByName resolves a version type from its mapping name.
func VersionTypeByName(name string) (VersionType, bool) {
	switch name {
	case "counter":
		return CounterVersionType{}, true
	case "timestamp":
		return TimestampVersionType{}, true
	}
	return nil, false
}
