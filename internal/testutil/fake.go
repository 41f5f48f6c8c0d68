package testutil

import (
	"context"
	"fmt"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/meta"
	"github.com/siltdb/silt/internal/persist"
)

// Row is the live instance type FakePersister manages: a positional
// value vector plus its identifier. Tests mutate Values directly to
// simulate application code drifting an entity.
type Row struct {
	ID      any
	Values  []any
	Version any
}

// UpdateCall records one Persister.Update invocation.
type UpdateCall struct {
	ID                 any
	Values             []any
	Dirty              []int
	HasDirtyCollection bool
	PreviousVersion    any
}

// DeleteCall records one Persister.Delete invocation.
type DeleteCall struct {
	ID      any
	Version any
}

// FakePersister is an in-memory persist.Persister for pipeline tests.
// Capability flags are plain fields; tests flip them per scenario.
type FakePersister struct {
	Entity   string
	RootName string
	Props    []meta.Property
	IDType   meta.Type

	Versioned        bool
	VersionSlot      int
	VersionKind      meta.VersionType
	VersionGenerated bool

	Region               cache.Region
	InvalidationRequired bool

	Immutable          bool
	SelectBeforeUpdate bool
	NaturalIDSlots     []int
	CanExtractID       bool

	// DeleteDirtyProps maps a property slot to the entity name whose
	// deletion voids references held in that slot.
	DeleteDirtyProps map[int]string

	// Snapshots is the authoritative store state by identifier.
	Snapshots map[any][]any

	// GeneratedState holds slot values the store produces on update.
	GeneratedState map[int]any

	// GeneratedNextVersion is installed into the row on update when
	// VersionGenerated is set.
	GeneratedNextVersion any

	// UpdateErr, when set, fails every Update call.
	UpdateErr error

	UpdateCalls []UpdateCall
	DeleteCalls []DeleteCall
}

// NewFakePersister creates a mutable, uncached, unversioned persister
// over props. Tests adjust fields for each scenario.
func NewFakePersister(entity string, props []meta.Property) *FakePersister {
	return &FakePersister{
		Entity:       entity,
		RootName:     entity,
		Props:        props,
		IDType:       meta.Int64Type{},
		VersionSlot:  -1,
		CanExtractID: true,
		Snapshots:    make(map[any][]any),
	}
}

func (f *FakePersister) EntityName() string     { return f.Entity }
func (f *FakePersister) RootEntityName() string { return f.RootName }

func (f *FakePersister) Properties() []meta.Property { return f.Props }
func (f *FakePersister) IdentifierType() meta.Type   { return f.IDType }

func (f *FakePersister) CanExtractIDOutOfEntity() bool { return f.CanExtractID }

func (f *FakePersister) GetIdentifier(instance any) (any, error) {
	row, ok := instance.(*Row)
	if !ok {
		return nil, fmt.Errorf("not a test row: %T", instance)
	}
	return row.ID, nil
}

func (f *FakePersister) GetPropertyValues(instance any) ([]any, error) {
	row, ok := instance.(*Row)
	if !ok {
		return nil, fmt.Errorf("not a test row: %T", instance)
	}
	values := make([]any, len(row.Values))
	copy(values, row.Values)
	return values, nil
}

func (f *FakePersister) SetPropertyValues(instance any, values []any) error {
	row, ok := instance.(*Row)
	if !ok {
		return fmt.Errorf("not a test row: %T", instance)
	}
	copy(row.Values, values)
	return nil
}

func (f *FakePersister) GetVersion(instance any) (any, error) {
	row, ok := instance.(*Row)
	if !ok {
		return nil, fmt.Errorf("not a test row: %T", instance)
	}
	return row.Version, nil
}

func (f *FakePersister) IsVersioned() bool    { return f.Versioned }
func (f *FakePersister) VersionProperty() int { return f.VersionSlot }

func (f *FakePersister) VersionType() meta.VersionType { return f.VersionKind }

func (f *FakePersister) IsVersionPropertyGenerated() bool { return f.VersionGenerated }

func (f *FakePersister) HasUpdateGeneratedProperties() bool { return len(f.GeneratedState) > 0 }

func (f *FakePersister) HasCache() bool      { return f.Region != nil }
func (f *FakePersister) Cache() cache.Region { return f.Region }

func (f *FakePersister) IsCacheInvalidationRequired() bool { return f.InvalidationRequired }

func (f *FakePersister) HasCollections() bool {
	for _, p := range f.Props {
		if _, ok := p.Type.(meta.CollectionType); ok {
			return true
		}
	}
	return false
}

func (f *FakePersister) HasNaturalIdentifier() bool { return len(f.NaturalIDSlots) > 0 }

func (f *FakePersister) NaturalIdentifierProperties() []int { return f.NaturalIDSlots }

func (f *FakePersister) IsMutable() bool { return !f.Immutable }

func (f *FakePersister) IsSelectBeforeUpdateRequired() bool { return f.SelectBeforeUpdate }

func (f *FakePersister) IsDeleteDirty(prop int, entityName string) bool {
	return f.DeleteDirtyProps[prop] == entityName
}

func (f *FakePersister) FindDirty(current, previous []any) []int {
	return meta.FindDirty(f.Props, current, previous)
}

func (f *FakePersister) FindModified(snapshot, current []any) []int {
	return meta.FindModified(f.Props, snapshot, current)
}

func (f *FakePersister) Update(ctx context.Context, id any, values []any, dirty []int,
	hasDirtyCollection bool, previousValues []any, previousVersion any,
	instance any, lock persist.LockMode) error {

	if f.UpdateErr != nil {
		return f.UpdateErr
	}

	call := UpdateCall{
		ID:                 id,
		Values:             append([]any(nil), values...),
		Dirty:              append([]int(nil), dirty...),
		HasDirtyCollection: hasDirtyCollection,
		PreviousVersion:    previousVersion,
	}
	f.UpdateCalls = append(f.UpdateCalls, call)

	f.Snapshots[id] = append([]any(nil), values...)

	if f.VersionGenerated {
		if row, ok := instance.(*Row); ok {
			row.Version = f.GeneratedNextVersion
		}
	}
	return nil
}

func (f *FakePersister) Delete(ctx context.Context, id any, version any, instance any) error {
	f.DeleteCalls = append(f.DeleteCalls, DeleteCall{ID: id, Version: version})
	delete(f.Snapshots, id)
	return nil
}

func (f *FakePersister) GetDatabaseSnapshot(ctx context.Context, id any) ([]any, error) {
	snap, ok := f.Snapshots[id]
	if !ok {
		return nil, nil
	}
	return append([]any(nil), snap...), nil
}

func (f *FakePersister) GetNaturalIdentifierSnapshot(ctx context.Context, id any) ([]any, error) {
	snap, ok := f.Snapshots[id]
	if !ok {
		return nil, nil
	}
	vals := make([]any, len(f.NaturalIDSlots))
	for i, pos := range f.NaturalIDSlots {
		vals[i] = snap[pos]
	}
	return vals, nil
}

func (f *FakePersister) ProcessUpdateGeneratedProperties(ctx context.Context, id any, instance any, values []any) error {
	for slot, v := range f.GeneratedState {
		values[slot] = v
		if row, ok := instance.(*Row); ok {
			row.Values[slot] = v
		}
	}
	return nil
}
