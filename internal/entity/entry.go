package entity

// Key identifies an entity row within the unit of work.
type Key struct {
	EntityName string
	ID         any
}

// Entry is the per-entity bookkeeping the unit of work keeps for the
// lifetime of an instance within the session: identity, lifecycle
// status, the last-known-persisted snapshot, and optimistic
// concurrency state. Mutated only by the flush pipeline; destroyed on
// eviction.
type Entry struct {
	ID         any
	EntityName string
	Status     Status

	// LoadedState is the state vector captured when the instance was
	// loaded or last written. Nil when the entity was loaded without
	// snapshot retention (for instance read-only loading).
	LoadedState []any

	// DeletedState is the snapshot captured at the moment deletion
	// was scheduled. Set only in StatusDeleted.
	DeletedState []any

	// Version is the current optimistic concurrency version. Nil for
	// unversioned entities.
	Version any

	// ExistsInDatabase distinguishes updates from pending inserts.
	ExistsInDatabase bool

	// FromReplication marks entities that entered the session through
	// replication rather than loading.
	FromReplication bool

	// KnownNotDirty short-circuits value reading: when set and a
	// loaded snapshot exists, the snapshot stands in for live values.
	KnownNotDirty bool

	mutable bool
}

// NewEntry creates entry bookkeeping for a loaded instance. mutable
// reflects the persister's mutability; loadedState may be nil.
func NewEntry(entityName string, id any, status Status, loadedState []any, version any, mutable bool) *Entry {
	return &Entry{
		ID:               id,
		EntityName:       entityName,
		Status:           status,
		LoadedState:      loadedState,
		Version:          version,
		ExistsInDatabase: true,
		mutable:          mutable,
	}
}

// Key returns the entry's unit-of-work key.
func (e *Entry) Key() Key {
	return Key{EntityName: e.EntityName, ID: e.ID}
}

// IsModifiable reports whether writes to this entity are permitted at
// all: mutable persister and not read-only.
func (e *Entry) IsModifiable() bool {
	return e.mutable && e.Status != StatusReadOnly
}

// RequiresDirtyCheck reports whether the entity might be dirty and a
// full positional comparison is warranted.
func (e *Entry) RequiresDirtyCheck() bool {
	return e.IsModifiable() && !e.KnownNotDirty
}

// ScheduleDeletion moves the entry to StatusDeleted, capturing the
// deleted-state snapshot that stands in for live values for the rest
// of the flush.
func (e *Entry) ScheduleDeletion(deletedState []any) {
	e.Status = StatusDeleted
	e.DeletedState = deletedState
}

// PostUpdate records the outcome of a successful write: the new
// canonical snapshot and version.
func (e *Entry) PostUpdate(updatedState []any, nextVersion any) {
	e.LoadedState = updatedState
	e.Version = nextVersion
	e.ExistsInDatabase = true
	e.KnownNotDirty = false
}

// PostDelete records that the row is gone.
func (e *Entry) PostDelete() {
	e.Status = StatusGone
	e.ExistsInDatabase = false
}
