package persist

import (
	"context"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/meta"
)

// LockMode is the row lock requested alongside a write.
type LockMode int

const (
	// LockNone requests no explicit lock; optimistic version
	// comparison at write time is the conflict detector.
	LockNone LockMode = iota
	// LockOptimistic forces a version check even for unversioned
	// writes.
	LockOptimistic
)

// Persister is the per-entity-type persistence contract the flush
// pipeline drives. Implementations own SQL generation, identifier
// access, and metadata; the pipeline owns deciding what to write and
// when.
//
// All state vectors handed to or returned by a Persister align
// positionally with Properties().
type Persister interface {
	// EntityName returns the mapped entity name.
	EntityName() string

	// RootEntityName returns the name cache keys are scoped by. Equal
	// to EntityName for entities outside an inheritance hierarchy.
	RootEntityName() string

	// Properties returns the property descriptors, fixing the
	// positional meaning of every state vector for this entity.
	Properties() []meta.Property

	// IdentifierType compares identifier values.
	IdentifierType() meta.Type

	// CanExtractIDOutOfEntity reports whether the identifier is
	// readable from a live instance.
	CanExtractIDOutOfEntity() bool

	// GetIdentifier reads the identifier from a live instance.
	GetIdentifier(instance any) (any, error)

	// GetPropertyValues reads the current state vector from a live
	// instance.
	GetPropertyValues(instance any) ([]any, error)

	// SetPropertyValues writes a state vector back into a live
	// instance.
	SetPropertyValues(instance any, values []any) error

	// GetVersion reads the version property from a live instance.
	// Returns nil for unversioned entities.
	GetVersion(instance any) (any, error)

	// IsVersioned reports whether the entity carries an optimistic
	// concurrency version.
	IsVersioned() bool

	// VersionProperty returns the version slot index, or -1.
	VersionProperty() int

	// VersionType returns the version comparison/advance semantics.
	// Nil for unversioned entities.
	VersionType() meta.VersionType

	// IsVersionPropertyGenerated reports whether the store, not the
	// pipeline, advances the version.
	IsVersionPropertyGenerated() bool

	// HasUpdateGeneratedProperties reports whether any property value
	// is produced by the store on update and must be re-read.
	HasUpdateGeneratedProperties() bool

	// HasCache reports whether the entity type is second-level
	// cached.
	HasCache() bool

	// Cache returns the cache region. Only meaningful when HasCache.
	Cache() cache.Region

	// IsCacheInvalidationRequired reports that writes must evict
	// rather than re-cache (for instance when SQL-level triggers can
	// change state the pipeline never sees).
	IsCacheInvalidationRequired() bool

	// HasCollections reports whether any property is
	// collection-valued.
	HasCollections() bool

	// HasNaturalIdentifier reports whether any property participates
	// in a natural identifier.
	HasNaturalIdentifier() bool

	// NaturalIdentifierProperties returns the slots of the natural
	// identifier, in declaration order.
	NaturalIdentifierProperties() []int

	// IsMutable reports whether instances may be written at all after
	// insert.
	IsMutable() bool

	// IsSelectBeforeUpdateRequired reports whether an authoritative
	// database snapshot must be fetched before deciding to write.
	IsSelectBeforeUpdateRequired() bool

	// IsDeleteDirty reports whether the reference held in property
	// slot prop becomes semantically void once an instance of
	// entityName is deleted.
	IsDeleteDirty(prop int, entityName string) bool

	// FindDirty diffs current against previous, returning dirty slot
	// positions or nil when clean.
	FindDirty(current, previous []any) []int

	// FindModified diffs current against a snapshot, including
	// non-updateable slots.
	FindModified(snapshot, current []any) []int

	// Update issues the write. dirty is the property mask (nil means
	// all updateable properties), previousVersion the version the
	// WHERE clause asserts. A version mismatch or missing row
	// surfaces as StaleStateError.
	Update(ctx context.Context, id any, values []any, dirty []int,
		hasDirtyCollection bool, previousValues []any, previousVersion any,
		instance any, lock LockMode) error

	// Delete removes the row, asserting version when versioned.
	Delete(ctx context.Context, id any, version any, instance any) error

	// GetDatabaseSnapshot fetches the authoritative state vector for
	// id, or nil when the row does not exist.
	GetDatabaseSnapshot(ctx context.Context, id any) ([]any, error)

	// GetNaturalIdentifierSnapshot fetches the natural-identifier
	// slots for id, aligned with NaturalIdentifierProperties.
	GetNaturalIdentifierSnapshot(ctx context.Context, id any) ([]any, error)

	// ProcessUpdateGeneratedProperties re-reads store-generated
	// values into the state vector after an update.
	ProcessUpdateGeneratedProperties(ctx context.Context, id any, instance any, values []any) error
}
