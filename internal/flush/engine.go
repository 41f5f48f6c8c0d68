// Package flush implements the flush decision engine: given an entity
// whose in-memory state may have drifted from its last persisted
// snapshot, decide whether a write is needed, which properties are
// dirty, whether any of them are explained by a pending deletion, and
// schedule the resulting update actions in dependency order.
//
// Deciding is side-effect-free until the verdict: no entry state, no
// cache state, and no store state changes unless an update is actually
// scheduled.
package flush

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siltdb/silt/internal/action"
	"github.com/siltdb/silt/internal/entity"
	"github.com/siltdb/silt/internal/meta"
	"github.com/siltdb/silt/internal/persist"
)

// Engine is the per-session-factory flush decision engine. Stateless
// across entities; safe to share between sessions.
type Engine struct {
	preDeleteUpdates bool
	log              *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPreDeleteUpdates enables the pre-delete-update refinement:
// dirty properties explained by a pending deletion are split off into
// an update that nulls the dangling references before the deletions
// run.
func WithPreDeleteUpdates() Option {
	return func(e *Engine) { e.preDeleteUpdates = true }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decision is the engine's verdict for one entity.
type Decision struct {
	// Values is the state vector the verdict was computed from.
	Values []any

	// DirtyProperties is the regular dirty set, in property
	// declaration order. Nil when nothing is dirty or the check was
	// impossible.
	DirtyProperties []int

	// PreDeleteProperties is the slice of the dirty set attributed to
	// pending deletions and scheduled as a pre-delete update.
	PreDeleteProperties []int

	// DirtyCheckPossible is false only when no snapshot of any kind
	// was obtainable; the entity is then conservatively written.
	DirtyCheckPossible bool

	// HasDirtyCollection reports collection drift found by the
	// visitor.
	HasDirtyCollection bool

	// DatabaseSnapshot is the authoritative snapshot, when one was
	// fetched.
	DatabaseSnapshot []any

	// UpdateScheduled reports whether a regular update action was
	// queued.
	UpdateScheduled bool

	// PreDeleteScheduled reports whether a pre-delete update action
	// was queued.
	PreDeleteScheduled bool
}

// FlushEntity runs the decision pipeline for one managed instance and
// schedules whatever writes it concludes are necessary.
func (e *Engine) FlushEntity(ctx context.Context, s Session, instance any, p persist.Persister) (*Decision, error) {
	entry := s.Context().GetEntry(instance)
	if entry == nil {
		return nil, &persist.AssertionError{Message: fmt.Sprintf(
			"flushing unmanaged %s instance", p.EntityName())}
	}
	if entry.Status == entity.StatusGone || entry.Status == entity.StatusSaving {
		return &Decision{DirtyCheckPossible: true}, nil
	}

	values, err := e.entityValues(ctx, s, instance, entry, p)
	if err != nil {
		return nil, err
	}

	dec := &Decision{Values: values, DirtyCheckPossible: true}

	var dirty []int
	if entry.RequiresDirtyCheck() || entry.Status == entity.StatusDeleted {
		var possible bool
		dirty, possible, dec.DatabaseSnapshot, err = e.dirtyCheck(ctx, s, instance, entry, p, values)
		if err != nil {
			return nil, err
		}
		dec.DirtyCheckPossible = possible
	}

	if p.IsVersioned() && p.HasCollections() &&
		(entry.Status == entity.StatusLoaded || entry.Status == entity.StatusReadOnly) {
		search := dirtyCollectionSearch{}
		search.visit(values)
		dec.HasDirtyCollection = search.found
	}

	regular := dirty
	if e.preDeleteUpdates && len(dirty) > 0 && s.Queue().DeletionsCount() > 0 {
		regular, err = e.refineForPendingDeletions(ctx, s, instance, entry, p, values, dirty, dec)
		if err != nil {
			return nil, err
		}
	}

	// A version-only dirty set left behind by an earlier update of
	// this entity in the same flush is an artifact, not drift; a
	// second write for that single slot would be redundant.
	if len(regular) == 1 && regular[0] == p.VersionProperty() &&
		s.Queue().LastUpdateFor(entry.Key()) != nil {
		regular = nil
	}
	dec.DirtyProperties = regular

	if !dec.DirtyCheckPossible || len(regular) > 0 || dec.HasDirtyCollection {
		e.scheduleUpdate(s, instance, entry, p, values, regular, dec)
		dec.UpdateScheduled = true
	}

	e.log.Debug("flush decision",
		"session", s.ID(),
		"entity", p.EntityName(),
		"id", entry.ID,
		"dirty", dec.DirtyProperties,
		"preDelete", dec.PreDeleteProperties,
		"dirtyCheckPossible", dec.DirtyCheckPossible,
		"dirtyCollection", dec.HasDirtyCollection,
		"update", dec.UpdateScheduled)

	return dec, nil
}

// entityValues obtains the state vector the dirty check runs against:
// the deleted-state snapshot for deleted entities, the loaded snapshot
// for entities known not dirty, and otherwise live values read off the
// instance after identifier tamper checks.
func (e *Engine) entityValues(ctx context.Context, s Session, instance any, entry *entity.Entry, p persist.Persister) ([]any, error) {
	if entry.Status == entity.StatusDeleted {
		if entry.DeletedState == nil {
			return nil, &persist.AssertionError{Message: fmt.Sprintf(
				"deleted %s#%v has no deleted-state snapshot", p.EntityName(), entry.ID)}
		}
		return entry.DeletedState, nil
	}

	if entry.KnownNotDirty && entry.LoadedState != nil {
		// A copy, because a collection-only update installs the next
		// version into this vector before the write executes.
		return append([]any(nil), entry.LoadedState...), nil
	}

	if err := e.checkID(instance, entry, p); err != nil {
		return nil, err
	}
	values, err := p.GetPropertyValues(instance)
	if err != nil {
		return nil, fmt.Errorf("read state of %s#%v: %w", p.EntityName(), entry.ID, err)
	}
	if err := e.checkNaturalID(ctx, s, entry, p, values); err != nil {
		return nil, err
	}

	if p.HasCollections() {
		if subs := wrapCollections(p.Properties(), values); len(subs) > 0 {
			// The live object must see the proxy or the next read
			// re-wraps from scratch, and the loaded snapshot must
			// hold the same proxy for identity compare.
			if err := p.SetPropertyValues(instance, values); err != nil {
				return nil, fmt.Errorf("write collection proxies into %s#%v: %w", p.EntityName(), entry.ID, err)
			}
			if entry.LoadedState != nil {
				for _, i := range subs {
					entry.LoadedState[i] = values[i]
				}
			}
		}
	}
	return values, nil
}

// checkID verifies the identifier held by the live instance still
// matches the one the entity was loaded under.
func (e *Engine) checkID(instance any, entry *entity.Entry, p persist.Persister) error {
	if !p.CanExtractIDOutOfEntity() {
		return nil
	}
	id, err := p.GetIdentifier(instance)
	if err != nil {
		return fmt.Errorf("read identifier of %s: %w", p.EntityName(), err)
	}
	if !p.IdentifierType().IsEqual(id, entry.ID) {
		return &persist.IntegrityError{
			EntityName: p.EntityName(),
			ID:         entry.ID,
			Message:    fmt.Sprintf("identifier altered from %v to %v", entry.ID, id),
		}
	}
	return nil
}

// checkNaturalID verifies that immutable natural-identifier properties
// were not altered since load.
func (e *Engine) checkNaturalID(ctx context.Context, s Session, entry *entity.Entry, p persist.Persister, values []any) error {
	if !p.HasNaturalIdentifier() {
		return nil
	}

	snapshot := entry.LoadedState
	positions := p.NaturalIdentifierProperties()
	props := p.Properties()

	if snapshot == nil {
		natural, err := s.Context().GetNaturalIDSnapshot(ctx, entry.ID, p)
		if err != nil {
			return err
		}
		if natural == nil {
			return nil
		}
		for i, pos := range positions {
			if !props[pos].Immutable {
				continue
			}
			if !props[pos].Type.IsEqual(natural[i], values[pos]) {
				return e.naturalIDError(entry, p, props[pos].Name)
			}
		}
		return nil
	}

	for _, pos := range positions {
		if !props[pos].Immutable {
			continue
		}
		if !props[pos].Type.IsEqual(snapshot[pos], values[pos]) {
			return e.naturalIDError(entry, p, props[pos].Name)
		}
	}
	return nil
}

func (e *Engine) naturalIDError(entry *entity.Entry, p persist.Persister, prop string) error {
	return &persist.IntegrityError{
		EntityName: p.EntityName(),
		ID:         entry.ID,
		Property:   prop,
		Message:    "immutable natural identifier altered",
	}
}

// dirtyCheck computes the dirty property set. The interception hook
// runs first; when it declines, positional comparison picks the best
// available reference snapshot: loaded state, the deleted-state
// snapshot, or an authoritative database snapshot. possible is false
// only when no snapshot of any kind could be obtained.
func (e *Engine) dirtyCheck(ctx context.Context, s Session, instance any, entry *entity.Entry, p persist.Persister, values []any) (dirty []int, possible bool, dbSnap []any, err error) {
	res := s.Interceptor().FindDirty(instance, entry.ID, values, entry.LoadedState, p.Properties())
	if res.Handled() {
		return res.Dirty(), true, nil, nil
	}

	if entry.LoadedState != nil {
		return p.FindDirty(values, entry.LoadedState), true, nil, nil
	}

	if entry.Status == entity.StatusDeleted && !entry.IsModifiable() {
		if len(entry.DeletedState) != len(p.Properties()) {
			return nil, false, nil, &persist.AssertionError{Message: fmt.Sprintf(
				"deleted-state snapshot of %s#%v does not match its property list",
				p.EntityName(), entry.ID)}
		}
		current, err := p.GetPropertyValues(instance)
		if err != nil {
			return nil, false, nil, fmt.Errorf("re-read state of %s#%v: %w", p.EntityName(), entry.ID, err)
		}
		// A non-modifiable deleted entity is never written except to
		// null references that are about to dangle; only
		// association slots may legitimately differ.
		props := p.Properties()
		var refs []int
		for _, i := range p.FindModified(entry.DeletedState, current) {
			if _, isRef := props[i].Type.(meta.EntityType); isRef {
				refs = append(refs, i)
			}
		}
		return refs, true, nil, nil
	}

	var snap []any
	if p.IsSelectBeforeUpdateRequired() {
		snap, err = s.Context().GetDatabaseSnapshot(ctx, entry.ID, p)
		if err != nil {
			return nil, false, nil, err
		}
		if snap == nil {
			s.Stats().OptimisticFailure(p.EntityName())
			return nil, false, nil, &persist.StaleStateError{
				EntityName: p.EntityName(),
				ID:         entry.ID,
				Message:    "row vanished before select-before-update",
			}
		}
	} else if cached, fetched := s.Context().GetCachedDatabaseSnapshot(entry.Key()); fetched && cached != nil {
		snap = cached
	}

	if snap == nil {
		// No reference snapshot obtainable; callers must treat the
		// entity as dirty.
		return nil, false, nil, nil
	}
	return p.FindDirty(values, snap), true, snap, nil
}

// refineForPendingDeletions partitions the dirty set against the
// queued deletions, scheduling a pre-delete update that nulls
// attributed references ahead of the deletions, and returning the
// remaining regular dirty set.
func (e *Engine) refineForPendingDeletions(ctx context.Context, s Session, instance any, entry *entity.Entry, p persist.Persister, values []any, dirty []int, dec *Decision) ([]int, error) {
	snapshot := entry.LoadedState
	if snapshot == nil {
		snapshot = entry.DeletedState
	}
	if snapshot == nil {
		return dirty, nil
	}

	// For a deleted entity the dirty set was diffed against the live
	// state, so the reference that explains a slot may sit on the
	// live side while the snapshot holds nil.
	var current []any
	if entry.Status == entity.StatusDeleted {
		cur, err := p.GetPropertyValues(instance)
		if err != nil {
			return dirty, fmt.Errorf("re-read state of %s#%v: %w", p.EntityName(), entry.ID, err)
		}
		current = cur
	}

	preDelete, regular := PartitionForDeletions(p, snapshot, current, dirty, s.Queue().CloneDeletions())
	if len(preDelete) == 0 {
		return regular, nil
	}

	preState := make([]any, len(values))
	copy(preState, values)
	for _, i := range preDelete {
		preState[i] = nil
	}

	// When an earlier update of this entity already ran in this
	// flush, that update's computed version is the row's version by
	// the time the pre-delete write executes; the entry still holds
	// the pre-flush one.
	previousVersion := entry.Version
	if prior := s.Queue().LastUpdateFor(entry.Key()); prior != nil && prior.NextVersion() != nil {
		previousVersion = prior.NextVersion()
	}
	nextVersion := e.nextVersion(entry, p, previousVersion)
	if nextVersion != nil {
		if slot := p.VersionProperty(); slot >= 0 {
			preState[slot] = nextVersion
		}
	}

	previousState := entry.LoadedState
	if previousState == nil {
		previousState = entry.DeletedState
	}

	a := action.NewEntityUpdateAction(s, p, instance, entry.ID,
		preState, preDelete, false, previousState, previousVersion, nextVersion)
	s.Queue().AddPreDeleteAction(a)
	s.Stats().PreDeleteUpdate(p.EntityName())

	dec.PreDeleteProperties = preDelete
	dec.PreDeleteScheduled = true
	return regular, nil
}

// PartitionForDeletions splits dirty into the positions attributed to
// one of the pending deletions and the rest. A position is attributed
// when its snapshot value, or its current value when a current vector
// is supplied, is a live reference to an entity matching a queued
// deletion by entity name and value equality, or when the persister
// declares the reference void once that entity is gone. current may
// be nil when the dirty set was diffed against the snapshot itself.
// The split is a pure function of its inputs.
func PartitionForDeletions(p persist.Persister, snapshot, current []any, dirty []int, deletions []*action.EntityDeleteAction) (preDelete, regular []int) {
	props := p.Properties()
	for _, i := range dirty {
		attributed := attributedToDeletion(p, props[i], i, snapshot[i], deletions)
		if !attributed && current != nil {
			attributed = attributedToDeletion(p, props[i], i, current[i], deletions)
		}
		if attributed {
			preDelete = append(preDelete, i)
		} else {
			regular = append(regular, i)
		}
	}
	return preDelete, regular
}

func attributedToDeletion(p persist.Persister, prop meta.Property, pos int, val any, deletions []*action.EntityDeleteAction) bool {
	if val == nil {
		return false
	}
	ref, isRef := prop.Type.(meta.EntityType)
	for _, d := range deletions {
		if isRef && ref.AssociatedEntity == d.EntityName() && ref.IsEqual(val, d.Instance()) {
			return true
		}
		if p.IsDeleteDirty(pos, d.EntityName()) {
			return true
		}
	}
	return false
}

// scheduleUpdate computes the version transition and queues the
// regular update action. An update already queued for this key this
// flush, including a pre-delete one scheduled moments ago, owns the
// version the row will carry when this write executes.
func (e *Engine) scheduleUpdate(s Session, instance any, entry *entity.Entry, p persist.Persister, values []any, regular []int, dec *Decision) {
	previousVersion := entry.Version
	if prior := s.Queue().LastUpdateFor(entry.Key()); prior != nil && prior.NextVersion() != nil {
		previousVersion = prior.NextVersion()
	}
	nextVersion := e.nextVersion(entry, p, previousVersion)
	if nextVersion != nil {
		if slot := p.VersionProperty(); slot >= 0 {
			values[slot] = nextVersion
		}
	}

	previousState := entry.LoadedState
	if previousState == nil {
		previousState = dec.DatabaseSnapshot
	}

	dirtyMask := regular
	if !dec.DirtyCheckPossible {
		// Unknown dirtiness writes every updateable column.
		dirtyMask = nil
	} else if dirtyMask == nil {
		// Collection-only updates carry an empty mask, which writes
		// nothing but the version.
		dirtyMask = []int{}
	}

	a := action.NewEntityUpdateAction(s, p, instance, entry.ID,
		values, dirtyMask, dec.HasDirtyCollection, previousState, previousVersion, nextVersion)
	s.Queue().AddAction(a)
}

// nextVersion computes the version the row will carry after the
// write. Nil means no client-side increment: the entity is
// unversioned, the store generates the version, or the entity is
// scheduled for deletion and a bump would be wasted on a vanishing
// row.
func (e *Engine) nextVersion(entry *entity.Entry, p persist.Persister, previous any) any {
	if !p.IsVersioned() || p.IsVersionPropertyGenerated() {
		return nil
	}
	if entry.Status == entity.StatusDeleted {
		return nil
	}
	return p.VersionType().Next(previous)
}
