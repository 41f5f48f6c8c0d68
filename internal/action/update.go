package action

import (
	"context"
	"fmt"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/entity"
	"github.com/siltdb/silt/internal/events"
	"github.com/siltdb/silt/internal/persist"
)

// updatePhase is the explicit state machine of an EntityUpdateAction.
// The two-phase protocol rejects out-of-order invocation instead of
// silently re-running: Execute is legal only in phaseCreated, and
// AfterTransactionCompletion never runs twice.
type updatePhase int

const (
	phaseCreated updatePhase = iota
	phaseExecuted
	phaseCompleted
)

// EntityUpdateAction writes one entity's new state. Constructed by the
// flush decision engine once it has decided a write is necessary,
// executed by the action queue, completed after the transaction ends.
//
// State staged between the two phases (the acquired soft lock and the
// pending cache entry) is owned exclusively by this action until
// AfterTransactionCompletion consumes it.
type EntityUpdateAction struct {
	session   Session
	persister persist.Persister
	instance  any
	id        any

	state              []any
	dirty              []int
	hasDirtyCollection bool
	previousState      []any
	previousVersion    any
	nextVersion        any

	// repeat marks a second update of the same entity within one
	// flush cycle; the previous version must then be re-read from the
	// live instance rather than trusted from construction time.
	repeat bool

	phase       updatePhase
	vetoed      bool
	cacheKey    cache.Key
	lock        *cache.SoftLock
	stagedEntry *cache.Entry
}

// NewEntityUpdateAction stages a write of state for instance. dirty is
// the property mask (nil means the dirty check was impossible and all
// updateable columns are written); previousState and previousVersion
// are what the write's optimistic predicate asserts.
func NewEntityUpdateAction(s Session, p persist.Persister, instance any, id any,
	state []any, dirty []int, hasDirtyCollection bool,
	previousState []any, previousVersion, nextVersion any) *EntityUpdateAction {

	return &EntityUpdateAction{
		session:            s,
		persister:          p,
		instance:           instance,
		id:                 id,
		state:              state,
		dirty:              dirty,
		hasDirtyCollection: hasDirtyCollection,
		previousState:      previousState,
		previousVersion:    previousVersion,
		nextVersion:        nextVersion,
	}
}

// EntityName returns the mapped name of the entity being written.
func (a *EntityUpdateAction) EntityName() string { return a.persister.EntityName() }

// ID returns the identifier of the row being written.
func (a *EntityUpdateAction) ID() any { return a.id }

// Key returns the unit-of-work key of the row being written.
func (a *EntityUpdateAction) Key() entity.Key {
	return entity.Key{EntityName: a.persister.EntityName(), ID: a.id}
}

// NextVersion returns the version this write installs. The pre-delete
// refinement consults it when a later update of the same entity must
// chain off this one.
func (a *EntityUpdateAction) NextVersion() any { return a.nextVersion }

// Vetoed reports whether a pre-update listener suppressed the physical
// write. Meaningful after Execute.
func (a *EntityUpdateAction) Vetoed() bool { return a.vetoed }

func (a *EntityUpdateAction) markRepeat() { a.repeat = true }

// Execute implements Action.
func (a *EntityUpdateAction) Execute(ctx context.Context) error {
	if a.phase != phaseCreated {
		return &persist.AssertionError{Message: fmt.Sprintf(
			"update action for %s#%v executed twice", a.EntityName(), a.id)}
	}

	p := a.persister
	s := a.session

	previousVersion := a.previousVersion
	if p.IsVersionPropertyGenerated() || a.repeat {
		v, err := p.GetVersion(a.instance)
		if err != nil {
			return fmt.Errorf("refresh version of %s#%v: %w", a.EntityName(), a.id, err)
		}
		previousVersion = v
	}

	// The lock precedes both the write and any listener veto, so no
	// concurrent reader can cache a half-written row and the lock is
	// always paired with a release.
	if p.HasCache() {
		a.cacheKey = cache.Key{EntityName: p.RootEntityName(), ID: a.id}
		lock, err := p.Cache().Lock(a.cacheKey, previousVersion)
		if err != nil {
			return fmt.Errorf("lock cache key %s: %w", a.cacheKey, err)
		}
		a.lock = lock
	}

	ev := &events.UpdateEvent{
		SessionID: s.ID(),
		Instance:  a.instance,
		ID:        a.id,
		State:     a.state,
		OldState:  a.previousState,
		Persister: p,
	}

	veto, err := s.Listeners().FirePreUpdate(ctx, ev)
	if err != nil {
		return fmt.Errorf("pre-update listeners for %s#%v: %w", a.EntityName(), a.id, err)
	}
	a.vetoed = veto

	if !veto {
		// No current-persistent-state argument: the persister derives
		// row presence from the database, not the in-memory snapshot.
		err := p.Update(ctx, a.id, a.state, a.dirty, a.hasDirtyCollection,
			a.previousState, previousVersion, a.instance, persist.LockNone)
		if err != nil {
			return err
		}
	} else {
		s.Stats().UpdateVetoed(a.EntityName())
	}

	entry := s.Context().GetEntry(a.instance)
	if entry == nil {
		return &persist.ConcurrencySafetyError{
			EntityName: a.EntityName(),
			ID:         a.id,
			Message:    "entry vanished during flush; session used from multiple contexts",
		}
	}

	if entry.Status == entity.StatusLoaded || p.IsVersionPropertyGenerated() {
		if p.HasUpdateGeneratedProperties() {
			if err := p.ProcessUpdateGeneratedProperties(ctx, a.id, a.instance, a.state); err != nil {
				return fmt.Errorf("update-generated properties of %s#%v: %w", a.EntityName(), a.id, err)
			}
		}
		if p.IsVersioned() && p.IsVersionPropertyGenerated() {
			v, err := p.GetVersion(a.instance)
			if err != nil {
				return fmt.Errorf("read generated version of %s#%v: %w", a.EntityName(), a.id, err)
			}
			a.nextVersion = v
			if slot := p.VersionProperty(); slot >= 0 {
				a.state[slot] = v
			}
		}
		// Safe in place; no other holder of this vector exists past
		// this point.
		entry.PostUpdate(a.state, a.nextVersion)
	}

	if p.HasCache() {
		if p.IsCacheInvalidationRequired() || entry.Status != entity.StatusLoaded {
			if err := p.Cache().Evict(a.cacheKey); err != nil {
				return fmt.Errorf("evict %s: %w", a.cacheKey, err)
			}
			s.Stats().CacheEviction(a.EntityName())
		} else {
			ce, err := cache.Disassemble(p.RootEntityName(), p.Properties(), a.state, a.nextVersion)
			if err != nil {
				return fmt.Errorf("stage cache entry for %s: %w", a.cacheKey, err)
			}
			a.stagedEntry = ce
			put, err := p.Cache().Update(a.cacheKey, ce, a.nextVersion, previousVersion)
			if err != nil {
				return fmt.Errorf("cache update for %s: %w", a.cacheKey, err)
			}
			if put {
				s.Stats().CachePut(a.EntityName())
			}
		}
	}

	if err := s.Listeners().FirePostUpdate(ctx, ev); err != nil {
		return fmt.Errorf("post-update listeners for %s#%v: %w", a.EntityName(), a.id, err)
	}
	if !veto {
		s.Stats().UpdateExecuted(a.EntityName())
	}

	s.Logger().Debug("entity update executed",
		"session", s.ID(),
		"entity", a.EntityName(),
		"id", a.id,
		"dirty", a.dirty,
		"vetoed", veto)

	a.phase = phaseExecuted
	return nil
}

// AfterTransactionCompletion implements Action. Tolerates a partially
// failed Execute: whatever lock was acquired is still released.
func (a *EntityUpdateAction) AfterTransactionCompletion(ctx context.Context, success bool) error {
	if a.phase == phaseCompleted {
		return &persist.AssertionError{Message: fmt.Sprintf(
			"update action for %s#%v completed twice", a.EntityName(), a.id)}
	}

	p := a.persister
	s := a.session

	if p.HasCache() && a.lock != nil {
		if success && a.phase == phaseExecuted && a.stagedEntry != nil {
			put, err := p.Cache().AfterUpdate(a.cacheKey, a.stagedEntry, a.nextVersion, a.lock)
			if err != nil {
				return fmt.Errorf("cache after-update for %s: %w", a.cacheKey, err)
			}
			if put {
				s.Stats().CachePut(a.EntityName())
			}
		} else {
			if err := p.Cache().Release(a.cacheKey, a.lock); err != nil {
				return fmt.Errorf("release cache lock for %s: %w", a.cacheKey, err)
			}
		}
	}

	if success && a.phase == phaseExecuted {
		ev := &events.UpdateEvent{
			SessionID: s.ID(),
			Instance:  a.instance,
			ID:        a.id,
			State:     a.state,
			OldState:  a.previousState,
			Persister: p,
		}
		if err := s.Listeners().FirePostCommitUpdate(ctx, ev); err != nil {
			a.phase = phaseCompleted
			return fmt.Errorf("post-commit listeners for %s#%v: %w", a.EntityName(), a.id, err)
		}
	}

	a.phase = phaseCompleted
	return nil
}
