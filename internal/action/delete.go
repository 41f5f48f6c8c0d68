package action

import (
	"context"
	"fmt"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/persist"
)

// EntityDeleteAction removes one entity's row. Deletions always evict
// the cached entry; nothing is ever staged for re-caching a deleted
// row.
type EntityDeleteAction struct {
	session   Session
	persister persist.Persister
	instance  any
	id        any
	version   any

	phase    updatePhase
	cacheKey cache.Key
	lock     *cache.SoftLock
}

// NewEntityDeleteAction stages a deletion of instance. version is the
// version the delete's optimistic predicate asserts.
func NewEntityDeleteAction(s Session, p persist.Persister, instance any, id any, version any) *EntityDeleteAction {
	return &EntityDeleteAction{
		session:   s,
		persister: p,
		instance:  instance,
		id:        id,
		version:   version,
	}
}

// EntityName returns the mapped name of the entity being deleted.
func (a *EntityDeleteAction) EntityName() string { return a.persister.EntityName() }

// Instance returns the instance being deleted. The pre-delete-update
// refinement matches dangling references against it.
func (a *EntityDeleteAction) Instance() any { return a.instance }

// ID returns the identifier of the row being deleted.
func (a *EntityDeleteAction) ID() any { return a.id }

// Persister returns the delete target's persister.
func (a *EntityDeleteAction) Persister() persist.Persister { return a.persister }

// Execute implements Action.
func (a *EntityDeleteAction) Execute(ctx context.Context) error {
	if a.phase != phaseCreated {
		return &persist.AssertionError{Message: fmt.Sprintf(
			"delete action for %s#%v executed twice", a.EntityName(), a.id)}
	}

	p := a.persister
	s := a.session

	if p.HasCache() {
		a.cacheKey = cache.Key{EntityName: p.RootEntityName(), ID: a.id}
		lock, err := p.Cache().Lock(a.cacheKey, a.version)
		if err != nil {
			return fmt.Errorf("lock cache key %s: %w", a.cacheKey, err)
		}
		a.lock = lock
	}

	if err := p.Delete(ctx, a.id, a.version, a.instance); err != nil {
		return err
	}

	entry := s.Context().GetEntry(a.instance)
	if entry == nil {
		return &persist.ConcurrencySafetyError{
			EntityName: a.EntityName(),
			ID:         a.id,
			Message:    "entry vanished during flush; session used from multiple contexts",
		}
	}
	entry.PostDelete()

	if p.HasCache() {
		if err := p.Cache().Evict(a.cacheKey); err != nil {
			return fmt.Errorf("evict %s: %w", a.cacheKey, err)
		}
		s.Stats().CacheEviction(a.EntityName())
	}

	s.Logger().Debug("entity delete executed",
		"session", s.ID(),
		"entity", a.EntityName(),
		"id", a.id)

	a.phase = phaseExecuted
	return nil
}

// AfterTransactionCompletion implements Action. The lock is released
// unconditionally; a deleted row has nothing to publish.
func (a *EntityDeleteAction) AfterTransactionCompletion(ctx context.Context, success bool) error {
	if a.phase == phaseCompleted {
		return &persist.AssertionError{Message: fmt.Sprintf(
			"delete action for %s#%v completed twice", a.EntityName(), a.id)}
	}

	if a.persister.HasCache() && a.lock != nil {
		if err := a.persister.Cache().Release(a.cacheKey, a.lock); err != nil {
			return fmt.Errorf("release cache lock for %s: %w", a.cacheKey, err)
		}
	}
	a.phase = phaseCompleted
	return nil
}
