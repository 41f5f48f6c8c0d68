// Package events carries the listener surface of the flush pipeline:
// pre-update hooks that may veto the physical write, and post-update /
// post-commit notifications.
package events

import (
	"context"

	"github.com/siltdb/silt/internal/persist"
)

// UpdateEvent is the immutable payload handed to update listeners.
// State and OldState align positionally with the persister's property
// list; listeners must not mutate them.
type UpdateEvent struct {
	SessionID string
	Instance  any
	ID        any
	State     []any
	OldState  []any
	Persister persist.Persister
}

// PreUpdateListener runs before the physical write. Returning
// veto=true suppresses the write; cache lock and version bookkeeping
// still proceed so the lock is always paired with a release.
type PreUpdateListener interface {
	OnPreUpdate(ctx context.Context, ev *UpdateEvent) (veto bool, err error)
}

// PostUpdateListener runs after Execute, vetoed or not.
type PostUpdateListener interface {
	OnPostUpdate(ctx context.Context, ev *UpdateEvent) error
}

// PostCommitUpdateListener runs once the surrounding transaction has
// durably committed. Not invoked on rollback.
type PostCommitUpdateListener interface {
	OnPostCommitUpdate(ctx context.Context, ev *UpdateEvent) error
}

// Registry holds registered listeners and fires them in registration
// order. Registration happens at configuration time; the registry is
// read-only during a flush.
type Registry struct {
	pre        []PreUpdateListener
	post       []PostUpdateListener
	postCommit []PostCommitUpdateListener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// PreUpdate registers a pre-update listener.
func (r *Registry) PreUpdate(l PreUpdateListener) { r.pre = append(r.pre, l) }

// PostUpdate registers a post-update listener.
func (r *Registry) PostUpdate(l PostUpdateListener) { r.post = append(r.post, l) }

// PostCommitUpdate registers a post-commit listener.
func (r *Registry) PostCommitUpdate(l PostCommitUpdateListener) {
	r.postCommit = append(r.postCommit, l)
}

// FirePreUpdate invokes every pre-update listener in registration
// order. The write is vetoed if any listener vetoes; all listeners
// run regardless.
func (r *Registry) FirePreUpdate(ctx context.Context, ev *UpdateEvent) (bool, error) {
	veto := false
	for _, l := range r.pre {
		v, err := l.OnPreUpdate(ctx, ev)
		if err != nil {
			return veto, err
		}
		veto = veto || v
	}
	return veto, nil
}

// FirePostUpdate invokes every post-update listener in registration
// order.
func (r *Registry) FirePostUpdate(ctx context.Context, ev *UpdateEvent) error {
	for _, l := range r.post {
		if err := l.OnPostUpdate(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// FirePostCommitUpdate invokes every post-commit listener in
// registration order.
func (r *Registry) FirePostCommitUpdate(ctx context.Context, ev *UpdateEvent) error {
	for _, l := range r.postCommit {
		if err := l.OnPostCommitUpdate(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
