package action

import (
	"context"
	"errors"

	"github.com/siltdb/silt/internal/entity"
)

// Queue is the per-unit-of-work ordered action queue. Draining runs
// pending actions in dependency order: pre-delete updates (nulling
// references into soon-deleted rows), then regular updates, then
// deletions.
//
// Single-writer: the owning session is the only goroutine touching the
// queue. Executed actions are retained until the transaction ends so
// every one of them receives its completion callback - on rollback
// too, or cache locks would leak.
type Queue struct {
	preDeleteUpdates []*EntityUpdateAction
	updates          []*EntityUpdateAction
	deletions        []*EntityDeleteAction

	executed []Action

	// lastUpdate tracks the most recent update action per key across
	// the whole transaction, for repeat detection and for version
	// chaining in the pre-delete path.
	lastUpdate map[entity.Key]*EntityUpdateAction
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{lastUpdate: make(map[entity.Key]*EntityUpdateAction)}
}

// AddAction schedules a regular update. A second update of the same
// key within one transaction is marked as a repeat so its Execute
// re-reads the live version instead of trusting construction-time
// state.
func (q *Queue) AddAction(a *EntityUpdateAction) {
	if _, seen := q.lastUpdate[a.Key()]; seen {
		a.markRepeat()
	}
	q.lastUpdate[a.Key()] = a
	q.updates = append(q.updates, a)
}

// AddPreDeleteAction schedules an update that must run before the
// pending deletions.
func (q *Queue) AddPreDeleteAction(a *EntityUpdateAction) {
	if _, seen := q.lastUpdate[a.Key()]; seen {
		a.markRepeat()
	}
	q.lastUpdate[a.Key()] = a
	q.preDeleteUpdates = append(q.preDeleteUpdates, a)
}

// AddDeletion schedules a deletion.
func (q *Queue) AddDeletion(a *EntityDeleteAction) {
	q.deletions = append(q.deletions, a)
}

// DeletionsCount returns the number of pending deletions.
func (q *Queue) DeletionsCount() int {
	return len(q.deletions)
}

// CloneDeletions snapshots the pending deletion list. The copy is
// immutable from the caller's point of view: later additions to the
// queue do not appear in it.
func (q *Queue) CloneDeletions() []*EntityDeleteAction {
	cloned := make([]*EntityDeleteAction, len(q.deletions))
	copy(cloned, q.deletions)
	return cloned
}

// LastUpdateFor returns the most recent update action scheduled for
// key in this transaction, or nil.
func (q *Queue) LastUpdateFor(key entity.Key) *EntityUpdateAction {
	return q.lastUpdate[key]
}

// HasPending reports whether any action awaits execution.
func (q *Queue) HasPending() bool {
	return len(q.preDeleteUpdates) > 0 || len(q.updates) > 0 || len(q.deletions) > 0
}

// ExecuteActions drains the queue in dependency order. Every action is
// recorded as executed before its Execute runs, so a mid-flight
// failure still leaves it eligible for the completion callback that
// releases its resources. On error the drain stops; remaining pending
// actions are dropped (the transaction is going to roll back).
func (q *Queue) ExecuteActions(ctx context.Context) error {
	pending := make([]Action, 0, len(q.preDeleteUpdates)+len(q.updates)+len(q.deletions))
	for _, a := range q.preDeleteUpdates {
		pending = append(pending, a)
	}
	for _, a := range q.updates {
		pending = append(pending, a)
	}
	for _, a := range q.deletions {
		pending = append(pending, a)
	}
	q.preDeleteUpdates = nil
	q.updates = nil
	q.deletions = nil

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.executed = append(q.executed, a)
		if err := a.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AfterTransactionCompletion delivers the completion callback to every
// executed action in execution order, then resets the queue. All
// callbacks run even if some fail; their errors are joined.
func (q *Queue) AfterTransactionCompletion(ctx context.Context, success bool) error {
	var errs []error
	for _, a := range q.executed {
		if err := a.AfterTransactionCompletion(ctx, success); err != nil {
			errs = append(errs, err)
		}
	}
	q.executed = nil
	q.preDeleteUpdates = nil
	q.updates = nil
	q.deletions = nil
	q.lastUpdate = make(map[entity.Key]*EntityUpdateAction)
	return errors.Join(errs...)
}
