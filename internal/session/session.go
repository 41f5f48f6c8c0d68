// Package session ties the unit of work together: the persistence
// context that tracks managed instances, the flush decision engine
// that turns drift into scheduled writes, and the action queue that
// executes them and reconciles caches after the transaction settles.
//
// A Session is single-goroutine. Sharing one across goroutines is
// misuse and surfaces as a ConcurrencySafetyError during flush.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/siltdb/silt/internal/action"
	"github.com/siltdb/silt/internal/entity"
	"github.com/siltdb/silt/internal/events"
	"github.com/siltdb/silt/internal/flush"
	"github.com/siltdb/silt/internal/persist"
	"github.com/siltdb/silt/internal/stats"
)

// IDGenerator produces session identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session identifiers.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Session is a unit of work over a set of managed entity instances.
type Session struct {
	id          string
	pc          *entity.Context
	queue       *action.Queue
	listeners   *events.Registry
	interceptor persist.Interceptor
	collector   *stats.Collector
	engine      *flush.Engine
	log         *slog.Logger

	persisters map[string]persist.Persister
	closed     bool
}

// Option configures a Session.
type Option func(*Session)

// WithIDGenerator sets the session identifier generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Session) { s.id = g.Generate() }
}

// WithInterceptor installs a dirty-check interceptor.
func WithInterceptor(i persist.Interceptor) Option {
	return func(s *Session) { s.interceptor = i }
}

// WithListeners installs a pre-populated listener registry.
func WithListeners(r *events.Registry) Option {
	return func(s *Session) { s.listeners = r }
}

// WithStats installs a shared statistics collector.
func WithStats(c *stats.Collector) Option {
	return func(s *Session) { s.collector = c }
}

// WithEngine installs a configured flush engine, typically to enable
// pre-delete updates.
func WithEngine(e *flush.Engine) Option {
	return func(s *Session) { s.engine = e }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New creates an empty session.
func New(opts ...Option) *Session {
	s := &Session{
		id:          UUIDv7Generator{}.Generate(),
		pc:          entity.NewContext(),
		queue:       action.NewQueue(),
		listeners:   events.NewRegistry(),
		interceptor: persist.NopInterceptor{},
		collector:   stats.NewCollector(),
		log:         slog.Default(),
		persisters:  make(map[string]persist.Persister),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = flush.NewEngine(flush.WithLogger(s.log))
	}
	return s
}

// ID implements action.Session.
func (s *Session) ID() string { return s.id }

// Context implements action.Session.
func (s *Session) Context() *entity.Context { return s.pc }

// Queue implements flush.Session.
func (s *Session) Queue() *action.Queue { return s.queue }

// Listeners implements action.Session.
func (s *Session) Listeners() *events.Registry { return s.listeners }

// Stats implements action.Session.
func (s *Session) Stats() *stats.Collector { return s.collector }

// Interceptor implements flush.Session.
func (s *Session) Interceptor() persist.Interceptor { return s.interceptor }

// Logger implements action.Session.
func (s *Session) Logger() *slog.Logger { return s.log }

// RegisterPersister makes a persister available for flushing entities
// of its type.
func (s *Session) RegisterPersister(p persist.Persister) {
	s.persisters[p.EntityName()] = p
}

// Load brings an instance under management as a Loaded entity. state
// is the snapshot read from the store; the session takes ownership of
// the slice.
func (s *Session) Load(instance any, p persist.Persister, id any, state []any, version any) *entity.Entry {
	s.RegisterPersister(p)
	entry := entity.NewEntry(p.EntityName(), id, entity.StatusLoaded, state, version, p.IsMutable())
	s.pc.AddEntity(instance, entry)
	return entry
}

// LoadReadOnly brings an instance under management without dirty
// tracking; read-only entities are only ever checked for collection
// drift.
func (s *Session) LoadReadOnly(instance any, p persist.Persister, id any, state []any, version any) *entity.Entry {
	s.RegisterPersister(p)
	entry := entity.NewEntry(p.EntityName(), id, entity.StatusReadOnly, state, version, p.IsMutable())
	s.pc.AddEntity(instance, entry)
	return entry
}

// Delete schedules a managed instance for deletion. The current state
// is snapshotted so reference dirtiness is still decidable after the
// object mutates further.
func (s *Session) Delete(instance any) error {
	entry := s.pc.GetEntry(instance)
	if entry == nil {
		return &persist.AssertionError{Message: "deleting an unmanaged instance"}
	}
	p, ok := s.persisters[entry.EntityName]
	if !ok {
		return &persist.AssertionError{Message: fmt.Sprintf(
			"no persister registered for %s", entry.EntityName)}
	}

	deleted, err := p.GetPropertyValues(instance)
	if err != nil {
		return fmt.Errorf("snapshot %s#%v for deletion: %w", entry.EntityName, entry.ID, err)
	}
	entry.ScheduleDeletion(deleted)
	s.queue.AddDeletion(action.NewEntityDeleteAction(s, p, instance, entry.ID, entry.Version))
	return nil
}

// Flush runs the decision engine over every managed entity and drains
// the action queue inside the current transaction. Deletions must
// already be scheduled via Delete; handing the engine the full entity
// list after that lets it attribute reference drift to them.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed {
		return &persist.AssertionError{Message: "flush on a completed session"}
	}

	for _, instance := range s.pc.Entities() {
		entry := s.pc.GetEntry(instance)
		if entry == nil {
			continue
		}
		if entry.Status == entity.StatusGone {
			continue
		}
		p, ok := s.persisters[entry.EntityName]
		if !ok {
			return &persist.AssertionError{Message: fmt.Sprintf(
				"no persister registered for %s", entry.EntityName)}
		}
		if _, err := s.engine.FlushEntity(ctx, s, instance, p); err != nil {
			return err
		}
	}

	if err := s.queue.ExecuteActions(ctx); err != nil {
		return err
	}

	s.log.Debug("flushed", "session", s.id)
	return nil
}

// Commit flushes pending work and settles the executed actions with a
// successful outcome: staged cache entries are published and
// post-commit listeners fire. The session stays usable for reads but
// accepts no further flushes.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		// The transaction is doomed; executed actions still need
		// their completion callbacks to release soft locks.
		if cerr := s.complete(ctx, false); cerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, cerr)
		}
		return err
	}
	return s.complete(ctx, true)
}

// Rollback settles executed actions with a failed outcome: soft locks
// are released and nothing is published.
func (s *Session) Rollback(ctx context.Context) error {
	return s.complete(ctx, false)
}

func (s *Session) complete(ctx context.Context, success bool) error {
	if s.closed {
		return &persist.AssertionError{Message: "completing a completed session"}
	}
	s.closed = true
	return s.queue.AfterTransactionCompletion(ctx, success)
}
