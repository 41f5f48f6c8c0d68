// Package action holds the unit-of-work action queue and the atomic
// write actions the flush pipeline schedules on it.
//
// Every action is two-phase: Execute runs synchronously inside the
// flush; AfterTransactionCompletion runs exactly once after the
// surrounding transaction commits or rolls back, and is the only place
// cache soft locks are allowed to die.
package action

import (
	"context"
	"log/slog"

	"github.com/siltdb/silt/internal/entity"
	"github.com/siltdb/silt/internal/events"
	"github.com/siltdb/silt/internal/stats"
)

// Session is the slice of the unit of work an executing action needs.
type Session interface {
	// ID is the session token, used for log correlation.
	ID() string

	// Context is the persistence context owning entity entries.
	Context() *entity.Context

	// Listeners is the registered event listener surface.
	Listeners() *events.Registry

	// Stats receives pipeline counters.
	Stats() *stats.Collector

	// Logger returns the session logger.
	Logger() *slog.Logger
}

// Action is one schedulable unit of work.
type Action interface {
	// Execute performs the synchronous phase.
	Execute(ctx context.Context) error

	// AfterTransactionCompletion performs the post-transaction phase.
	// success reports whether the transaction durably committed.
	// Called exactly once for every action whose Execute was
	// attempted, regardless of outcome; this is where soft locks are
	// released.
	AfterTransactionCompletion(ctx context.Context, success bool) error
}
