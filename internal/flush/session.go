package flush

import (
	"github.com/siltdb/silt/internal/action"
	"github.com/siltdb/silt/internal/persist"
)

// Session is the slice of the unit of work the decision engine needs
// on top of what executing actions need: the action queue it schedules
// into and the dirty-check interceptor.
type Session interface {
	action.Session

	// Queue is the session's ordered action queue.
	Queue() *action.Queue

	// Interceptor is the pluggable dirty-check hook.
	Interceptor() persist.Interceptor
}
