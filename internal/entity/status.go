package entity

// Status is the lifecycle state of an entity within one unit of work.
type Status int

const (
	// StatusLoaded is a managed entity whose state may drift and be
	// flushed.
	StatusLoaded Status = iota + 1
	// StatusReadOnly entities are never dirty-checked for scalar
	// drift; only version handling and collection checks apply.
	StatusReadOnly
	// StatusDeleted entities have a deletion scheduled in the current
	// flush. The deleted-state snapshot stands in for live values.
	StatusDeleted
	// StatusGone entities have been deleted from the database; any
	// further flush participation is a bug.
	StatusGone
	// StatusSaving entities are mid-insert; they do not take part in
	// the update pipeline.
	StatusSaving
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusReadOnly:
		return "read-only"
	case StatusDeleted:
		return "deleted"
	case StatusGone:
		return "gone"
	case StatusSaving:
		return "saving"
	}
	return "unknown"
}
