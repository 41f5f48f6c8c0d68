package cache

import "fmt"

// Key identifies one cached row: the entity's identifier qualified by
// the root entity name. Subclass persisters share their root's cache
// space, so the key always uses the root name.
type Key struct {
	EntityName string
	ID         any
}

// String renders the key in its canonical map-key form.
func (k Key) String() string {
	return fmt.Sprintf("%s#%v", k.EntityName, k.ID)
}

// SoftLock is the advisory exclusivity token over one cache key, held
// from the moment a writer announces intent until the transaction
// ends. It carries no storage-level guarantees; optimistic version
// comparison at write time is the actual conflict detector.
//
// Tokens are opaque to holders: only the region that issued a lock can
// consume it.
type SoftLock struct {
	id      uint64
	key     Key
	version any
}

// Key returns the cache key the lock covers.
func (l *SoftLock) Key() Key { return l.key }

// Version returns the row version observed when the lock was taken.
func (l *SoftLock) Version() any { return l.version }
