package cache

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Region is the second-level cache surface the flush pipeline drives.
//
// Protocol, per key: a writer calls Lock before issuing its database
// write, then either Update (optimistic immediate put, allowed to
// decline), and finally exactly one of AfterUpdate (transaction
// committed, publish the staged entry) or Release (transaction rolled
// back or nothing staged). Locks must never outlive the transaction.
type Region interface {
	// Lock announces intent to write key and excludes readers until
	// release. version is the row version observed before the write.
	Lock(key Key, version any) (*SoftLock, error)

	// Update attempts an immediate put of a freshly written entry.
	// Returns true if the put happened; a region may decline (for
	// instance while any lock is outstanding) and wait for
	// AfterUpdate.
	Update(key Key, entry *Entry, nextVersion, previousVersion any) (bool, error)

	// AfterUpdate consumes lock after a durable commit, publishing
	// entry if no other writer still holds the key. Returns true if
	// the entry became readable.
	AfterUpdate(key Key, entry *Entry, nextVersion any, lock *SoftLock) (bool, error)

	// Release consumes lock without publishing anything. Called on
	// rollback and on vetoed or evicted writes.
	Release(key Key, lock *SoftLock) error

	// Evict drops the key unconditionally.
	Evict(key Key) error

	// Get returns the readable entry for key, if any. Locked keys
	// read as misses.
	Get(key Key) (*Entry, bool)
}

// MemoryRegion is an in-process Region with read-write soft-lock
// semantics: locking a key hides its entry, concurrent locks on the
// same key block publication until the last one is consumed.
type MemoryRegion struct {
	name       string
	slots      *xsync.MapOf[string, *slot]
	nextLockID atomic.Uint64
}

type slot struct {
	mu    sync.Mutex
	entry *Entry
	locks map[uint64]*SoftLock
}

// NewMemoryRegion creates an empty region. name is used only for
// diagnostics.
func NewMemoryRegion(name string) *MemoryRegion {
	return &MemoryRegion{
		name:  name,
		slots: xsync.NewMapOf[string, *slot](),
	}
}

// Name returns the region name.
func (r *MemoryRegion) Name() string { return r.name }

func (r *MemoryRegion) slotFor(key Key) *slot {
	s, _ := r.slots.LoadOrCompute(key.String(), func() *slot {
		return &slot{locks: make(map[uint64]*SoftLock)}
	})
	return s
}

// Lock implements Region. The cached entry is dropped immediately so
// no reader can observe a row that is about to change.
func (r *MemoryRegion) Lock(key Key, version any) (*SoftLock, error) {
	s := r.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := &SoftLock{
		id:      r.nextLockID.Add(1),
		key:     key,
		version: version,
	}
	s.entry = nil
	s.locks[lock.id] = lock
	return lock, nil
}

// Update implements Region. While any lock is outstanding the put is
// declined; the writer's own AfterUpdate publishes instead.
func (r *MemoryRegion) Update(key Key, entry *Entry, nextVersion, previousVersion any) (bool, error) {
	s := r.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.locks) > 0 {
		return false, nil
	}
	s.entry = entry
	return true, nil
}

// AfterUpdate implements Region. An unknown lock means the key was
// evicted underneath the writer; nothing is published.
func (r *MemoryRegion) AfterUpdate(key Key, entry *Entry, nextVersion any, lock *SoftLock) (bool, error) {
	s := r.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.locks[lock.id]; !held {
		return false, nil
	}
	delete(s.locks, lock.id)

	// Another writer still has the key locked: its outcome decides
	// what becomes readable.
	if len(s.locks) > 0 {
		return false, nil
	}
	s.entry = entry
	return true, nil
}

// Release implements Region.
func (r *MemoryRegion) Release(key Key, lock *SoftLock) error {
	s := r.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, lock.id)
	return nil
}

// Evict implements Region. Outstanding locks survive eviction; their
// eventual AfterUpdate finds itself unknown and publishes nothing.
func (r *MemoryRegion) Evict(key Key) error {
	r.slots.Delete(key.String())
	return nil
}

// Get implements Region.
func (r *MemoryRegion) Get(key Key) (*Entry, bool) {
	s, ok := r.slots.Load(key.String())
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.locks) > 0 || s.entry == nil {
		return nil, false
	}
	return s.entry, true
}
