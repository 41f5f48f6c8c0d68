package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regionKey() Key {
	return Key{EntityName: "Product", ID: int64(1)}
}

func entry(version int64) *Entry {
	return &Entry{EntityName: "Product", Version: version, Data: []byte(`{}`)}
}

func TestMemoryRegion_LockHidesEntry(t *testing.T) {
	r := NewMemoryRegion("product")
	key := regionKey()

	put, err := r.Update(key, entry(1), int64(1), nil)
	require.NoError(t, err)
	require.True(t, put)

	_, err = r.Lock(key, int64(1))
	require.NoError(t, err)

	_, ok := r.Get(key)
	assert.False(t, ok, "locked key must read as a miss")
}

func TestMemoryRegion_UpdateDeclinedWhileLocked(t *testing.T) {
	r := NewMemoryRegion("product")
	key := regionKey()

	lock, err := r.Lock(key, int64(1))
	require.NoError(t, err)

	put, err := r.Update(key, entry(2), int64(2), int64(1))
	require.NoError(t, err)
	assert.False(t, put, "immediate put must be declined while locked")

	put, err = r.AfterUpdate(key, entry(2), int64(2), lock)
	require.NoError(t, err)
	assert.True(t, put, "commit publishes the staged entry")

	got, ok := r.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryRegion_ReleaseLeavesNothingReadable(t *testing.T) {
	r := NewMemoryRegion("product")
	key := regionKey()

	lock, err := r.Lock(key, int64(1))
	require.NoError(t, err)
	require.NoError(t, r.Release(key, lock))

	_, ok := r.Get(key)
	assert.False(t, ok, "rollback must not leave stale state in the cache")
}

func TestMemoryRegion_ConcurrentLocksBlockPublication(t *testing.T) {
	r := NewMemoryRegion("product")
	key := regionKey()

	l1, err := r.Lock(key, int64(1))
	require.NoError(t, err)
	l2, err := r.Lock(key, int64(1))
	require.NoError(t, err)

	put, err := r.AfterUpdate(key, entry(2), int64(2), l1)
	require.NoError(t, err)
	assert.False(t, put, "a concurrent writer still holds the key")

	put, err = r.AfterUpdate(key, entry(3), int64(3), l2)
	require.NoError(t, err)
	assert.True(t, put)

	got, ok := r.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Version)
}

func TestMemoryRegion_EvictionOrphansLocks(t *testing.T) {
	r := NewMemoryRegion("product")
	key := regionKey()

	lock, err := r.Lock(key, int64(1))
	require.NoError(t, err)
	require.NoError(t, r.Evict(key))

	put, err := r.AfterUpdate(key, entry(2), int64(2), lock)
	require.NoError(t, err)
	assert.False(t, put, "a lock orphaned by eviction must not publish")

	_, ok := r.Get(key)
	assert.False(t, ok)
}
