package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/entity"
	"github.com/siltdb/silt/internal/meta"
	"github.com/siltdb/silt/internal/testutil"
)

func newUpdate(s *testSession, p *testutil.FakePersister, row *testutil.Row, id int64) *EntityUpdateAction {
	return NewEntityUpdateAction(s, p, row, id,
		append([]any(nil), row.Values...), []int{0}, false,
		nil, nil, nil)
}

func TestQueue_ExecutionOrder(t *testing.T) {
	s := newTestSession()
	p := testutil.NewFakePersister("Product", updateProps())
	ref := testutil.NewFakePersister("Supplier", []meta.Property{
		{Name: "name", Type: meta.StringType{}, Updateable: true},
	})

	// Three entities: one pre-delete update, one deletion, one
	// regular update.
	preRow := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)
	regRow := loadedRow(s, p, 2, []any{"b", int64(2)}, nil)
	delRow := &testutil.Row{ID: int64(9), Values: []any{"gone"}}
	delEntry := entity.NewEntry("Supplier", int64(9), entity.StatusLoaded, []any{"gone"}, nil, true)
	s.pc.AddEntity(delRow, delEntry)
	delEntry.ScheduleDeletion([]any{"gone"})

	q := NewQueue()
	q.AddDeletion(NewEntityDeleteAction(s, ref, delRow, int64(9), nil))
	q.AddAction(newUpdate(s, p, regRow, 2))
	q.AddPreDeleteAction(newUpdate(s, p, preRow, 1))

	require.NoError(t, q.ExecuteActions(context.Background()))

	// Pre-delete update first, then regular update, then deletion.
	require.Len(t, p.UpdateCalls, 2)
	assert.Equal(t, int64(1), p.UpdateCalls[0].ID)
	assert.Equal(t, int64(2), p.UpdateCalls[1].ID)
	require.Len(t, ref.DeleteCalls, 1)
	assert.Equal(t, entity.StatusGone, delEntry.Status)
}

func TestQueue_CloneDeletionsIsSnapshot(t *testing.T) {
	s := newTestSession()
	ref := testutil.NewFakePersister("Supplier", []meta.Property{
		{Name: "name", Type: meta.StringType{}, Updateable: true},
	})
	q := NewQueue()

	d1 := NewEntityDeleteAction(s, ref, &testutil.Row{ID: int64(1)}, int64(1), nil)
	q.AddDeletion(d1)

	cloned := q.CloneDeletions()
	q.AddDeletion(NewEntityDeleteAction(s, ref, &testutil.Row{ID: int64(2)}, int64(2), nil))

	require.Len(t, cloned, 1)
	assert.Same(t, d1, cloned[0])
	assert.Equal(t, 2, q.DeletionsCount())
}

func TestQueue_RepeatUpdateMarked(t *testing.T) {
	s := newTestSession()
	p := testutil.NewFakePersister("Product", updateProps())
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)

	q := NewQueue()
	first := newUpdate(s, p, row, 1)
	second := newUpdate(s, p, row, 1)
	q.AddAction(first)
	q.AddAction(second)

	assert.False(t, first.repeat)
	assert.True(t, second.repeat, "second update of the same key must re-read the live version")
	assert.Same(t, second, q.LastUpdateFor(entity.Key{EntityName: "Product", ID: int64(1)}))
}

func TestQueue_RollbackCallbacksReachFailedDrain(t *testing.T) {
	s := newTestSession()
	region := cache.NewMemoryRegion("product")
	p := testutil.NewFakePersister("Product", updateProps())
	p.Region = region
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)

	failing := testutil.NewFakePersister("Product", updateProps())
	failing.Region = region
	failing.UpdateErr = errors.New("disk full")
	failRow := loadedRow(s, failing, 2, []any{"b", int64(2)}, nil)

	q := NewQueue()
	q.AddAction(newUpdate(s, failing, failRow, 2))
	q.AddAction(newUpdate(s, p, row, 1))

	err := q.ExecuteActions(context.Background())
	require.Error(t, err)
	require.Empty(t, p.UpdateCalls, "drain stops at the first failure")

	// The failed action already holds a cache lock; rollback must
	// still release it.
	require.NoError(t, q.AfterTransactionCompletion(context.Background(), false))
	_, ok := region.Get(cache.Key{EntityName: "Product", ID: int64(2)})
	assert.False(t, ok)

	lock, lockErr := region.Lock(cache.Key{EntityName: "Product", ID: int64(2)}, nil)
	require.NoError(t, lockErr)
	require.NoError(t, region.Release(cache.Key{EntityName: "Product", ID: int64(2)}, lock))
}

func TestQueue_ResetAfterCompletion(t *testing.T) {
	s := newTestSession()
	p := testutil.NewFakePersister("Product", updateProps())
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)

	q := NewQueue()
	q.AddAction(newUpdate(s, p, row, 1))
	require.NoError(t, q.ExecuteActions(context.Background()))
	require.NoError(t, q.AfterTransactionCompletion(context.Background(), true))

	assert.False(t, q.HasPending())
	assert.Nil(t, q.LastUpdateFor(entity.Key{EntityName: "Product", ID: int64(1)}),
		"repeat tracking resets with the transaction")
}
