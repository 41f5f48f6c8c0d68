package action

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/entity"
	"github.com/siltdb/silt/internal/events"
	"github.com/siltdb/silt/internal/meta"
	"github.com/siltdb/silt/internal/persist"
	"github.com/siltdb/silt/internal/stats"
	"github.com/siltdb/silt/internal/testutil"
)

type testSession struct {
	id        string
	pc        *entity.Context
	listeners *events.Registry
	collector *stats.Collector
	logger    *slog.Logger
}

func newTestSession() *testSession {
	return &testSession{
		id:        "test-session",
		pc:        entity.NewContext(),
		listeners: events.NewRegistry(),
		collector: stats.NewCollector(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (s *testSession) ID() string                  { return s.id }
func (s *testSession) Context() *entity.Context    { return s.pc }
func (s *testSession) Listeners() *events.Registry { return s.listeners }
func (s *testSession) Stats() *stats.Collector     { return s.collector }
func (s *testSession) Logger() *slog.Logger        { return s.logger }

type vetoListener struct{ veto bool }

func (l vetoListener) OnPreUpdate(ctx context.Context, ev *events.UpdateEvent) (bool, error) {
	return l.veto, nil
}

type commitRecorder struct{ fired *int }

func (r commitRecorder) OnPostCommitUpdate(ctx context.Context, ev *events.UpdateEvent) error {
	*r.fired++
	return nil
}

func updateProps() []meta.Property {
	return []meta.Property{
		{Name: "name", Type: meta.StringType{}, Updateable: true},
		{Name: "qty", Type: meta.Int64Type{}, Updateable: true},
	}
}

func loadedRow(s *testSession, p *testutil.FakePersister, id int64, values []any, version any) *testutil.Row {
	row := &testutil.Row{ID: id, Values: append([]any(nil), values...), Version: version}
	loaded := append([]any(nil), values...)
	entry := entity.NewEntry(p.Entity, id, entity.StatusLoaded, loaded, version, p.IsMutable())
	s.pc.AddEntity(row, entry)
	p.Snapshots[id] = append([]any(nil), values...)
	return row
}

func TestUpdateAction_ExecuteWrites(t *testing.T) {
	s := newTestSession()
	p := testutil.NewFakePersister("Product", updateProps())
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)
	row.Values[0] = "b"

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(1)}, []int{0}, false,
		[]any{"a", int64(1)}, nil, nil)

	require.NoError(t, a.Execute(context.Background()))

	require.Len(t, p.UpdateCalls, 1)
	assert.Equal(t, []int{0}, p.UpdateCalls[0].Dirty)
	assert.Equal(t, []any{"b", int64(1)}, p.UpdateCalls[0].Values)
	assert.Equal(t, uint64(1), s.collector.Updates("Product"))

	entry := s.pc.GetEntry(row)
	assert.Equal(t, []any{"b", int64(1)}, entry.LoadedState,
		"canonical snapshot refreshed after the write")
}

func TestUpdateAction_VetoSkipsWriteButKeepsBookkeeping(t *testing.T) {
	s := newTestSession()
	s.listeners.PreUpdate(vetoListener{veto: true})
	region := cache.NewMemoryRegion("product")
	p := testutil.NewFakePersister("Product", updateProps())
	p.Region = region
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(1)}, []int{0}, false,
		[]any{"a", int64(1)}, nil, nil)

	require.NoError(t, a.Execute(context.Background()))

	assert.Empty(t, p.UpdateCalls, "vetoed write must not hit the store")
	assert.Equal(t, uint64(1), s.collector.Vetoes("Product"))
	assert.True(t, a.Vetoed())

	// The lock acquired before the veto still gets its release.
	require.NoError(t, a.AfterTransactionCompletion(context.Background(), true))
	_, ok := region.Get(cache.Key{EntityName: "Product", ID: int64(1)})
	assert.True(t, ok, "vetoed write still staged the fresh state")
}

func TestUpdateAction_CommitPublishesStagedEntry(t *testing.T) {
	s := newTestSession()
	region := cache.NewMemoryRegion("product")
	p := testutil.NewFakePersister("Product", updateProps())
	p.Region = region
	p.Versioned = true
	p.VersionKind = meta.CounterVersionType{}
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, int64(1))

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(1)}, []int{0}, false,
		[]any{"a", int64(1)}, int64(1), int64(2))

	require.NoError(t, a.Execute(context.Background()))

	key := cache.Key{EntityName: "Product", ID: int64(1)}
	_, ok := region.Get(key)
	assert.False(t, ok, "entry stays hidden until commit while locked")

	require.NoError(t, a.AfterTransactionCompletion(context.Background(), true))

	got, ok := region.Get(key)
	require.True(t, ok, "commit publishes the staged entry")
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, uint64(1), s.collector.CachePuts("Product"))
}

func TestUpdateAction_CachedEntityWithReferenceExecutes(t *testing.T) {
	s := newTestSession()
	region := cache.NewMemoryRegion("product")
	props := []meta.Property{
		{Name: "name", Type: meta.StringType{}, Updateable: true},
		{Name: "supplier", Type: meta.EntityType{AssociatedEntity: "Supplier"}, Updateable: true},
	}
	p := testutil.NewFakePersister("Product", props)
	p.Region = region
	supplier := &testutil.Row{ID: int64(7), Values: []any{"acme"}}
	row := loadedRow(s, p, 1, []any{"a", supplier}, nil)
	row.Values[0] = "b"

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", supplier}, []int{0}, false,
		[]any{"a", supplier}, nil, nil)

	require.NoError(t, a.Execute(context.Background()))
	require.Len(t, p.UpdateCalls, 1)

	require.NoError(t, a.AfterTransactionCompletion(context.Background(), true))

	got, ok := region.Get(cache.Key{EntityName: "Product", ID: int64(1)})
	require.True(t, ok, "the scalar slots still reach the cache")
	assert.True(t, got.Partial, "reference slot is excluded from the body")
}

func TestUpdateAction_RollbackReleasesLock(t *testing.T) {
	s := newTestSession()
	region := cache.NewMemoryRegion("product")
	p := testutil.NewFakePersister("Product", updateProps())
	p.Region = region
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(1)}, []int{0}, false,
		[]any{"a", int64(1)}, nil, nil)

	require.NoError(t, a.Execute(context.Background()))
	require.NoError(t, a.AfterTransactionCompletion(context.Background(), false))

	_, ok := region.Get(cache.Key{EntityName: "Product", ID: int64(1)})
	assert.False(t, ok, "the cache must not retain state for a rolled-back write")
}

func TestUpdateAction_EvictsWhenInvalidationRequired(t *testing.T) {
	s := newTestSession()
	region := cache.NewMemoryRegion("product")
	p := testutil.NewFakePersister("Product", updateProps())
	p.Region = region
	p.InvalidationRequired = true
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(1)}, []int{0}, false,
		[]any{"a", int64(1)}, nil, nil)

	require.NoError(t, a.Execute(context.Background()))
	assert.Equal(t, uint64(1), s.collector.CacheEvictions("Product"))

	require.NoError(t, a.AfterTransactionCompletion(context.Background(), true))
	_, ok := region.Get(cache.Key{EntityName: "Product", ID: int64(1)})
	assert.False(t, ok)
}

func TestUpdateAction_MissingEntryIsConcurrencyViolation(t *testing.T) {
	s := newTestSession()
	p := testutil.NewFakePersister("Product", updateProps())
	row := &testutil.Row{ID: int64(1), Values: []any{"a", int64(1)}}

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(1)}, []int{0}, false,
		[]any{"a", int64(1)}, nil, nil)

	err := a.Execute(context.Background())
	assert.True(t, persist.IsConcurrencySafety(err))
}

func TestUpdateAction_GeneratedVersionRefreshed(t *testing.T) {
	s := newTestSession()
	props := []meta.Property{
		{Name: "name", Type: meta.StringType{}, Updateable: true},
		{Name: "version", Type: meta.CounterVersionType{}, Updateable: false},
	}
	p := testutil.NewFakePersister("Product", props)
	p.Versioned = true
	p.VersionSlot = 1
	p.VersionKind = meta.CounterVersionType{}
	p.VersionGenerated = true
	p.GeneratedNextVersion = int64(7)
	row := loadedRow(s, p, 1, []any{"a", int64(6)}, int64(6))

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(6)}, []int{0}, false,
		[]any{"a", int64(6)}, int64(6), nil)

	require.NoError(t, a.Execute(context.Background()))

	assert.Equal(t, int64(7), a.NextVersion(), "generated version re-read after the write")
	entry := s.pc.GetEntry(row)
	assert.Equal(t, int64(7), entry.Version)
	assert.Equal(t, int64(7), entry.LoadedState[1])
}

func TestUpdateAction_StateMachineRejectsReentry(t *testing.T) {
	s := newTestSession()
	p := testutil.NewFakePersister("Product", updateProps())
	row := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)

	a := NewEntityUpdateAction(s, p, row, int64(1),
		[]any{"b", int64(1)}, []int{0}, false,
		[]any{"a", int64(1)}, nil, nil)

	require.NoError(t, a.Execute(context.Background()))
	assert.True(t, persist.IsAssertion(a.Execute(context.Background())))

	require.NoError(t, a.AfterTransactionCompletion(context.Background(), true))
	assert.True(t, persist.IsAssertion(a.AfterTransactionCompletion(context.Background(), true)))
}

func TestUpdateAction_PostCommitFiredOnlyOnSuccess(t *testing.T) {
	fired := 0
	s := newTestSession()
	s.listeners.PostCommitUpdate(commitRecorder{fired: &fired})
	p := testutil.NewFakePersister("Product", updateProps())

	rollback := loadedRow(s, p, 1, []any{"a", int64(1)}, nil)
	a := NewEntityUpdateAction(s, p, rollback, int64(1),
		[]any{"b", int64(1)}, []int{0}, false, []any{"a", int64(1)}, nil, nil)
	require.NoError(t, a.Execute(context.Background()))
	require.NoError(t, a.AfterTransactionCompletion(context.Background(), false))
	assert.Zero(t, fired)

	commit := loadedRow(s, p, 2, []any{"a", int64(1)}, nil)
	b := NewEntityUpdateAction(s, p, commit, int64(2),
		[]any{"b", int64(1)}, []int{0}, false, []any{"a", int64(1)}, nil, nil)
	require.NoError(t, b.Execute(context.Background()))
	require.NoError(t, b.AfterTransactionCompletion(context.Background(), true))
	assert.Equal(t, 1, fired)
}
