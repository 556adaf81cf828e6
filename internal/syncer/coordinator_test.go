package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stockroom/internal/identity"
	"github.com/mesh-intelligence/stockroom/internal/kv"
	"github.com/mesh-intelligence/stockroom/internal/sheets"
	"github.com/mesh-intelligence/stockroom/internal/sheets/sheetstest"
	"github.com/mesh-intelligence/stockroom/internal/store"
	"github.com/mesh-intelligence/stockroom/internal/tracker"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

var user = identity.Static{Ident: types.Identity{DisplayName: "Ada", EmailAddress: "ada@example.com"}}

type fixture struct {
	kv      types.KV
	store   *store.Store
	fake    *sheetstest.Fake
	adapter *sheets.Adapter
	coord   *Coordinator
}

func newFixture(t *testing.T, id types.IdentityProvider, tune func(*types.SyncConfig)) *fixture {
	t.Helper()
	backing := kv.NewMemory()
	return newFixtureOn(t, backing, sheetstest.New(), id, tune)
}

func newFixtureOn(t *testing.T, backing types.KV, fake *sheetstest.Fake, id types.IdentityProvider, tune func(*types.SyncConfig)) *fixture {
	t.Helper()
	cfg := types.DefaultConfig("")
	cfg.Backend = types.BackendMemory
	cfg.Sync.Debounce = time.Hour
	if tune != nil {
		tune(&cfg.Sync)
	}

	tr, err := tracker.New(backing)
	require.NoError(t, err)
	st, err := store.New(backing, tr)
	require.NoError(t, err)
	adapter := sheets.New(fake, backing, cfg, sheets.WithIdentity(id))
	coord, err := New(st, adapter, id, backing, cfg)
	require.NoError(t, err)
	t.Cleanup(coord.Stop)
	return &fixture{kv: backing, store: st, fake: fake, adapter: adapter, coord: coord}
}

func (f *fixture) binding(t *testing.T) types.Binding {
	t.Helper()
	b, ok, err := f.adapter.Binding()
	require.NoError(t, err)
	require.True(t, ok)
	return b
}

func TestSyncNow_EndToEnd(t *testing.T) {
	f := newFixture(t, user, nil)
	ctx := context.Background()

	_, err := f.store.Create(types.CollectionWarehouses, types.Fields{"name": "Main", "isPrimary": true})
	require.NoError(t, err)
	product, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget", "stock": 10, "purchasePrice": 5, "salePrice": 9})
	require.NoError(t, err)

	res := f.coord.SyncNow(ctx)
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.AttemptID)
	assert.Equal(t, []string{types.CollectionWarehouses, types.CollectionProducts, types.CollectionOpeningStock}, res.Written)

	rows := f.fake.Rows(f.binding(t).DocumentID, types.CollectionProducts)
	schema, _ := types.SchemaFor(types.CollectionProducts)
	require.Len(t, rows, 2)
	assert.Equal(t, schema.Columns(), rows[0])
	assert.Equal(t, product.Row(schema.Columns()), rows[1])

	assert.False(t, f.store.Tracker().IsDirty(types.CollectionProducts))
	assert.Empty(t, f.store.Tracker().DirtyCollections())

	st := f.coord.Status()
	assert.Equal(t, types.SyncSuccess, st.Record.LastSyncStatus)
	assert.Equal(t, res.AttemptID, st.Record.AttemptID)
	assert.NotNil(t, st.Record.LastSyncTimestamp)
	assert.Equal(t, StateIdle, st.State)
}

func TestSyncNow_PartialFailureKeepsProgress(t *testing.T) {
	f := newFixture(t, user, nil)
	ctx := context.Background()

	_, err := f.store.Create(types.CollectionCompany, types.Fields{"name": "Stockroom Ltd"})
	require.NoError(t, err)
	_, err = f.store.Create(types.CollectionWarehouses, types.Fields{"name": "Main"})
	require.NoError(t, err)
	_, err = f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)

	f.fake.FailOn("Write:products", types.Unavailable("write", errors.New("connection reset")))
	res := f.coord.SyncNow(ctx)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, types.ErrRemoteUnavailable)
	assert.Equal(t, []string{types.CollectionCompany, types.CollectionWarehouses}, res.Written)

	tr := f.store.Tracker()
	assert.False(t, tr.IsDirty(types.CollectionCompany))
	assert.False(t, tr.IsDirty(types.CollectionWarehouses))
	assert.True(t, tr.IsDirty(types.CollectionProducts))
	assert.True(t, tr.IsDirty(types.CollectionOpeningStock))

	st := f.coord.Status()
	assert.Equal(t, types.SyncFailed, st.Record.LastSyncStatus)
	assert.Contains(t, st.Record.LastError, "connection reset")
	assert.Equal(t, 1, st.Record.ConsecutiveFailures)
	assert.False(t, st.Paused, "transient failures do not pause")

	// Local data is untouched by the failure.
	products, _ := f.store.List(types.CollectionProducts)
	assert.Len(t, products, 1)

	f.fake.FailOn("Write:products", nil)
	res = f.coord.SyncNow(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{types.CollectionProducts, types.CollectionOpeningStock}, res.Written)
	assert.Equal(t, 0, f.coord.Status().Record.ConsecutiveFailures)
}

func TestSyncNow_AnonymousIsNoop(t *testing.T) {
	f := newFixture(t, identity.Anonymous{}, nil)
	_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)

	res := f.coord.SyncNow(context.Background())
	assert.NoError(t, res.Err)
	assert.True(t, res.Anonymous)
	assert.Equal(t, 0, f.fake.Calls("Search"))
	assert.Equal(t, 0, f.fake.Calls("Create"))
	assert.True(t, f.store.Tracker().IsDirty(types.CollectionProducts))
	assert.Equal(t, types.SyncNever, f.coord.Status().Record.LastSyncStatus)

	_, err = f.coord.Restore(context.Background(), false)
	assert.ErrorIs(t, err, types.ErrAnonymous)
	assert.ErrorIs(t, f.coord.ResetRemote(context.Background()), types.ErrAnonymous)
}

func TestSyncNow_MutualExclusion(t *testing.T) {
	f := newFixture(t, user, nil)
	_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.OnWrite(func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	done := make(chan Result)
	go func() { done <- f.coord.SyncNow(context.Background()) }()
	<-entered

	assert.True(t, f.coord.Syncing())
	assert.Equal(t, StateSyncing, f.coord.Status().State)
	second := f.coord.SyncNow(context.Background())
	assert.True(t, second.Coalesced)
	_, err = f.coord.Restore(context.Background(), false)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	first := <-done
	require.NoError(t, first.Err)
	assert.False(t, f.coord.Syncing())
	assert.Equal(t, 1, f.fake.PeakConcurrentWrites())
}

func TestSyncNow_MutationDuringWriteStaysDirty(t *testing.T) {
	f := newFixture(t, user, nil)
	p, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)

	var once sync.Once
	f.fake.OnWrite(func(sheet string) {
		if sheet != types.CollectionProducts {
			return
		}
		once.Do(func() {
			_, err := f.store.Update(types.CollectionProducts, p.ID, types.Fields{"stock": 3})
			assert.NoError(t, err)
		})
	})

	res := f.coord.SyncNow(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, f.store.Tracker().IsDirty(types.CollectionProducts))
}

func TestRejectedPausesAutomaticSync(t *testing.T) {
	f := newFixture(t, user, nil)
	ctx := context.Background()
	_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)

	f.fake.FailOn("Write", types.Rejected("write", errors.New("quota exceeded")))
	res := f.coord.run(ctx, TriggerDebounce)
	assert.ErrorIs(t, res.Err, types.ErrRemoteRejected)
	assert.True(t, f.coord.Status().Paused)

	res = f.coord.run(ctx, TriggerPeriodic)
	assert.True(t, res.Skipped)

	f.fake.FailOn("Write", nil)
	res = f.coord.SyncNow(ctx)
	require.NoError(t, res.Err)
	assert.False(t, f.coord.Status().Paused)
}

func TestDegradedCadence(t *testing.T) {
	f := newFixture(t, user, func(s *types.SyncConfig) {
		s.Interval = time.Minute
		s.FailureThreshold = 2
		s.SlowFactor = 4
	})
	ctx := context.Background()
	_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)

	f.fake.FailOn("Search", types.Unavailable("search", errors.New("offline")))
	f.coord.SyncNow(ctx)
	st := f.coord.Status()
	assert.False(t, st.Degraded)
	assert.Equal(t, time.Minute, st.Interval)

	f.coord.SyncNow(ctx)
	st = f.coord.Status()
	assert.True(t, st.Degraded)
	assert.Equal(t, 4*time.Minute, st.Interval)

	f.fake.FailOn("Search", nil)
	require.NoError(t, f.coord.SyncNow(ctx).Err)
	st = f.coord.Status()
	assert.False(t, st.Degraded)
	assert.Equal(t, time.Minute, st.Interval)
}

func TestDebounceCoalescesBursts(t *testing.T) {
	f := newFixture(t, user, func(s *types.SyncConfig) { s.Debounce = 50 * time.Millisecond })

	var attempts atomic.Int32
	f.coord.Subscribe(func(st Status) {
		if st.State == StateSyncing {
			attempts.Add(1)
		}
	})

	for _, name := range []string{"A", "B", "C", "D", "E"} {
		_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": name})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return f.coord.Status().Record.LastSyncStatus == types.SyncSuccess
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 1, f.fake.Calls("Write"))
	assert.Len(t, f.fake.Rows(f.binding(t).DocumentID, types.CollectionProducts), 6)
}

func TestStopDropsPendingDebounce(t *testing.T) {
	f := newFixture(t, user, func(s *types.SyncConfig) { s.Debounce = 30 * time.Millisecond })
	_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)

	f.coord.Stop()
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, f.fake.Calls("Write"))
	assert.True(t, f.store.Tracker().IsDirty(types.CollectionProducts))
	assert.Nil(t, f.coord.Status().Record.LastSyncTimestamp)
}

func TestStopWaitsForDebouncedSync(t *testing.T) {
	f := newFixture(t, user, func(s *types.SyncConfig) { s.Debounce = time.Millisecond })

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.OnWrite(func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)
	<-entered

	stopped := make(chan struct{})
	go func() {
		f.coord.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a sync was writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the sync finished")
	}
	assert.Equal(t, types.SyncSuccess, f.coord.Status().Record.LastSyncStatus)
}

func TestPeriodicSync(t *testing.T) {
	f := newFixture(t, user, nil)
	_, err := f.store.Create(types.CollectionCategories, types.Fields{"name": "Tools"})
	require.NoError(t, err)

	require.Error(t, f.coord.SchedulePeriodic(context.Background(), 0))
	require.NoError(t, f.coord.SchedulePeriodic(context.Background(), 20*time.Millisecond))
	assert.True(t, f.coord.Running())

	assert.Eventually(t, func() bool {
		return !f.store.Tracker().IsDirty(types.CollectionCategories)
	}, 2*time.Second, 10*time.Millisecond)

	f.coord.Stop()
	assert.False(t, f.coord.Running())
}

func TestPeriodicSkipsWhenClean(t *testing.T) {
	f := newFixture(t, user, nil)
	res := f.coord.run(context.Background(), TriggerPeriodic)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, f.fake.Calls("Search"))
}

func TestSyncRecordSurvivesRestart(t *testing.T) {
	backing := kv.NewMemory()
	fake := sheetstest.New()
	f := newFixtureOn(t, backing, fake, user, nil)
	_, err := f.store.Create(types.CollectionProducts, types.Fields{"name": "Widget"})
	require.NoError(t, err)
	fake.FailOn("Write", types.Rejected("write", errors.New("forbidden")))
	f.coord.SyncNow(context.Background())

	again := newFixtureOn(t, backing, fake, user, nil)
	st := again.coord.Status()
	assert.Equal(t, types.SyncFailed, st.Record.LastSyncStatus)
	assert.Equal(t, 1, st.Record.ConsecutiveFailures)
	assert.True(t, st.Paused)
	assert.True(t, again.store.Tracker().IsDirty(types.CollectionProducts))
}
