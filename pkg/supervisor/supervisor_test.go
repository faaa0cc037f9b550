package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpcore/pkg/book"
	"perpcore/pkg/events"
	"perpcore/pkg/exchange/sim"
	"perpcore/pkg/lockfile"
	"perpcore/pkg/reconcile"
	"perpcore/pkg/store/filestore"
)

type fakeRunner struct {
	warmupErr error
	warmed    atomic.Bool
	running   atomic.Bool
}

func (f *fakeRunner) Warmup(ctx context.Context) error {
	f.warmed.Store(true)
	return f.warmupErr
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.running.Store(true)
	<-ctx.Done()
	f.running.Store(false)
	return ctx.Err()
}

type rig struct {
	provider *sim.Provider
	store    *filestore.Store
	book     *book.Book
	sup      *Supervisor
	locksDir string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	st, err := filestore.Open(t.TempDir())
	require.NoError(t, err)

	r := &rig{
		provider: sim.New(),
		store:    st,
		book:     book.New(),
		locksDir: t.TempDir(),
	}
	bus := events.NewBus()
	loop := reconcile.New(reconcile.Config{Interval: time.Hour}, r.provider, st, r.book, bus)
	r.sup = New(Config{LocksDir: r.locksDir}, r.provider, st, r.book, bus, loop)
	return r
}

func TestStartStopLifecycle(t *testing.T) {
	r := newRig(t)
	runner := &fakeRunner{}
	r.sup.AddInstrument("BTC", runner)

	require.NoError(t, r.sup.Start(context.Background()))
	require.True(t, runner.warmed.Load())
	require.Eventually(t, runner.running.Load, time.Second, 5*time.Millisecond)

	// The coin lock is held while running.
	_, err := lockfile.Acquire(r.locksDir, "BTC")
	require.Error(t, err)
	require.Contains(t, err.Error(), "BTC")

	r.sup.Stop()
	require.False(t, runner.running.Load())

	// Stop wrote a final equity snapshot and released the lock.
	st, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	lock, err := lockfile.Acquire(r.locksDir, "BTC")
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestStartHydratesBookBeforeRunners(t *testing.T) {
	r := newRig(t)
	r.provider.SeedPosition("ETH", 1.5, 3500)
	r.sup.AddInstrument("ETH", &fakeRunner{})

	require.NoError(t, r.sup.Start(context.Background()))
	defer r.sup.Stop()

	pos := r.book.Get("ETH")
	require.NotNil(t, pos)
	require.True(t, pos.Hydrated())
}

func TestStartReleasesLocksOnWarmupFailure(t *testing.T) {
	r := newRig(t)
	r.sup.AddInstrument("BTC", &fakeRunner{})
	r.sup.AddInstrument("ETH", &fakeRunner{warmupErr: errors.New("no history")})

	err := r.sup.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ETH")

	// Both locks were released on the failure path.
	for _, coin := range []string{"BTC", "ETH"} {
		lock, err := lockfile.Acquire(r.locksDir, coin)
		require.NoError(t, err)
		require.NoError(t, lock.Release())
	}
}

func TestStartReleasesLocksOnConnectFailure(t *testing.T) {
	r := newRig(t)
	r.provider.FailOnce("Connect", errors.New("venue down"))
	r.sup.AddInstrument("BTC", &fakeRunner{})

	require.Error(t, r.sup.Start(context.Background()))
	lock, err := lockfile.Acquire(r.locksDir, "BTC")
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestSecondStartRejected(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.sup.Start(context.Background()))
	defer r.sup.Stop()
	require.Error(t, r.sup.Start(context.Background()))
}

func TestStopWritesFinalSnapshotAndIsIdempotent(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.sup.Start(context.Background()))

	before, err := r.store.RecentEquity(context.Background(), 10)
	require.NoError(t, err)

	r.sup.Stop()
	r.sup.Stop() // second call is a no-op

	// Store is closed by Stop; reopen the directory to inspect.
	// RecentEquity on the closed filestore still serves from memory.
	after, err := r.store.RecentEquity(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, len(before)+1, len(after))
	require.Equal(t, 100_000.0, after[0].Equity)
}
