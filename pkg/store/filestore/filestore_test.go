package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpcore/pkg/store"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestInsertSignalEnforcesAlertUniqueness(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	id, err := s.InsertSignal(ctx, store.SignalRecord{AlertID: "a-1", Coin: "BTC", Side: "buy"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	_, err = s.InsertSignal(ctx, store.SignalRecord{AlertID: "a-1", Coin: "BTC", Side: "buy"})
	require.ErrorIs(t, err, store.ErrDuplicateAlert)

	ok, err := s.HasSignal(ctx, "a-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.HasSignal(ctx, "a-2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	sigID, err := s.InsertSignal(ctx, store.SignalRecord{AlertID: "a-1", Coin: "ETH", Side: "sell"})
	require.NoError(t, err)
	oid := int64(777)
	ordID, err := s.InsertOrder(ctx, store.OrderRecord{
		SignalID: sigID, ExchangeOrderID: &oid,
		Coin: "ETH", Side: "sell", Size: 1.5, Price: 3300,
		Type: store.OrderTypeMarket, Tag: store.TagEntry,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	orders, err := reopened.OrdersBySignal(ctx, sigID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, ordID, orders[0].ID)
	require.Equal(t, store.OrderStatusPending, orders[0].Status)
	require.NotNil(t, orders[0].ExchangeOrderID)
	require.Equal(t, oid, *orders[0].ExchangeOrderID)

	// IDs keep ascending after reopen, never reused.
	nextSig, err := reopened.InsertSignal(ctx, store.SignalRecord{AlertID: "a-2", Coin: "ETH", Side: "buy"})
	require.NoError(t, err)
	require.Greater(t, nextSig, sigID)
}

func TestOpenRemovesLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "orders.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("{partial"), 0o644))

	_, err := Open(dir)
	require.NoError(t, err)

	_, statErr := os.Stat(tmp)
	require.True(t, os.IsNotExist(statErr))
}

func TestOrderLifecycle(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	id, err := s.InsertOrder(ctx, store.OrderRecord{SignalID: 1, Coin: "BTC", Side: "buy", Tag: store.TagEntry})
	require.NoError(t, err)

	pending, err := s.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	pnl := 42.5
	require.NoError(t, s.MarkOrderFilled(ctx, id, time.Now(), &pnl))

	pending, err = s.PendingOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	recent, err := s.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, store.OrderStatusFilled, recent[0].Status)
	require.NotNil(t, recent[0].FilledAt)
	require.Equal(t, pnl, *recent[0].RealizedPnl)

	require.ErrorIs(t, s.UpdateOrderStatus(ctx, 999, store.OrderStatusCancelled), store.ErrNotFound)
}

func TestTrailingStopOrderReturnsNewestPending(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	first, err := s.InsertOrder(ctx, store.OrderRecord{Coin: "BTC", Tag: store.TagTrailingStop})
	require.NoError(t, err)
	second, err := s.InsertOrder(ctx, store.OrderRecord{Coin: "BTC", Tag: store.TagTrailingStop})
	require.NoError(t, err)
	_, err = s.InsertOrder(ctx, store.OrderRecord{Coin: "ETH", Tag: store.TagTrailingStop})
	require.NoError(t, err)

	rec, err := s.TrailingStopOrder(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, second, rec.ID)

	// Cancelling the newest falls back to the older pending one.
	require.NoError(t, s.UpdateOrderStatus(ctx, second, store.OrderStatusCancelled))
	rec, err = s.TrailingStopOrder(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, first, rec.ID)

	_, err = s.TrailingStopOrder(ctx, "SOL")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecentSignalsNewestFirst(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	for _, alert := range []string{"a-1", "a-2", "a-3"} {
		_, err := s.InsertSignal(ctx, store.SignalRecord{AlertID: alert, Coin: "BTC", Side: "buy"})
		require.NoError(t, err)
	}

	recent, err := s.RecentSignals(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "a-3", recent[0].AlertID)
	require.Equal(t, "a-2", recent[1].AlertID)
}

func TestEquitySeries(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertEquitySnapshot(ctx, store.EquitySnapshot{
			TS: base.Add(time.Duration(i) * time.Minute), Equity: 100_000 + float64(i), OpenPositions: i,
		}))
	}

	recent, err := s.RecentEquity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, 100_002.0, recent[0].Equity)
	require.Equal(t, 100_001.0, recent[1].Equity)
}

func TestTodayAggregatesUseUTCDay(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	yesterday := now.Add(-26 * time.Hour)

	pnlToday, pnlOld := -120.0, 999.0
	id1, err := s.InsertOrder(ctx, store.OrderRecord{Coin: "BTC", Tag: store.TagClose})
	require.NoError(t, err)
	require.NoError(t, s.MarkOrderFilled(ctx, id1, now, &pnlToday))

	id2, err := s.InsertOrder(ctx, store.OrderRecord{Coin: "BTC", Tag: store.TagClose})
	require.NoError(t, err)
	require.NoError(t, s.MarkOrderFilled(ctx, id2, yesterday, &pnlOld))

	sum, err := s.TodayRealizedPnl(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, -120.0, sum)

	// Trade count only looks at entry orders created today.
	_, err = s.InsertOrder(ctx, store.OrderRecord{Coin: "BTC", Tag: store.TagEntry})
	require.NoError(t, err)
	_, err = s.InsertOrder(ctx, store.OrderRecord{Coin: "BTC", Tag: store.TagEntry, CreatedAt: yesterday})
	require.NoError(t, err)

	count, err := s.TodayTradeCount(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
