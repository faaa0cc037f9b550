package book

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRejectsOccupiedCoin(t *testing.T) {
	b := New()
	require.NoError(t, b.Open(&Position{Coin: "BTC", Direction: "long", EntryPrice: 95000, Size: 0.5}))
	err := b.Open(&Position{Coin: "BTC", Direction: "short", EntryPrice: 95100, Size: 0.1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "BTC")

	require.False(t, b.IsFlat("BTC"))
	require.True(t, b.IsFlat("ETH"))
	require.Equal(t, 1, b.Count())
}

func TestCloseReturnsRemovedPosition(t *testing.T) {
	b := New()
	require.NoError(t, b.Open(&Position{Coin: "ETH", Direction: "short", EntryPrice: 3300, Size: 2}))

	pos := b.Close("ETH")
	require.NotNil(t, pos)
	require.Equal(t, "short", pos.Direction)
	require.Nil(t, b.Close("ETH"))
	require.True(t, b.IsFlat("ETH"))
}

func TestUpdatePriceRecomputesPnlWithDirectionSign(t *testing.T) {
	b := New()
	require.NoError(t, b.Open(&Position{Coin: "BTC", Direction: "long", EntryPrice: 95000, Size: 0.5}))
	require.NoError(t, b.Open(&Position{Coin: "ETH", Direction: "short", EntryPrice: 3300, Size: 2}))

	b.UpdatePrice("BTC", 96000)
	b.UpdatePrice("ETH", 3350)

	require.Equal(t, 500.0, b.Get("BTC").UnrealizedPnl)
	require.Equal(t, -100.0, b.Get("ETH").UnrealizedPnl)

	// Non-positive prices are ignored.
	b.UpdatePrice("BTC", 0)
	require.Equal(t, 500.0, b.Get("BTC").UnrealizedPnl)
}

func TestGetAndSnapshotReturnCopies(t *testing.T) {
	b := New()
	require.NoError(t, b.Open(&Position{
		Coin: "BTC", Direction: "long", EntryPrice: 95000, Size: 0.5,
		TakeProfits: []TakeProfit{{Price: 97000, Fraction: 0.5}},
	}))

	got := b.Get("BTC")
	got.Size = 99
	got.TakeProfits[0].Price = 1

	require.Equal(t, 0.5, b.Get("BTC").Size)
	require.Equal(t, 97000.0, b.Get("BTC").TakeProfits[0].Price)

	snap := b.Snapshot()
	snap["BTC"].StopLoss = 123
	require.Zero(t, b.Get("BTC").StopLoss)
}

func TestUpdateTrailingStop(t *testing.T) {
	b := New()
	require.NoError(t, b.Open(&Position{Coin: "BTC", Direction: "long", EntryPrice: 95000, Size: 0.5}))
	b.UpdateTrailingStop("BTC", 94000)
	require.Equal(t, 94000.0, b.Get("BTC").TrailingStopLoss)

	// Unknown coin is a no-op.
	b.UpdateTrailingStop("ETH", 1)
}

func TestHydratedSentinel(t *testing.T) {
	require.True(t, (&Position{SignalID: -1}).Hydrated())
	require.True(t, (&Position{SignalID: 0}).Hydrated())
	require.False(t, (&Position{SignalID: 7}).Hydrated())
	require.False(t, (&Position{StopLoss: 93000, SignalID: -1}).Hydrated())
}
