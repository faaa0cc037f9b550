package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	bars []Candle
	err  error
}

func (f *fakeStream) Candles(ctx context.Context, coin, interval string, limit int) ([]Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.bars) > limit {
		return f.bars[len(f.bars)-limit:], nil
	}
	return f.bars, nil
}

func TestPollerDispatchesClosedBarsInOrder(t *testing.T) {
	const minute = int64(60_000)
	now := time.UnixMilli(5 * minute)
	stream := &fakeStream{bars: []Candle{
		{T: 2 * minute, C: 10},
		{T: 3 * minute, C: 11},
		{T: 4 * minute, C: 12}, // in-progress at now
	}}

	var closed []int64
	var inProgress []int64
	p, err := NewPoller(PollerConfig{
		Stream:       stream,
		Coin:         "BTC",
		Interval:     "1m",
		OnClosed:     func(c Candle) { closed = append(closed, c.T) },
		OnInProgress: func(c Candle) { inProgress = append(inProgress, c.T) },
		clock:        func() time.Time { return now },
	}, minute)
	require.NoError(t, err)

	p.Poll(context.Background())
	require.Equal(t, []int64{2 * minute, 3 * minute}, closed)
	require.Equal(t, []int64{4 * minute}, inProgress)
	require.Equal(t, 3*minute, p.LastClosed())

	// Re-polling the same window emits nothing new for closed bars.
	closed = nil
	p.Poll(context.Background())
	require.Empty(t, closed)
}

func TestPollerIgnoresBarsAtOrBeforeHighWaterMark(t *testing.T) {
	const minute = int64(60_000)
	now := time.UnixMilli(10 * minute)
	stream := &fakeStream{bars: []Candle{
		{T: 2 * minute},
		{T: 3 * minute},
	}}

	var closed []int64
	p, err := NewPoller(PollerConfig{
		Stream:   stream,
		Coin:     "BTC",
		Interval: "1m",
		OnClosed: func(c Candle) { closed = append(closed, c.T) },
		clock:    func() time.Time { return now },
	}, 3*minute)
	require.NoError(t, err)

	p.Poll(context.Background())
	require.Empty(t, closed)
}

func TestPollerStaleDetection(t *testing.T) {
	const minute = int64(60_000)
	now := time.UnixMilli(10 * minute)
	stream := &fakeStream{bars: []Candle{{T: 2 * minute}}}

	var staleCalls int
	var silent time.Duration
	p, err := NewPoller(PollerConfig{
		Stream:   stream,
		Coin:     "BTC",
		Interval: "1m",
		OnStale: func(lastCandleAt int64, silentFor time.Duration) {
			staleCalls++
			silent = silentFor
		},
		clock: func() time.Time { return now },
	}, 2*minute)
	require.NoError(t, err)

	for i := 0; i < staleThreshold-1; i++ {
		p.Poll(context.Background())
	}
	require.Zero(t, staleCalls)

	now = now.Add(time.Minute)
	p.Poll(context.Background())
	require.Equal(t, 1, staleCalls)
	require.Equal(t, time.Minute, silent)

	// Counter resets after firing; the next threshold fires again.
	for i := 0; i < staleThreshold; i++ {
		p.Poll(context.Background())
	}
	require.Equal(t, 2, staleCalls)
}

func TestPollerCountsFetchErrorsAsEmpty(t *testing.T) {
	stream := &fakeStream{err: errors.New("venue down")}
	var staleCalls int
	p, err := NewPoller(PollerConfig{
		Stream:   stream,
		Coin:     "BTC",
		Interval: "1m",
		OnStale:  func(int64, time.Duration) { staleCalls++ },
	}, 0)
	require.NoError(t, err)

	for i := 0; i < staleThreshold; i++ {
		p.Poll(context.Background())
	}
	require.Equal(t, 1, staleCalls)
}
