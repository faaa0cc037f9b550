package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"perpcore/pkg/book"
	"perpcore/pkg/market"
	"perpcore/pkg/runner"
)

// vBars declines steadily until turn, then rises, driving RSI deep into
// the oversold band and back out.
func vBars(n, turn int, base, step float64) []market.Candle {
	bars := make([]market.Candle, n)
	price := base
	for i := range bars {
		if i < turn {
			price -= step
		} else {
			price += step
		}
		bars[i] = market.Candle{
			T: int64(i+1) * 60_000,
			O: price, H: price + 5, L: price - 5, C: price, V: 1,
		}
	}
	return bars
}

func newReversionStrategy(t *testing.T) *RSIReversion {
	t.Helper()
	s, err := NewRSIReversion(RSIReversionConfig{Period: 5, ATRPeriod: 5})
	require.NoError(t, err)
	return s
}

func TestNewRSIReversionValidatesBands(t *testing.T) {
	_, err := NewRSIReversion(RSIReversionConfig{Oversold: 70, Overbought: 30})
	require.Error(t, err)

	_, err = NewRSIReversion(RSIReversionConfig{ExitRSI: 90})
	require.Error(t, err)

	s, err := NewRSIReversion(RSIReversionConfig{})
	require.NoError(t, err)
	require.Equal(t, 14, s.cfg.Period)
	require.Equal(t, 30.0, s.cfg.Oversold)
	require.Equal(t, 70.0, s.cfg.Overbought)
	require.Equal(t, 50.0, s.cfg.ExitRSI)
	require.Equal(t, 42, s.WarmupBars())
}

func TestReversionSignalsLongLeavingOversold(t *testing.T) {
	s := newReversionStrategy(t)
	bars := vBars(40, 30, 96000, 50)

	// Walk the series the way the runner would and take the first signal.
	var signal *runner.Signal
	for i := s.cfg.Period + 2; i <= len(bars); i++ {
		signal = s.OnCandle(&runner.Context{Coin: "BTC", Candles: bars[:i]})
		if signal != nil {
			break
		}
	}
	require.NotNil(t, signal)
	require.Equal(t, "long", signal.Direction)
	require.Less(t, signal.StopLoss, signal.EntryPrice)
	require.Contains(t, signal.Comment, "oversold")
}

func TestReversionQuietMidRange(t *testing.T) {
	s := newReversionStrategy(t)
	// Alternating bars keep RSI pinned near the midline.
	bars := make([]market.Candle, 30)
	price := 96000.0
	for i := range bars {
		if i%2 == 0 {
			price += 20
		} else {
			price -= 20
		}
		bars[i] = market.Candle{T: int64(i+1) * 60_000, O: price, H: price + 5, L: price - 5, C: price, V: 1}
	}
	require.Nil(t, s.OnCandle(&runner.Context{Coin: "BTC", Candles: bars}))
}

func TestReversionExitsOnRevert(t *testing.T) {
	s := newReversionStrategy(t)
	long := &book.Position{Coin: "BTC", Direction: "long", EntryPrice: 94000, Size: 0.01}

	// Sustained rise pushes RSI well above the 50 exit level.
	up := vBars(40, 0, 94000, 50)
	exit, reason := s.ShouldExit(&runner.Context{Coin: "BTC", Candles: up, Position: long})
	require.True(t, exit)
	require.Contains(t, reason, "reverted")

	// Still falling: the reversion has not played out.
	down := vBars(40, 40, 96000, 50)
	exit, _ = s.ShouldExit(&runner.Context{Coin: "BTC", Candles: down, Position: long})
	require.False(t, exit)

	// No trailing level for reversion trades.
	require.Zero(t, s.ExitLevel(&runner.Context{Coin: "BTC", Candles: up, Position: long}))
}

func TestReversionRegistered(t *testing.T) {
	built, err := Build("rsi-reversion", map[string]any{"period": 7, "oversold": 25.0})
	require.NoError(t, err)
	require.Equal(t, "rsi-reversion", built.Name())
	require.Equal(t, built.(*RSIReversion).cfg.Period, 7)
	require.InDelta(t, 25.0, built.(*RSIReversion).cfg.Oversold, 1e-12)
}
