package runner

import (
	"perpcore/pkg/book"
	"perpcore/pkg/dispatch"
	"perpcore/pkg/market"
)

// Signal and TakeProfit are the trade instruction types strategies emit;
// they travel unchanged into the dispatcher.
type (
	Signal     = dispatch.Signal
	TakeProfit = book.TakeProfit
)

// Strategy is what the core demands from a trading strategy. Implementations
// are single-goroutine: the owning runner is the only caller.
type Strategy interface {
	Name() string
	// WarmupBars is the history depth the strategy wants; warmup fails
	// below half of it.
	WarmupBars() int
	Init(bars []market.Candle, htf map[string][]market.Candle) error
	// OnCandle may return a signal to open a position. Called only when
	// flat and the entry gate allows trading.
	OnCandle(ctx *Context) *Signal
	// ShouldExit is evaluated before anything else when a position is open.
	ShouldExit(ctx *Context) (bool, string)
	// ExitLevel returns the current protective level, or 0 for none.
	ExitLevel(ctx *Context) float64
}

// Context is the per-candle view handed to the strategy.
type Context struct {
	Coin          string
	Candles       []market.Candle
	HTF           map[string][]market.Candle
	Position      *book.Position
	BarsSinceExit int
}
