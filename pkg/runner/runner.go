// Package runner drives one strategy over one instrument: candle intake,
// warmup, exits, trailing stops, and gated entries handed to the
// dispatcher.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/book"
	"perpcore/pkg/dispatch"
	"perpcore/pkg/events"
	"perpcore/pkg/exchange"
	"perpcore/pkg/market"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
)

const (
	maxConsecutiveLosses = 2
	exitOrderTimeout     = 10 * time.Second
)

// Dispatcher is the slice of the signal pipeline the runner needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Config parameterizes one instrument's runner.
type Config struct {
	Coin        string
	Interval    string
	Leverage    int
	IsCross     bool
	SlippageBps int
	AutoTrading bool
	Sizing      risk.Sizing
	Guardrails  risk.Guardrails

	// HTFFactors maps a label ("4h") to the aggregation factor relative to
	// Interval (4 for 1h→4h).
	HTFFactors map[string]int

	// Entry gate limits, all zero-disabled except the loss cap of 2.
	CooldownBars      int
	DailyLossLimitUsd float64
	MaxTradesPerDay   int

	// PollEvery overrides the candle poll cadence.
	PollEvery time.Duration
}

// Runner owns all mutable state for one instrument. Counters are
// goroutine-confined: only the runner's own loop touches them.
type Runner struct {
	cfg        Config
	strategy   Strategy
	provider   exchange.Provider
	dispatcher Dispatcher
	store      store.Store
	book       *book.Book
	bus        *events.Bus
	stream     market.Stream
	clock      func() time.Time

	candles []market.Candle
	maxBars int

	barsSinceExit     int
	consecutiveLosses int
	dailyPnl          float64
	tradesToday       int
	lastTradeDayUTC   string
	lastExitLevel     float64
	trailingSlOid     int64
	lastCandleAt      int64
	alertCounter      int
	warmedUp          bool
}

// New wires a runner; Warmup must succeed before Run.
func New(cfg Config, strategy Strategy, provider exchange.Provider, dispatcher Dispatcher, st store.Store, bk *book.Book, bus *events.Bus, stream market.Stream) *Runner {
	maxBars := strategy.WarmupBars() * 3
	if maxBars < 100 {
		maxBars = 100
	}
	return &Runner{
		cfg:        cfg,
		strategy:   strategy,
		provider:   provider,
		dispatcher: dispatcher,
		store:      st,
		book:       bk,
		bus:        bus,
		stream:     stream,
		clock:      time.Now,
		maxBars:    maxBars,
	}
}

// Warmup pulls history, initializes the strategy, and recovers cold-start
// state for an already-open position.
func (r *Runner) Warmup(ctx context.Context) error {
	want := r.strategy.WarmupBars()
	bars, err := r.stream.Candles(ctx, r.cfg.Coin, r.cfg.Interval, want)
	if err != nil {
		return fmt.Errorf("runner %s: warmup fetch: %w", r.cfg.Coin, err)
	}
	minBars := (want + 1) / 2
	if len(bars) < minBars {
		return fmt.Errorf("runner %s: warmup got %d bars, need at least %d", r.cfg.Coin, len(bars), minBars)
	}

	r.candles = bars
	r.lastCandleAt = bars[len(bars)-1].T
	htf := r.aggregates()
	if err := r.strategy.Init(bars, htf); err != nil {
		return fmt.Errorf("runner %s: strategy init: %w", r.cfg.Coin, err)
	}

	// Cold start with an open position: re-derive the protective level and
	// recover the resting trailing stop so it is never orphaned.
	if pos := r.book.Get(r.cfg.Coin); pos != nil {
		r.lastExitLevel = r.strategy.ExitLevel(r.context(pos))
		rec, err := r.store.TrailingStopOrder(ctx, r.cfg.Coin)
		switch {
		case err == nil && rec.ExchangeOrderID != nil:
			r.trailingSlOid = *rec.ExchangeOrderID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("runner %s: trailing stop recovery: %w", r.cfg.Coin, err)
		}
	}
	r.lastTradeDayUTC = r.clock().UTC().Format("2006-01-02")
	r.warmedUp = true
	return nil
}

// Run polls candles until ctx is cancelled. Warmup must have succeeded.
func (r *Runner) Run(ctx context.Context) error {
	if !r.warmedUp {
		return fmt.Errorf("runner %s: run before warmup", r.cfg.Coin)
	}
	poller, err := market.NewPoller(market.PollerConfig{
		Stream:   r.stream,
		Coin:     r.cfg.Coin,
		Interval: r.cfg.Interval,
		Every:    r.cfg.PollEvery,
		OnClosed: func(c market.Candle) { r.ProcessClosedCandle(ctx, c) },
		OnInProgress: func(c market.Candle) { r.Tick(c) },
		OnStale: func(lastCandleAt int64, silentFor time.Duration) {
			r.bus.Publish(events.TypeStaleData, map[string]any{
				"coin": r.cfg.Coin, "last_candle_at": lastCandleAt,
				"silent_ms": silentFor.Milliseconds(),
			})
		},
		Logf: logx.Infof,
	}, r.lastCandleAt)
	if err != nil {
		return err
	}
	poller.Run(ctx)
	return nil
}

// Tick updates mark-to-market from an in-progress bar; no strategy
// evaluation.
func (r *Runner) Tick(candle market.Candle) {
	r.book.UpdatePrice(r.cfg.Coin, candle.C)
}

// ProcessClosedCandle is the per-bar decision step: rollover, exit,
// trailing stop, then gated entry. Exits return early so an entry can
// never happen on the same bar.
func (r *Runner) ProcessClosedCandle(ctx context.Context, candle market.Candle) {
	if candle.T <= r.lastCandleAt && r.lastCandleAt != 0 {
		return
	}
	r.lastCandleAt = candle.T
	r.appendCandle(candle)
	r.rolloverIfNewDay()
	r.book.UpdatePrice(r.cfg.Coin, candle.C)
	r.bus.Publish(events.TypeCandleClosed, map[string]any{
		"coin": r.cfg.Coin, "t": candle.T, "close": candle.C,
	})

	pos := r.book.Get(r.cfg.Coin)
	if pos != nil {
		if exited := r.maybeExit(ctx, pos, candle); exited {
			return
		}
		r.trackTrailingStop(ctx, pos, candle)
		return
	}

	r.barsSinceExit++
	if reason := r.tradeBlocked(); reason != "" {
		logx.WithContext(ctx).Debugf("runner %s: entry gate closed: %s", r.cfg.Coin, reason)
		return
	}
	signal := r.strategy.OnCandle(r.context(nil))
	if signal == nil {
		return
	}
	r.submitSignal(ctx, signal, candle)
}

func (r *Runner) appendCandle(candle market.Candle) {
	r.candles = append(r.candles, candle)
	if len(r.candles) > r.maxBars {
		r.candles = r.candles[len(r.candles)-r.maxBars:]
	}
}

func (r *Runner) rolloverIfNewDay() {
	day := r.clock().UTC().Format("2006-01-02")
	if day == r.lastTradeDayUTC {
		return
	}
	r.lastTradeDayUTC = day
	r.dailyPnl = 0
	r.tradesToday = 0
	r.consecutiveLosses = 0
}

// maybeExit closes the position when the strategy says so. Returns true
// when an exit happened, so the caller skips entries for this bar.
func (r *Runner) maybeExit(ctx context.Context, pos *book.Position, candle market.Candle) bool {
	shouldExit, reason := r.strategy.ShouldExit(r.context(pos))
	if !shouldExit {
		return false
	}
	logger := logx.WithContext(ctx)

	callCtx, cancel := context.WithTimeout(ctx, exitOrderTimeout)
	defer cancel()
	isBuy := pos.Direction == "short"
	fill, err := r.provider.PlaceMarketOrder(callCtx, r.cfg.Coin, isBuy, pos.Size)
	if err != nil {
		logger.Errorf("runner %s: exit order failed (%s): %v", r.cfg.Coin, reason, err)
		return false
	}

	pnl := exitPnl(pos, fill.AvgPrice, fill.FilledSize)
	now := r.clock().UTC()
	rec := store.OrderRecord{
		SignalID: pos.SignalID, Coin: r.cfg.Coin, Side: sideOf(isBuy),
		Size: fill.FilledSize, Price: fill.AvgPrice,
		Type: store.OrderTypeMarket, Tag: store.TagClose,
		Status: store.OrderStatusFilled, RealizedPnl: &pnl, FilledAt: &now,
	}
	if fill.OrderID > 0 {
		oid := fill.OrderID
		rec.ExchangeOrderID = &oid
	}
	if _, err := r.store.InsertOrder(ctx, rec); err != nil {
		logger.Errorf("runner %s: persist exit order: %v", r.cfg.Coin, err)
	}

	r.cancelTrailingStop(ctx)
	r.book.Close(r.cfg.Coin)
	r.bus.Publish(events.TypePositionClosed, map[string]any{
		"coin": r.cfg.Coin, "reason": reason, "exit_price": fill.AvgPrice, "realized_pnl": pnl,
	})

	r.barsSinceExit = 0
	r.lastExitLevel = 0
	r.dailyPnl += pnl
	if pnl < 0 {
		r.consecutiveLosses++
	} else {
		r.consecutiveLosses = 0
	}
	return true
}

// trackTrailingStop ratchets the protective stop. Place-first-then-cancel:
// the new stop rests before the old one is cancelled, so coverage is
// continuous at the cost of briefly holding two stops.
func (r *Runner) trackTrailingStop(ctx context.Context, pos *book.Position, candle market.Candle) {
	level := r.strategy.ExitLevel(r.context(pos))
	if level <= 0 {
		return
	}
	defer func() { r.lastExitLevel = level }()

	currentStop := pos.StopLoss
	if pos.TrailingStopLoss != 0 {
		currentStop = pos.TrailingStopLoss
	}
	moreProtective := (pos.Direction == "long" && level > currentStop) ||
		(pos.Direction == "short" && (currentStop == 0 || level < currentStop))
	if !moreProtective {
		return
	}
	if r.lastExitLevel != 0 && !movedFavorably(pos.Direction, level, r.lastExitLevel, candle.C) {
		return
	}
	logger := logx.WithContext(ctx)
	stopPx := roundPrice(level)

	callCtx, cancel := context.WithTimeout(ctx, exitOrderTimeout)
	defer cancel()
	isBuy := pos.Direction == "short"
	oid, err := r.provider.PlaceStopOrder(callCtx, r.cfg.Coin, isBuy, pos.Size, stopPx, true)
	if err != nil {
		logger.Errorf("runner %s: trailing stop placement: %v", r.cfg.Coin, err)
		return
	}
	rec := store.OrderRecord{
		SignalID: pos.SignalID, Coin: r.cfg.Coin, Side: sideOf(isBuy),
		Size: pos.Size, Price: stopPx,
		Type: store.OrderTypeStop, Tag: store.TagTrailingStop,
		Status: store.OrderStatusPending, ExchangeOrderID: &oid,
	}
	if _, err := r.store.InsertOrder(ctx, rec); err != nil {
		logger.Errorf("runner %s: persist trailing stop: %v", r.cfg.Coin, err)
	}

	previous := r.trailingSlOid
	r.trailingSlOid = oid
	r.book.UpdateTrailingStop(r.cfg.Coin, stopPx)
	if previous != 0 {
		if err := r.provider.CancelOrder(ctx, r.cfg.Coin, previous); err != nil {
			logger.Errorf("runner %s: cancel superseded trailing stop %d: %v", r.cfg.Coin, previous, err)
		}
	}
}

func (r *Runner) cancelTrailingStop(ctx context.Context) {
	if r.trailingSlOid == 0 {
		return
	}
	if err := r.provider.CancelOrder(ctx, r.cfg.Coin, r.trailingSlOid); err != nil {
		logx.WithContext(ctx).Errorf("runner %s: cancel trailing stop %d: %v", r.cfg.Coin, r.trailingSlOid, err)
	}
	r.trailingSlOid = 0
}

// tradeBlocked returns a non-empty reason while the entry gate is closed.
func (r *Runner) tradeBlocked() string {
	if r.cfg.CooldownBars > 0 && r.barsSinceExit <= r.cfg.CooldownBars {
		return "cooldown"
	}
	if r.consecutiveLosses >= maxConsecutiveLosses {
		return "consecutive losses"
	}
	if r.cfg.DailyLossLimitUsd > 0 && r.dailyPnl <= -r.cfg.DailyLossLimitUsd {
		return "daily loss limit"
	}
	if r.cfg.MaxTradesPerDay > 0 && r.tradesToday >= r.cfg.MaxTradesPerDay {
		return "daily trade limit"
	}
	return ""
}

func (r *Runner) submitSignal(ctx context.Context, signal *Signal, candle market.Candle) {
	r.alertCounter++
	alertID := fmt.Sprintf("runner-%d-%d", r.clock().UnixMilli(), r.alertCounter)

	result, err := r.dispatcher.Dispatch(ctx, dispatch.Request{
		Signal:       *signal,
		Coin:         r.cfg.Coin,
		Source:       store.SourceStrategy,
		AlertID:      alertID,
		CurrentPrice: candle.C,
		Leverage:     r.cfg.Leverage,
		IsCross:      r.cfg.IsCross,
		AutoTrading:  r.cfg.AutoTrading,
		SlippageBps:  r.cfg.SlippageBps,
		Sizing:       r.cfg.Sizing,
		Guardrails:   r.cfg.Guardrails,
		Mode:         "live",
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("runner %s: dispatch %s: %v", r.cfg.Coin, alertID, err)
		return
	}
	if result.Accepted {
		r.tradesToday++
	} else {
		logx.WithContext(ctx).Infof("runner %s: signal %s rejected: %s", r.cfg.Coin, alertID, result.Reason)
	}
}

func (r *Runner) context(pos *book.Position) *Context {
	return &Context{
		Coin:          r.cfg.Coin,
		Candles:       r.candles,
		HTF:           r.aggregates(),
		Position:      pos,
		BarsSinceExit: r.barsSinceExit,
	}
}

func (r *Runner) aggregates() map[string][]market.Candle {
	if len(r.cfg.HTFFactors) == 0 {
		return nil
	}
	htf := make(map[string][]market.Candle, len(r.cfg.HTFFactors))
	for label, factor := range r.cfg.HTFFactors {
		htf[label] = market.Aggregate(r.candles, factor)
	}
	return htf
}

// movedFavorably reports whether level sits closer to price than the
// previous level did.
func movedFavorably(direction string, level, previous, price float64) bool {
	return math.Abs(price-level) < math.Abs(price-previous)
}

func roundPrice(px float64) float64 {
	v, err := strconv.ParseFloat(exchange.RoundPriceToSigFigs(px, 5), 64)
	if err != nil {
		return px
	}
	return v
}

func exitPnl(pos *book.Position, exitPx, size float64) float64 {
	diff := exitPx - pos.EntryPrice
	if pos.Direction == "short" {
		diff = -diff
	}
	return diff * size
}

func sideOf(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}
