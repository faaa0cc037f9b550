// Package strategy ships the built-in reference strategies and the
// name-based registry the config layer resolves against.
package strategy

import (
	"fmt"
	"math"

	"perpcore/pkg/market"
	"perpcore/pkg/market/indicators"
	"perpcore/pkg/runner"
)

// EMACrossConfig tunes the EMA-cross entry and ATR trailing exit.
type EMACrossConfig struct {
	FastPeriod int     `yaml:"fast_period"`
	SlowPeriod int     `yaml:"slow_period"`
	ATRPeriod  int     `yaml:"atr_period"`
	ATRMult    float64 `yaml:"atr_mult"`
	// StopATRMult sets the initial stop distance in ATRs.
	StopATRMult float64 `yaml:"stop_atr_mult"`
}

func (c *EMACrossConfig) applyDefaults() {
	if c.FastPeriod <= 0 {
		c.FastPeriod = 9
	}
	if c.SlowPeriod <= 0 {
		c.SlowPeriod = 21
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.ATRMult <= 0 {
		c.ATRMult = 2
	}
	if c.StopATRMult <= 0 {
		c.StopATRMult = 3
	}
}

// EMACross goes long on a fast-over-slow EMA cross, short on the inverse,
// exits on the opposite cross, and trails an ATR-multiple stop.
type EMACross struct {
	cfg EMACrossConfig
}

// NewEMACross validates config and returns the strategy.
func NewEMACross(cfg EMACrossConfig) (*EMACross, error) {
	cfg.applyDefaults()
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("strategy: fast period %d must be below slow period %d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	return &EMACross{cfg: cfg}, nil
}

var _ runner.Strategy = (*EMACross)(nil)

func (s *EMACross) Name() string { return "ema-cross" }

func (s *EMACross) WarmupBars() int {
	bars := s.cfg.SlowPeriod * 3
	if atr := s.cfg.ATRPeriod * 3; atr > bars {
		bars = atr
	}
	return bars
}

func (s *EMACross) Init(bars []market.Candle, htf map[string][]market.Candle) error {
	if len(bars) <= s.cfg.SlowPeriod {
		return fmt.Errorf("strategy: %d bars below slow period %d", len(bars), s.cfg.SlowPeriod)
	}
	return nil
}

// OnCandle signals on the bar where the fast EMA crosses the slow one.
func (s *EMACross) OnCandle(ctx *runner.Context) *runner.Signal {
	fast, slow, ok := s.emas(ctx.Candles)
	if !ok {
		return nil
	}
	n := len(fast) - 1
	crossedUp := fast[n] > slow[n] && fast[n-1] <= slow[n-1]
	crossedDown := fast[n] < slow[n] && fast[n-1] >= slow[n-1]
	if !crossedUp && !crossedDown {
		return nil
	}

	atr := s.atr(ctx.Candles)
	if atr <= 0 {
		return nil
	}
	last := ctx.Candles[len(ctx.Candles)-1]
	if crossedUp {
		return &runner.Signal{
			Direction:  "long",
			EntryPrice: last.C,
			StopLoss:   last.C - s.cfg.StopATRMult*atr,
			Comment:    fmt.Sprintf("ema %d/%d cross up", s.cfg.FastPeriod, s.cfg.SlowPeriod),
		}
	}
	return &runner.Signal{
		Direction:  "short",
		EntryPrice: last.C,
		StopLoss:   last.C + s.cfg.StopATRMult*atr,
		Comment:    fmt.Sprintf("ema %d/%d cross down", s.cfg.FastPeriod, s.cfg.SlowPeriod),
	}
}

// ShouldExit fires on the cross against the position.
func (s *EMACross) ShouldExit(ctx *runner.Context) (bool, string) {
	if ctx.Position == nil {
		return false, ""
	}
	fast, slow, ok := s.emas(ctx.Candles)
	if !ok {
		return false, ""
	}
	n := len(fast) - 1
	if ctx.Position.Direction == "long" && fast[n] < slow[n] {
		return true, "ema cross down"
	}
	if ctx.Position.Direction == "short" && fast[n] > slow[n] {
		return true, "ema cross up"
	}
	return false, ""
}

// ExitLevel trails the close by ATRMult ATRs on the protective side.
func (s *EMACross) ExitLevel(ctx *runner.Context) float64 {
	if ctx.Position == nil || len(ctx.Candles) == 0 {
		return 0
	}
	atr := s.atr(ctx.Candles)
	if atr <= 0 {
		return 0
	}
	last := ctx.Candles[len(ctx.Candles)-1]
	if ctx.Position.Direction == "long" {
		return last.C - s.cfg.ATRMult*atr
	}
	return last.C + s.cfg.ATRMult*atr
}

func (s *EMACross) emas(bars []market.Candle) (fast, slow []float64, ok bool) {
	if len(bars) < s.cfg.SlowPeriod+2 {
		return nil, nil, false
	}
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.C
	}
	fast = indicators.EMA(closes, s.cfg.FastPeriod)
	slow = indicators.EMA(closes, s.cfg.SlowPeriod)
	if len(fast) < 2 || len(slow) < 2 || len(fast) != len(slow) {
		return nil, nil, false
	}
	return fast, slow, true
}

func (s *EMACross) atr(bars []market.Candle) float64 {
	if len(bars) <= s.cfg.ATRPeriod {
		return 0
	}
	klines := make([]indicators.Kline, len(bars))
	for i, bar := range bars {
		klines[i] = indicators.Kline{High: bar.H, Low: bar.L, Close: bar.C}
	}
	values := indicators.ATR(klines, s.cfg.ATRPeriod)
	if len(values) == 0 {
		return 0
	}
	atr := values[len(values)-1]
	if math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0
	}
	return atr
}
