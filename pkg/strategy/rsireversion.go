package strategy

import (
	"fmt"
	"math"

	"perpcore/pkg/market"
	"perpcore/pkg/market/indicators"
	"perpcore/pkg/runner"
)

// RSIReversionConfig tunes the mean-reversion entry bands and the ATR
// stop distance.
type RSIReversionConfig struct {
	Period     int     `yaml:"period"`
	Oversold   float64 `yaml:"oversold"`
	Overbought float64 `yaml:"overbought"`
	// ExitRSI closes the trade once RSI reverts through this level.
	ExitRSI     float64 `yaml:"exit_rsi"`
	ATRPeriod   int     `yaml:"atr_period"`
	StopATRMult float64 `yaml:"stop_atr_mult"`
}

func (c *RSIReversionConfig) applyDefaults() {
	if c.Period <= 0 {
		c.Period = 14
	}
	if c.Oversold <= 0 {
		c.Oversold = 30
	}
	if c.Overbought <= 0 {
		c.Overbought = 70
	}
	if c.ExitRSI <= 0 {
		c.ExitRSI = 50
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.StopATRMult <= 0 {
		c.StopATRMult = 3
	}
}

// RSIReversion fades extremes: long when RSI crosses back up out of the
// oversold band, short when it crosses back down out of the overbought
// band, exiting on the revert through ExitRSI. No trailing stop; the
// initial ATR stop stands for the life of the trade.
type RSIReversion struct {
	cfg RSIReversionConfig
}

// NewRSIReversion validates config and returns the strategy.
func NewRSIReversion(cfg RSIReversionConfig) (*RSIReversion, error) {
	cfg.applyDefaults()
	if cfg.Oversold >= cfg.Overbought {
		return nil, fmt.Errorf("strategy: oversold %v must be below overbought %v", cfg.Oversold, cfg.Overbought)
	}
	if cfg.ExitRSI <= cfg.Oversold || cfg.ExitRSI >= cfg.Overbought {
		return nil, fmt.Errorf("strategy: exit rsi %v must sit between the bands", cfg.ExitRSI)
	}
	return &RSIReversion{cfg: cfg}, nil
}

var _ runner.Strategy = (*RSIReversion)(nil)

func (s *RSIReversion) Name() string { return "rsi-reversion" }

func (s *RSIReversion) WarmupBars() int {
	bars := s.cfg.Period * 3
	if atr := s.cfg.ATRPeriod * 3; atr > bars {
		bars = atr
	}
	return bars
}

func (s *RSIReversion) Init(bars []market.Candle, htf map[string][]market.Candle) error {
	if len(bars) <= s.cfg.Period+1 {
		return fmt.Errorf("strategy: %d bars below rsi period %d", len(bars), s.cfg.Period)
	}
	return nil
}

// OnCandle signals on the bar where RSI leaves an extreme band.
func (s *RSIReversion) OnCandle(ctx *runner.Context) *runner.Signal {
	series, ok := s.rsi(ctx.Candles)
	if !ok {
		return nil
	}
	n := len(series) - 1
	cur, prev := series[n], series[n-1]

	leftOversold := prev <= s.cfg.Oversold && cur > s.cfg.Oversold
	leftOverbought := prev >= s.cfg.Overbought && cur < s.cfg.Overbought
	if !leftOversold && !leftOverbought {
		return nil
	}

	atr := s.atr(ctx.Candles)
	if atr <= 0 {
		return nil
	}
	last := ctx.Candles[len(ctx.Candles)-1]
	if leftOversold {
		return &runner.Signal{
			Direction:  "long",
			EntryPrice: last.C,
			StopLoss:   last.C - s.cfg.StopATRMult*atr,
			Comment:    fmt.Sprintf("rsi %d left oversold %.0f", s.cfg.Period, s.cfg.Oversold),
		}
	}
	return &runner.Signal{
		Direction:  "short",
		EntryPrice: last.C,
		StopLoss:   last.C + s.cfg.StopATRMult*atr,
		Comment:    fmt.Sprintf("rsi %d left overbought %.0f", s.cfg.Period, s.cfg.Overbought),
	}
}

// ShouldExit fires once the reversion has played out through ExitRSI.
func (s *RSIReversion) ShouldExit(ctx *runner.Context) (bool, string) {
	if ctx.Position == nil {
		return false, ""
	}
	series, ok := s.rsi(ctx.Candles)
	if !ok {
		return false, ""
	}
	cur := series[len(series)-1]
	if ctx.Position.Direction == "long" && cur >= s.cfg.ExitRSI {
		return true, fmt.Sprintf("rsi reverted to %.0f", s.cfg.ExitRSI)
	}
	if ctx.Position.Direction == "short" && cur <= s.cfg.ExitRSI {
		return true, fmt.Sprintf("rsi reverted to %.0f", s.cfg.ExitRSI)
	}
	return false, ""
}

// ExitLevel is always 0: reversion trades keep their initial stop.
func (s *RSIReversion) ExitLevel(ctx *runner.Context) float64 { return 0 }

func (s *RSIReversion) rsi(bars []market.Candle) ([]float64, bool) {
	if len(bars) < s.cfg.Period+2 {
		return nil, false
	}
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.C
	}
	series := indicators.RSI(closes, s.cfg.Period)
	n := len(series) - 1
	if n < 1 || math.IsNaN(series[n]) || math.IsNaN(series[n-1]) {
		return nil, false
	}
	return series, true
}

func (s *RSIReversion) atr(bars []market.Candle) float64 {
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
	if math.IsNaN(atr) || math.IsInf(atr, 0) || atr <= 0 {
		return 0
	}
	return atr
}
