// Package risk sizes trades and enforces the pre-trade guardrails.
package risk

import "math"

// Stable, user-visible rejection reasons. These appear in signal records
// and API responses; renaming them breaks operator tooling.
const (
	ReasonMaxNotional  = "MaxNotionalExceeded"
	ReasonMaxLeverage  = "MaxLeverageExceeded"
	ReasonMaxPositions = "MaxOpenPositionsReached"
	ReasonDailyLoss    = "DailyLossLimitReached"
	ReasonDailyTrades  = "DailyTradeLimitReached"
	ReasonEntryDrift   = "EntryPriceDriftTooLarge"
)

const defaultEntryDriftPct = 5.0

// Sizing modes.
const (
	SizingRisk  = "risk"
	SizingCash  = "cash"
	SizingFixed = "fixed"
)

// Sizing selects how an entry's size is computed from the signal.
type Sizing struct {
	Mode            string  `json:"mode" yaml:"mode"`
	RiskPerTradeUsd float64 `json:"risk_per_trade_usd" yaml:"risk_per_trade_usd"`
	CashPerTrade    float64 `json:"cash_per_trade" yaml:"cash_per_trade"`
	FixedSize       float64 `json:"fixed_size" yaml:"fixed_size"`
}

// Size computes the order size for an entry at entryPrice with the given
// stop. Returns 0 when the inputs cannot produce a positive size; the
// dispatcher treats that as a rejection.
func (s Sizing) Size(entryPrice, stopLoss float64, leverage int) float64 {
	switch s.Mode {
	case SizingRisk:
		dist := math.Abs(entryPrice - stopLoss)
		if dist <= 0 || s.RiskPerTradeUsd <= 0 {
			return 0
		}
		return s.RiskPerTradeUsd / dist
	case SizingCash:
		if entryPrice <= 0 || s.CashPerTrade <= 0 {
			return 0
		}
		// Leverage scales margin, not size: cash mode spends CashPerTrade
		// of notional regardless of the instrument's leverage.
		return s.CashPerTrade / entryPrice
	case SizingFixed:
		if s.FixedSize < 0 {
			return 0
		}
		return s.FixedSize
	default:
		return 0
	}
}

// Guardrails are the pre-trade limits. Zero values disable a check,
// except MaxEntryDriftPct which defaults to 5%.
type Guardrails struct {
	MaxNotionalUsd   float64 `json:"max_notional_usd" yaml:"max_notional_usd"`
	MaxDailyLossUsd  float64 `json:"max_daily_loss_usd" yaml:"max_daily_loss_usd"`
	MaxLeverage      int     `json:"max_leverage" yaml:"max_leverage"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxTradesPerDay  int     `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	CooldownBars     int     `json:"cooldown_bars" yaml:"cooldown_bars"`
	MaxEntryDriftPct float64 `json:"max_entry_drift_pct" yaml:"max_entry_drift_pct"`
}

// Input is the state the guardrails evaluate against.
type Input struct {
	NotionalUsd      float64
	Leverage         int
	OpenPositions    int
	TodayRealizedPnl float64
	TodayTradeCount  int
	EntryPrice       float64
	CurrentPrice     float64
}

// Evaluate runs the checks in a fixed order; the first violation wins.
func (g Guardrails) Evaluate(in Input) (bool, string) {
	if g.MaxNotionalUsd > 0 && in.NotionalUsd > g.MaxNotionalUsd {
		return false, ReasonMaxNotional
	}
	if g.MaxLeverage > 0 && in.Leverage > g.MaxLeverage {
		return false, ReasonMaxLeverage
	}
	if g.MaxOpenPositions > 0 && in.OpenPositions >= g.MaxOpenPositions {
		return false, ReasonMaxPositions
	}
	if g.MaxDailyLossUsd > 0 && in.TodayRealizedPnl <= -g.MaxDailyLossUsd {
		return false, ReasonDailyLoss
	}
	if g.MaxTradesPerDay > 0 && in.TodayTradeCount >= g.MaxTradesPerDay {
		return false, ReasonDailyTrades
	}
	if in.CurrentPrice > 0 && in.EntryPrice > 0 {
		driftPct := math.Abs(in.EntryPrice-in.CurrentPrice) / in.CurrentPrice * 100
		limit := g.MaxEntryDriftPct
		if limit <= 0 {
			limit = defaultEntryDriftPct
		}
		if driftPct > limit {
			return false, ReasonEntryDrift
		}
	}
	return true, ""
}
