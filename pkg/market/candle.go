// Package market defines the candle data model shared by strategies, the
// runner and the read API, plus the polling machinery that turns a candle
// source into closed-bar events.
package market

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar. T is the bar's open time in epoch milliseconds.
// A candle is in-progress while the current bar is still forming and closed
// once its interval has fully elapsed.
type Candle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// Time returns the bar open time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.T).UTC()
}

// ClosedBy reports whether the bar has fully elapsed at now for the given
// interval.
func (c Candle) ClosedBy(now time.Time, interval time.Duration) bool {
	return c.T+interval.Milliseconds() <= now.UnixMilli()
}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration resolves a venue interval string to its duration.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("market: unsupported interval %q", interval)
	}
	return d, nil
}

// Aggregate compresses base-interval bars into higher-timeframe bars of
// factor base intervals each, aligned on the higher timeframe's boundaries.
// The trailing bucket is included even when incomplete so strategies see the
// forming higher-timeframe bar.
func Aggregate(bars []Candle, factor int) []Candle {
	if factor <= 1 || len(bars) < 2 {
		return append([]Candle(nil), bars...)
	}
	base := bars[1].T - bars[0].T
	if base <= 0 {
		return append([]Candle(nil), bars...)
	}
	span := base * int64(factor)

	var out []Candle
	for _, bar := range bars {
		bucket := bar.T - bar.T%span
		if len(out) == 0 || out[len(out)-1].T != bucket {
			out = append(out, Candle{T: bucket, O: bar.O, H: bar.H, L: bar.L, C: bar.C, V: bar.V})
			continue
		}
		agg := &out[len(out)-1]
		if bar.H > agg.H {
			agg.H = bar.H
		}
		if bar.L < agg.L {
			agg.L = bar.L
		}
		agg.C = bar.C
		agg.V += bar.V
	}
	return out
}
