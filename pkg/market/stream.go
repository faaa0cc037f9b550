package market

import "context"

// Stream supplies OHLCV candles for an instrument. Implementations return
// bars in ascending open-time order; the newest bar may be in-progress.
type Stream interface {
	// Candles returns up to limit most recent bars for coin at interval.
	Candles(ctx context.Context, coin, interval string, limit int) ([]Candle, error)
}
