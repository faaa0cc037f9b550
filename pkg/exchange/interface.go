package exchange

import "context"

// Provider exposes trading capabilities in an exchange-agnostic fashion.
// Implementations normalize venue output (canonical coin symbols, finite
// numbers, defaulted statuses) and classify failures with *Error so callers
// never parse venue payloads or venue error strings themselves.
type Provider interface {
	// Connect verifies connectivity and warms instrument metadata.
	Connect(ctx context.Context) error

	// SzDecimals returns the size precision for coin from cached metadata,
	// falling back to 5 when the instrument is unknown.
	SzDecimals(ctx context.Context, coin string) int

	// SetLeverage applies the leverage setting for coin. Idempotent; callers
	// re-send it before every entry.
	SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error

	// PlaceEntryOrder submits a limit IOC at referencePx adjusted by
	// slippageBps (buys up, sells down). It never leaves a resting order;
	// unfilled quantity is cancelled by the venue.
	PlaceEntryOrder(ctx context.Context, coin string, isBuy bool, size, referencePx float64, slippageBps int) (*Fill, error)

	// PlaceMarketOrder submits an aggressive IOC that crosses the book.
	PlaceMarketOrder(ctx context.Context, coin string, isBuy bool, size float64) (*Fill, error)

	// PlaceStopOrder rests a stop-market trigger order. Reduce-only sizes
	// are transmitted without precision truncation so the venue can flatten
	// the full remaining position.
	PlaceStopOrder(ctx context.Context, coin string, isBuy bool, size, triggerPx float64, reduceOnly bool) (int64, error)

	// PlaceLimitOrder rests a GTC limit order.
	PlaceLimitOrder(ctx context.Context, coin string, isBuy bool, size, limitPx float64, reduceOnly bool) (int64, error)

	// CancelOrder cancels a resting order by venue order id.
	CancelOrder(ctx context.Context, coin string, oid int64) error

	// Positions returns all open positions for the bound wallet.
	Positions(ctx context.Context) ([]Position, error)

	// OpenOrders returns currently resting orders.
	OpenOrders(ctx context.Context) ([]OpenOrder, error)

	// HistoricalOrders returns recent terminal and resting orders.
	HistoricalOrders(ctx context.Context) ([]OrderStatus, error)

	// OrderStatus looks up a single order by venue order id.
	OrderStatus(ctx context.Context, oid int64) (*OrderStatus, error)

	// AccountEquity returns perps account value plus free spot collateral.
	AccountEquity(ctx context.Context) (float64, error)

	// AccountState returns the perps clearinghouse summary.
	AccountState(ctx context.Context) (*AccountState, error)

	// MidPrice returns the current mid price for coin.
	MidPrice(ctx context.Context, coin string) (float64, error)
}
