// Package store defines the durable record types of the trading core and
// the Store interface implemented by the file and Postgres backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateAlert is returned by InsertSignal when the alert id has
// already been persisted. Alert-id uniqueness is the core's idempotency
// anchor.
var ErrDuplicateAlert = errors.New("store: duplicate alert id")

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("store: not found")

// Signal sources.
const (
	SourceStrategy = "strategy"
	SourceAPI      = "api"
	SourceRouter   = "router"
)

// Order lifecycle states.
const (
	OrderStatusPending   = "pending"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// Order types.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
	OrderTypeStop   = "stop"
)

// Order tags identify an order's role within its signal.
const (
	TagEntry        = "entry"
	TagStopLoss     = "sl"
	TagTrailingStop = "trailing-sl"
	TagClose        = "close"
)

// TagTakeProfit returns the tag for the n-th take-profit leg (1-based).
func TagTakeProfit(n int) string {
	return fmt.Sprintf("tp%d", n)
}

// SignalRecord is the audit record written the instant a signal is accepted
// for processing, before any order is placed. Immutable once inserted.
type SignalRecord struct {
	ID              int64     `json:"id"`
	AlertID         string    `json:"alert_id"`
	Source          string    `json:"source"`
	Coin            string    `json:"coin"`
	Side            string    `json:"side"`
	EntryPrice      float64   `json:"entry_price"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfits     string    `json:"take_profits"` // serialized JSON
	RiskCheckPassed bool      `json:"risk_check_passed"`
	RiskCheckReason string    `json:"risk_check_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// OrderRecord links every order back to its originating signal.
// ExchangeOrderID is nil only for intents that never reached the venue.
// RealizedPnl is annotated on fills that close exposure so daily-loss
// guardrails can answer from the orders table.
type OrderRecord struct {
	ID              int64      `json:"id"`
	SignalID        int64      `json:"signal_id"`
	ExchangeOrderID *int64     `json:"exchange_order_id,omitempty"`
	Coin            string     `json:"coin"`
	Side            string     `json:"side"`
	Size            float64    `json:"size"`
	Price           float64    `json:"price"`
	Type            string     `json:"type"`
	Tag             string     `json:"tag"`
	Status          string     `json:"status"`
	Mode            string     `json:"mode,omitempty"`
	RealizedPnl     *float64   `json:"realized_pnl,omitempty"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EquitySnapshot is one point of the append-only equity series.
type EquitySnapshot struct {
	TS            time.Time `json:"ts"`
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"open_positions"`
}

// Store is the durable, single-writer record store. Implementations
// serialize concurrent callers internally; every write is atomic with
// respect to crashes.
type Store interface {
	// InsertSignal persists a signal record, enforcing alert-id
	// uniqueness. Returns ErrDuplicateAlert on conflict.
	InsertSignal(ctx context.Context, rec SignalRecord) (int64, error)
	// HasSignal reports whether alertID has been persisted.
	HasSignal(ctx context.Context, alertID string) (bool, error)
	// RecentSignals returns up to limit newest signals, newest first.
	RecentSignals(ctx context.Context, limit int) ([]SignalRecord, error)

	InsertOrder(ctx context.Context, rec OrderRecord) (int64, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) error
	// MarkOrderFilled sets status filled with the fill time and an
	// optional realized-pnl annotation.
	MarkOrderFilled(ctx context.Context, id int64, filledAt time.Time, realizedPnl *float64) error
	PendingOrders(ctx context.Context) ([]OrderRecord, error)
	RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error)
	OrdersBySignal(ctx context.Context, signalID int64) ([]OrderRecord, error)
	// TrailingStopOrder returns the newest pending trailing-sl order for
	// coin, or ErrNotFound. Used by runner warmup to recover state.
	TrailingStopOrder(ctx context.Context, coin string) (*OrderRecord, error)

	InsertEquitySnapshot(ctx context.Context, snap EquitySnapshot) error
	RecentEquity(ctx context.Context, limit int) ([]EquitySnapshot, error)

	// TodayRealizedPnl sums realized-pnl annotations on today's filled
	// orders for coin. Day boundary is UTC.
	TodayRealizedPnl(ctx context.Context, coin string) (float64, error)
	// TodayTradeCount counts today's entry orders for coin (UTC).
	TodayTradeCount(ctx context.Context, coin string) (int, error)

	Close() error
}
