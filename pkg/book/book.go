// Package book holds the in-memory position state shared by the signal
// dispatcher and the reconcile loop. The book's mutex is the serialization
// point between the two writers.
package book

import (
	"fmt"
	"sync"
	"time"
)

// TakeProfit is one leg of a position's exit plan. Fraction is the share
// of the position size closed at Price, in (0, 1].
type TakeProfit struct {
	Price    float64 `json:"price"`
	Fraction float64 `json:"fraction"`
}

// Position is the live view of one instrument's exposure.
// SignalID == -1 marks positions hydrated from the venue rather than
// opened by a local signal.
type Position struct {
	Coin             string       `json:"coin"`
	Direction        string       `json:"direction"` // long | short
	EntryPrice       float64      `json:"entry_price"`
	Size             float64      `json:"size"`
	StopLoss         float64      `json:"stop_loss"`
	TakeProfits      []TakeProfit `json:"take_profits,omitempty"`
	TrailingStopLoss float64      `json:"trailing_stop_loss,omitempty"`
	LiquidationPx    float64      `json:"liquidation_px,omitempty"`
	Leverage         int          `json:"leverage"`
	CurrentPrice     float64      `json:"current_price"`
	UnrealizedPnl    float64      `json:"unrealized_pnl"`
	OpenedAt         time.Time    `json:"opened_at"`
	SignalID         int64        `json:"signal_id"`
}

// Hydrated reports whether the position is a venue-hydrated stub that a
// later dispatch may overwrite with authoritative levels.
func (p *Position) Hydrated() bool {
	return p.StopLoss == 0 && p.SignalID <= 0
}

func (p *Position) clone() *Position {
	out := *p
	if p.TakeProfits != nil {
		out.TakeProfits = make([]TakeProfit, len(p.TakeProfits))
		copy(out.TakeProfits, p.TakeProfits)
	}
	return &out
}

// Book maps coin to its open position under one mutex.
type Book struct {
	mu        sync.Mutex
	positions map[string]*Position
}

// New returns an empty position book.
func New() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Open records a new position. It fails if the coin already has one; the
// caller decides whether to Close first (dispatch does for hydrated stubs).
func (b *Book) Open(pos *Position) error {
	if pos == nil || pos.Coin == "" {
		return fmt.Errorf("book: invalid position")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[pos.Coin]; ok {
		return fmt.Errorf("book: position already open for %s", pos.Coin)
	}
	b.positions[pos.Coin] = pos.clone()
	return nil
}

// Close removes the coin's position, returning the removed copy or nil.
func (b *Book) Close(coin string) *Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[coin]
	if !ok {
		return nil
	}
	delete(b.positions, coin)
	return pos
}

// Get returns a copy of the coin's position, or nil when flat.
func (b *Book) Get(coin string) *Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[coin]
	if !ok {
		return nil
	}
	return pos.clone()
}

// IsFlat reports whether the coin has no open position.
func (b *Book) IsFlat(coin string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[coin]
	return !ok
}

// UpdatePrice marks the position to market, recomputing unrealized PnL
// with the direction sign.
func (b *Book) UpdatePrice(coin string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[coin]
	if !ok || price <= 0 {
		return
	}
	pos.CurrentPrice = price
	diff := price - pos.EntryPrice
	if pos.Direction == "short" {
		diff = -diff
	}
	pos.UnrealizedPnl = diff * pos.Size
}

// UpdateTrailingStop records the latest trailing stop level.
func (b *Book) UpdateTrailingStop(coin string, level float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[coin]; ok {
		pos.TrailingStopLoss = level
	}
}

// Count returns the number of open positions.
func (b *Book) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Snapshot returns a deep copy of every open position, keyed by coin.
func (b *Book) Snapshot() map[string]*Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*Position, len(b.positions))
	for coin, pos := range b.positions {
		out[coin] = pos.clone()
	}
	return out
}
