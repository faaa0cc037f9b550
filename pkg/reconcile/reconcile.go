// Package reconcile keeps local state honest against the venue: it
// hydrates positions the core does not know, closes positions the venue
// no longer has, settles pending order records, and appends the equity
// series.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/book"
	"perpcore/pkg/events"
	"perpcore/pkg/exchange"
	"perpcore/pkg/store"
)

const (
	defaultInterval     = 10 * time.Second
	defaultFetchTimeout = 15 * time.Second

	// sizeDriftTolerance is the relative local-vs-venue size mismatch
	// tolerated before a drift action is reported.
	sizeDriftTolerance = 0.01
)

// Report is handed to the OnReconciled observer after every tick.
type Report struct {
	Positions  []exchange.Position
	OpenOrders []exchange.OpenOrder
	Equity     float64
	Actions    []string
	Drift      bool
}

// Config wires a reconcile loop.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	// OnReconciled is invoked outside any lock with each tick's report.
	OnReconciled func(Report)
}

// Loop runs venue reconciliation on a fixed cadence. Ticks are mutually
// exclusive; an overlapping tick is skipped, never queued.
type Loop struct {
	cfg      Config
	provider exchange.Provider
	store    store.Store
	book     *book.Book
	bus      *events.Bus
	clock    func() time.Time

	tickMu sync.Mutex
}

// New builds a reconcile loop.
func New(cfg Config, provider exchange.Provider, st store.Store, bk *book.Book, bus *events.Bus) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Loop{cfg: cfg, provider: provider, store: st, book: bk, bus: bus, clock: time.Now}
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass unless one is already in flight.
// Returns false when the tick was skipped.
func (l *Loop) Tick(ctx context.Context) bool {
	if !l.tickMu.TryLock() {
		logx.WithContext(ctx).Infof("reconcile: previous tick still running, skipping")
		return false
	}
	report, err := l.runLocked(ctx)
	l.tickMu.Unlock()
	if err != nil {
		logx.WithContext(ctx).Errorf("reconcile: tick failed: %v", err)
		return true
	}
	// Observer runs outside the tick lock so it can call back into the
	// loop or the book safely.
	if l.cfg.OnReconciled != nil {
		l.cfg.OnReconciled(report)
	}
	return true
}

func (l *Loop) runLocked(ctx context.Context) (Report, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
	defer cancel()

	positions, err := l.provider.Positions(fetchCtx)
	if err != nil {
		return Report{}, fmt.Errorf("fetch positions: %w", err)
	}
	openOrders, err := l.provider.OpenOrders(fetchCtx)
	if err != nil {
		return Report{}, fmt.Errorf("fetch open orders: %w", err)
	}
	historical, err := l.provider.HistoricalOrders(fetchCtx)
	if err != nil {
		return Report{}, fmt.Errorf("fetch historical orders: %w", err)
	}
	equity, err := l.provider.AccountEquity(fetchCtx)
	if err != nil {
		return Report{}, fmt.Errorf("fetch equity: %w", err)
	}

	var actions []string
	drift := false

	venueByCoin := make(map[string]exchange.Position, len(positions))
	for _, pos := range positions {
		venueByCoin[pos.Coin] = pos
	}

	a, d := l.reconcilePositions(ctx, venueByCoin)
	actions = append(actions, a...)
	drift = drift || d

	a = l.syncOrders(ctx, openOrders, historical, venueByCoin)
	actions = append(actions, a...)

	if err := l.store.InsertEquitySnapshot(ctx, store.EquitySnapshot{
		TS: l.clock().UTC(), Equity: equity, OpenPositions: len(positions),
	}); err != nil {
		logx.WithContext(ctx).Errorf("reconcile: equity snapshot: %v", err)
	}

	report := Report{
		Positions:  positions,
		OpenOrders: openOrders,
		Equity:     equity,
		Actions:    actions,
		Drift:      drift || len(actions) > 0,
	}
	if report.Drift {
		l.bus.Publish(events.TypeReconcileDrift, map[string]any{"actions": actions, "equity": equity})
	} else {
		l.bus.Publish(events.TypeReconcileOk, map[string]any{"equity": equity, "positions": len(positions)})
	}
	return report, nil
}

// reconcilePositions aligns the book with the venue in both directions.
func (l *Loop) reconcilePositions(ctx context.Context, venueByCoin map[string]exchange.Position) ([]string, bool) {
	var actions []string
	drift := false
	local := l.book.Snapshot()

	for coin, venuePos := range venueByCoin {
		localPos, ok := local[coin]
		if !ok {
			// Venue knows a position the core does not: make it visible
			// with the hydration sentinels so cleanup is possible.
			hydrated := &book.Position{
				Coin:          coin,
				Direction:     venuePos.Direction(),
				EntryPrice:    venuePos.EntryPx,
				Size:          venuePos.Size(),
				StopLoss:      0,
				Leverage:      venuePos.Leverage,
				LiquidationPx: venuePos.LiquidationPx,
				CurrentPrice:  markPrice(venuePos),
				UnrealizedPnl: venuePos.UnrealizedPnl,
				OpenedAt:      l.clock().UTC(),
				SignalID:      -1,
			}
			if err := l.book.Open(hydrated); err != nil {
				logx.WithContext(ctx).Errorf("reconcile: hydrate %s: %v", coin, err)
				continue
			}
			l.bus.Publish(events.TypePositionHydrated, map[string]any{
				"coin": coin, "direction": hydrated.Direction, "size": hydrated.Size,
				"entry_price": hydrated.EntryPrice,
			})
			actions = append(actions, "hydrate:"+coin)
			continue
		}

		if relDiff(localPos.Size, venuePos.Size()) > sizeDriftTolerance {
			actions = append(actions, fmt.Sprintf("size_drift:%s:local=%g:venue=%g", coin, localPos.Size, venuePos.Size()))
			drift = true
		}
		l.book.UpdatePrice(coin, markPrice(venuePos))
	}

	for coin := range local {
		if _, ok := venueByCoin[coin]; ok {
			continue
		}
		// The venue no longer holds it (stopped out, liquidated, or closed
		// externally); follow suit locally.
		closed := l.book.Close(coin)
		if closed == nil {
			continue
		}
		l.bus.Publish(events.TypePositionAutoClosed, map[string]any{
			"coin": coin, "signal_id": closed.SignalID,
		})
		actions = append(actions, "auto_close:"+coin)
	}
	return actions, drift
}

// syncOrders drives pending order records to terminal states using the
// openOrders → historicalOrders → OrderStatus fallback chain.
func (l *Loop) syncOrders(ctx context.Context, openOrders []exchange.OpenOrder, historical []exchange.OrderStatus, venueByCoin map[string]exchange.Position) []string {
	pending, err := l.store.PendingOrders(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("reconcile: pending orders: %v", err)
		return nil
	}
	if len(pending) == 0 {
		return nil
	}

	resting := make(map[int64]struct{}, len(openOrders))
	for _, order := range openOrders {
		resting[order.OrderID] = struct{}{}
	}
	historicalByOid := make(map[int64]exchange.OrderStatus, len(historical))
	for _, status := range historical {
		historicalByOid[status.OrderID] = status
	}

	var actions []string
	for _, rec := range pending {
		if rec.ExchangeOrderID == nil {
			continue
		}
		oid := *rec.ExchangeOrderID
		if _, ok := resting[oid]; ok {
			continue // still working
		}

		status, found := historicalByOid[oid]
		if !found {
			venueStatus, err := l.provider.OrderStatus(ctx, oid)
			if err != nil {
				logx.WithContext(ctx).Errorf("reconcile: order status %d: %v", oid, err)
				continue
			}
			if venueStatus == nil {
				// No venue evidence at all. With the position gone the
				// order can never fill; otherwise keep waiting.
				if _, hasPosition := venueByCoin[rec.Coin]; !hasPosition {
					l.settleOrder(ctx, rec, store.OrderStatusCancelled, &actions)
				}
				continue
			}
			status = *venueStatus
		}

		switch status.Status {
		case exchange.StatusFilled, exchange.StatusTriggered:
			l.settleOrder(ctx, rec, store.OrderStatusFilled, &actions)
		case exchange.StatusCanceled, exchange.StatusMarginCanceled:
			l.settleOrder(ctx, rec, store.OrderStatusCancelled, &actions)
		case exchange.StatusRejected:
			l.settleOrder(ctx, rec, store.OrderStatusRejected, &actions)
		}
	}
	return actions
}

func (l *Loop) settleOrder(ctx context.Context, rec store.OrderRecord, status string, actions *[]string) {
	var err error
	if status == store.OrderStatusFilled {
		err = l.store.MarkOrderFilled(ctx, rec.ID, l.clock().UTC(), nil)
	} else {
		err = l.store.UpdateOrderStatus(ctx, rec.ID, status)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logx.WithContext(ctx).Errorf("reconcile: settle order %d: %v", rec.ID, err)
		return
	}

	eventType := events.TypeOrderCancelled
	if status == store.OrderStatusFilled {
		eventType = events.TypeOrderFilled
	}
	l.bus.Publish(eventType, map[string]any{
		"order_id": rec.ID, "coin": rec.Coin, "tag": rec.Tag, "status": status,
	})
	*actions = append(*actions, fmt.Sprintf("order_%s:%s:%d", status, rec.Coin, rec.ID))
}

// markPrice back-derives the venue's mark from entry and unrealized pnl,
// direction-aware.
func markPrice(pos exchange.Position) float64 {
	size := pos.Size()
	if size <= 0 {
		return pos.EntryPx
	}
	perUnit := pos.UnrealizedPnl / size
	if pos.Szi < 0 {
		return pos.EntryPx - perUnit
	}
	return pos.EntryPx + perUnit
}

func relDiff(a, b float64) float64 {
	if b == 0 {
		if a == 0 {
			return 0
		}
		return 1
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff / b
}
