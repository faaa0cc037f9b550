// Package sim provides an in-memory exchange provider for paper trading and
// tests. Aggressive orders fill synchronously against settable mid prices;
// stop and limit orders rest until cancelled. Per-method failure hooks let
// tests exercise every error path of the trading core.
package sim

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"perpcore/pkg/exchange"
)

const (
	defaultInitialEquity = 100_000.0
	defaultSzDecimals    = 5
)

// Provider is the paper-trading exchange implementation.
type Provider struct {
	mu sync.Mutex

	szDecimals map[string]int
	mids       map[string]float64
	leverage   map[string]leverageState
	positions  map[string]*positionState
	open       map[int64]exchange.OpenOrder
	history    []exchange.OrderStatus

	nextOid   int64
	equity    float64
	fillRatio float64 // fraction of entry size filled; 1 fills fully, 0 simulates IOC expiry

	failures     map[string]error // persistent per-op failures
	failuresOnce map[string]error // consumed on first use
}

type leverageState struct {
	Leverage int
	IsCross  bool
}

type positionState struct {
	Qty   float64 // signed; negative short
	Entry float64
}

// New constructs a simulator with default equity.
func New() *Provider {
	return &Provider{
		szDecimals:   make(map[string]int),
		mids:         make(map[string]float64),
		leverage:     make(map[string]leverageState),
		positions:    make(map[string]*positionState),
		open:         make(map[int64]exchange.OpenOrder),
		nextOid:      1000,
		equity:       defaultInitialEquity,
		fillRatio:    1,
		failures:     make(map[string]error),
		failuresOnce: make(map[string]error),
	}
}

var _ exchange.Provider = (*Provider)(nil)

func init() {
	exchange.Register("sim", func(name string, cfg *exchange.ProviderConfig) (exchange.Provider, error) {
		return New(), nil
	})
}

func canonical(coin string) string { return strings.ToUpper(strings.TrimSpace(coin)) }

// SetMid sets the mid price used for fills and mark-to-market.
func (p *Provider) SetMid(coin string, px float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mids[canonical(coin)] = px
}

// SetSzDecimals overrides the size precision for coin (default 5).
func (p *Provider) SetSzDecimals(coin string, decimals int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.szDecimals[canonical(coin)] = decimals
}

// SetFillRatio controls what fraction of subsequent entry orders fills.
// Zero simulates an IOC expiring unfilled.
func (p *Provider) SetFillRatio(ratio float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	p.fillRatio = ratio
}

// FailWith makes every subsequent call to op return err. Op names match the
// Provider method names ("PlaceStopOrder", "Positions", ...). A nil err
// clears the hook.
func (p *Provider) FailWith(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// FailOnce makes the next call to op return err, then clears itself.
func (p *Provider) FailOnce(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failuresOnce[op] = err
}

// SeedPosition installs an exchange-side position directly, bypassing order
// flow. Reconcile tests use this to simulate externally opened exposure.
func (p *Provider) SeedPosition(coin string, signedQty, entryPx float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := canonical(coin)
	if signedQty == 0 {
		delete(p.positions, c)
		return
	}
	p.positions[c] = &positionState{Qty: signedQty, Entry: entryPx}
	if _, ok := p.mids[c]; !ok {
		p.mids[c] = entryPx
	}
}

// RemovePosition deletes an exchange-side position, simulating an external
// close (stop hit, manual flatten).
func (p *Provider) RemovePosition(coin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, canonical(coin))
}

// MarkOrderFilled moves a resting order into history with a terminal status.
func (p *Provider) MarkOrderFilled(oid int64, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.open[oid]
	if !ok {
		return
	}
	delete(p.open, oid)
	p.history = append(p.history, exchange.OrderStatus{
		OrderID:  oid,
		Coin:     order.Coin,
		Side:     order.Side,
		Status:   status,
		LimitPx:  order.LimitPx,
		Size:     order.Size,
		OrigSize: order.OrigSize,
	})
}

func (p *Provider) takeFailure(op string) error {
	if err, ok := p.failuresOnce[op]; ok {
		delete(p.failuresOnce, op)
		return err
	}
	if err, ok := p.failures[op]; ok {
		return err
	}
	return nil
}

// Connect is a no-op for the simulator.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.takeFailure("Connect")
}

// SzDecimals returns the configured precision, defaulting to 5.
func (p *Provider) SzDecimals(ctx context.Context, coin string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.szDecimals[canonical(coin)]; ok {
		return d
	}
	return defaultSzDecimals
}

// SetLeverage records the requested leverage.
func (p *Provider) SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("SetLeverage"); err != nil {
		return err
	}
	if leverage <= 0 {
		return exchange.NewError(exchange.KindInvalidRequest, "setLeverage", coin, "leverage must be positive")
	}
	p.leverage[canonical(coin)] = leverageState{Leverage: leverage, IsCross: isCross}
	return nil
}

// Leverage reports the last recorded leverage setting for coin.
func (p *Provider) Leverage(coin string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.leverage[canonical(coin)]
	return state.Leverage, ok
}

// PlaceEntryOrder fills synchronously at the reference price scaled by the
// configured fill ratio.
func (p *Provider) PlaceEntryOrder(ctx context.Context, coin string, isBuy bool, size, referencePx float64, slippageBps int) (*exchange.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("PlaceEntryOrder"); err != nil {
		return nil, err
	}
	return p.fillLocked(coin, isBuy, size, referencePx, true)
}

// PlaceMarketOrder fills synchronously at the current mid.
func (p *Provider) PlaceMarketOrder(ctx context.Context, coin string, isBuy bool, size float64) (*exchange.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("PlaceMarketOrder"); err != nil {
		return nil, err
	}
	px, ok := p.mids[canonical(coin)]
	if !ok {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "placeMarketOrder", coin, "no mid price set")
	}
	return p.fillLocked(coin, isBuy, size, px, false)
}

func (p *Provider) fillLocked(coin string, isBuy bool, size, px float64, applyRatio bool) (*exchange.Fill, error) {
	if size <= 0 || px <= 0 {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "placeOrder", coin, "size and price must be positive")
	}
	c := canonical(coin)
	decimals := defaultSzDecimals
	if d, ok := p.szDecimals[c]; ok {
		decimals = d
	}
	filled := exchange.TruncateSize(size, decimals)
	if applyRatio {
		filled = exchange.TruncateSize(filled*p.fillRatio, decimals)
	}
	oid := p.nextOidLocked()
	if filled <= 0 {
		return &exchange.Fill{OrderID: oid}, nil
	}

	qty := filled
	if !isBuy {
		qty = -filled
	}
	pos, ok := p.positions[c]
	if !ok {
		p.positions[c] = &positionState{Qty: qty, Entry: px}
	} else {
		next := pos.Qty + qty
		switch {
		case next == 0:
			p.equity += realized(pos, px)
			delete(p.positions, c)
		case (pos.Qty > 0) == (next > 0) && math.Abs(next) > math.Abs(pos.Qty):
			pos.Entry = (pos.Entry*math.Abs(pos.Qty) + px*filled) / math.Abs(next)
			pos.Qty = next
		default:
			p.equity += realized(pos, px) * (filled / math.Abs(pos.Qty))
			pos.Qty = next
		}
	}
	p.mids[c] = px
	p.history = append(p.history, exchange.OrderStatus{
		OrderID:  oid,
		Coin:     c,
		Side:     sideOf(isBuy),
		Status:   exchange.StatusFilled,
		LimitPx:  px,
		Size:     0,
		OrigSize: filled,
	})
	return &exchange.Fill{OrderID: oid, FilledSize: filled, AvgPrice: px}, nil
}

func realized(pos *positionState, exitPx float64) float64 {
	if pos.Qty > 0 {
		return (exitPx - pos.Entry) * pos.Qty
	}
	return (pos.Entry - exitPx) * -pos.Qty
}

func sideOf(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}

// PlaceStopOrder rests a trigger order and returns its oid.
func (p *Provider) PlaceStopOrder(ctx context.Context, coin string, isBuy bool, size, triggerPx float64, reduceOnly bool) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("PlaceStopOrder"); err != nil {
		return 0, err
	}
	if size <= 0 || triggerPx <= 0 {
		return 0, exchange.NewError(exchange.KindInvalidRequest, "placeStopOrder", coin, "size and trigger price must be positive")
	}
	oid := p.nextOidLocked()
	p.open[oid] = exchange.OpenOrder{
		Coin:       canonical(coin),
		OrderID:    oid,
		Side:       sideOf(isBuy),
		Size:       size,
		OrigSize:   size,
		IsTrigger:  true,
		TriggerPx:  triggerPx,
		ReduceOnly: reduceOnly,
	}
	return oid, nil
}

// PlaceLimitOrder rests a GTC limit order and returns its oid.
func (p *Provider) PlaceLimitOrder(ctx context.Context, coin string, isBuy bool, size, limitPx float64, reduceOnly bool) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("PlaceLimitOrder"); err != nil {
		return 0, err
	}
	if size <= 0 || limitPx <= 0 {
		return 0, exchange.NewError(exchange.KindInvalidRequest, "placeLimitOrder", coin, "size and price must be positive")
	}
	oid := p.nextOidLocked()
	p.open[oid] = exchange.OpenOrder{
		Coin:       canonical(coin),
		OrderID:    oid,
		Side:       sideOf(isBuy),
		LimitPx:    limitPx,
		Size:       size,
		OrigSize:   size,
		ReduceOnly: reduceOnly,
	}
	return oid, nil
}

// CancelOrder removes a resting order, recording it as cancelled.
func (p *Provider) CancelOrder(ctx context.Context, coin string, oid int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("CancelOrder"); err != nil {
		return err
	}
	order, ok := p.open[oid]
	if !ok {
		return exchange.NewError(exchange.KindInvalidRequest, "cancelOrder", coin, "unknown order id")
	}
	delete(p.open, oid)
	p.history = append(p.history, exchange.OrderStatus{
		OrderID:  oid,
		Coin:     order.Coin,
		Side:     order.Side,
		Status:   exchange.StatusCanceled,
		LimitPx:  order.LimitPx,
		Size:     order.Size,
		OrigSize: order.OrigSize,
	})
	return nil
}

// Positions returns all open positions.
func (p *Provider) Positions(ctx context.Context) ([]exchange.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("Positions"); err != nil {
		return nil, err
	}
	return p.positionsLocked(), nil
}

func (p *Provider) positionsLocked() []exchange.Position {
	coins := make([]string, 0, len(p.positions))
	for coin := range p.positions {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	out := make([]exchange.Position, 0, len(coins))
	for _, coin := range coins {
		pos := p.positions[coin]
		mid := p.mids[coin]
		if mid <= 0 {
			mid = pos.Entry
		}
		lev := p.leverage[coin]
		leverage := lev.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		out = append(out, exchange.Position{
			Coin:          coin,
			Szi:           pos.Qty,
			EntryPx:       pos.Entry,
			PositionValue: math.Abs(pos.Qty) * mid,
			UnrealizedPnl: realized(pos, mid),
			Leverage:      leverage,
			IsCross:       lev.IsCross,
		})
	}
	return out
}

// OpenOrders returns resting orders sorted by oid.
func (p *Provider) OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("OpenOrders"); err != nil {
		return nil, err
	}
	out := make([]exchange.OpenOrder, 0, len(p.open))
	for _, order := range p.open {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// HistoricalOrders returns terminal orders in recording order.
func (p *Provider) HistoricalOrders(ctx context.Context) ([]exchange.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("HistoricalOrders"); err != nil {
		return nil, err
	}
	return append([]exchange.OrderStatus(nil), p.history...), nil
}

// OrderStatus looks up an order in resting then historical state. Unknown
// oids return (nil, nil) like the live venue.
func (p *Provider) OrderStatus(ctx context.Context, oid int64) (*exchange.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("OrderStatus"); err != nil {
		return nil, err
	}
	if order, ok := p.open[oid]; ok {
		return &exchange.OrderStatus{
			OrderID:  oid,
			Coin:     order.Coin,
			Side:     order.Side,
			Status:   exchange.StatusOpen,
			LimitPx:  order.LimitPx,
			Size:     order.Size,
			OrigSize: order.OrigSize,
		}, nil
	}
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].OrderID == oid {
			status := p.history[i]
			return &status, nil
		}
	}
	return nil, nil
}

// AccountEquity returns realized equity plus unrealized PnL.
func (p *Provider) AccountEquity(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("AccountEquity"); err != nil {
		return 0, err
	}
	equity := p.equity
	for coin, pos := range p.positions {
		mid := p.mids[coin]
		if mid <= 0 {
			mid = pos.Entry
		}
		equity += realized(pos, mid)
	}
	return equity, nil
}

// AccountState summarizes the simulated account.
func (p *Provider) AccountState(ctx context.Context) (*exchange.AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("AccountState"); err != nil {
		return nil, err
	}
	positions := p.positionsLocked()
	var notional float64
	for _, pos := range positions {
		notional += pos.PositionValue
	}
	return &exchange.AccountState{
		AccountValue: p.equity,
		TotalNtlPos:  notional,
		Withdrawable: p.equity - notional,
		Positions:    positions,
	}, nil
}

// MidPrice returns the configured mid for coin.
func (p *Provider) MidPrice(ctx context.Context, coin string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("MidPrice"); err != nil {
		return 0, err
	}
	px, ok := p.mids[canonical(coin)]
	if !ok {
		return 0, exchange.NewError(exchange.KindTransient, "midPrice", coin, "no mid price set")
	}
	return px, nil
}

func (p *Provider) nextOidLocked() int64 {
	p.nextOid++
	return p.nextOid
}
