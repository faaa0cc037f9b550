// Package dispatch turns accepted signals into protected open positions.
// The pipeline is strictly ordered and idempotent on alert id: re-delivery
// of the same alert can never double-open, and every rejection carries a
// stable reason string.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/book"
	"perpcore/pkg/events"
	"perpcore/pkg/exchange"
	"perpcore/pkg/notify"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
)

// Rejection reasons returned in Result.Reason. Stable; surfaced to
// operators through the API and signal records.
const (
	ReasonAutoTradingDisabled = "AutoTradingDisabled"
	ReasonPositionPending     = "PositionAlreadyOpenOrPending"
	ReasonDuplicate           = "Duplicate"
	ReasonSizeZero            = "SizeZero"
	ReasonEntryNotFilled      = "EntryNotFilled"
)

const placeTimeout = 10 * time.Second

// ErrCriticalProtectionFailure marks the worst dispatch outcome: an entry
// filled, the stop-loss could not be placed, and the rollback also failed.
// The position is left in the book with StopLoss == 0 so reconcile and
// operators can see the unprotected exposure.
var ErrCriticalProtectionFailure = errors.New("dispatch: position open without stop-loss protection")

// Signal is an immutable trade instruction produced by a strategy or an
// external alert.
type Signal struct {
	Direction   string // long | short
	EntryPrice  float64
	StopLoss    float64
	TakeProfits []book.TakeProfit
	Comment     string
}

// Request carries one signal plus its execution context through the
// pipeline.
type Request struct {
	Signal       Signal
	Coin         string
	Source       string // store.SourceStrategy | SourceAPI | SourceRouter
	AlertID      string // synthesized when empty
	CurrentPrice float64
	Leverage     int
	IsCross      bool
	AutoTrading  bool
	SlippageBps  int
	Sizing       risk.Sizing
	Guardrails   risk.Guardrails
	Mode         string // live | paper, recorded on order rows
}

// Result reports the dispatch outcome. Accepted is false when Reason is
// set; Position is non-nil only on success.
type Result struct {
	SignalID int64
	Accepted bool
	Reason   string
	Position *book.Position
}

// OrderIntent is the derived, precision-truncated order plan for a signal.
type OrderIntent struct {
	Coin        string
	Side        string // buy | sell
	Size        float64
	EntryPrice  float64
	StopLoss    float64
	Notional    float64
	TakeProfits []book.TakeProfit
	Direction   string
}

// Dispatcher owns the signal pipeline for all instruments of one process.
type Dispatcher struct {
	provider exchange.Provider
	store    store.Store
	book     *book.Book
	bus      *events.Bus
	notifier notify.Notifier
	pending  *pendingCoins
	clock    func() time.Time
}

// New wires a dispatcher. The notifier may be nil.
func New(provider exchange.Provider, st store.Store, bk *book.Book, bus *events.Bus, notifier notify.Notifier) *Dispatcher {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Dispatcher{
		provider: provider,
		store:    st,
		book:     bk,
		bus:      bus,
		notifier: notifier,
		pending:  newPendingCoins(),
		clock:    time.Now,
	}
}

// Dispatch runs the full pipeline for one signal.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	logger := logx.WithContext(ctx)

	// Step 1: gating. Operator sources bypass the auto-trading switch.
	if req.Source == store.SourceStrategy && !req.AutoTrading {
		return d.reject(req, 0, ReasonAutoTradingDisabled), nil
	}

	// Step 2: per-instrument serialization. The pendingCoins entry is the
	// sole concurrency gate for this coin and is held for the whole
	// pipeline.
	if !d.pending.tryAcquire(req.Coin) {
		return d.reject(req, 0, ReasonPositionPending), nil
	}
	defer d.pending.release(req.Coin)

	if pos := d.book.Get(req.Coin); pos != nil && !pos.Hydrated() {
		return d.reject(req, 0, ReasonPositionPending), nil
	}

	// Step 3: idempotency.
	alertID := req.AlertID
	if alertID == "" {
		alertID = req.Source + "-" + uuid.NewString()
	}
	seen, err := d.store.HasSignal(ctx, alertID)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: idempotency lookup: %w", err)
	}
	if seen {
		return d.reject(req, 0, ReasonDuplicate), nil
	}

	// Step 4: intent derivation.
	intent, err := d.deriveIntent(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if intent.Size <= 0 {
		signalID, perr := d.persistSignal(ctx, req, alertID, false, ReasonSizeZero)
		if perr != nil {
			return Result{}, perr
		}
		return d.reject(req, signalID, ReasonSizeZero), nil
	}

	// Step 5: risk check. The signal record is persisted with the outcome
	// either way.
	ok, reason, err := d.checkRisk(ctx, req, intent)
	if err != nil {
		return Result{}, err
	}
	signalID, err := d.persistSignal(ctx, req, alertID, ok, reason)
	if errors.Is(err, store.ErrDuplicateAlert) {
		return d.reject(req, 0, ReasonDuplicate), nil
	}
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return d.reject(req, signalID, reason), nil
	}

	// Step 6: leverage sync, idempotent by provider contract.
	if err := d.provider.SetLeverage(ctx, req.Coin, req.Leverage, req.IsCross); err != nil {
		return Result{}, fmt.Errorf("dispatch: set leverage %s: %w", req.Coin, err)
	}

	// Step 7: entry.
	isBuy := intent.Side == "buy"
	fill, err := d.placeEntry(ctx, req, intent, isBuy, signalID)
	if err != nil {
		return Result{}, err
	}
	szDecimals := d.provider.SzDecimals(ctx, req.Coin)
	actualSize := exchange.TruncateSize(fill.FilledSize, szDecimals)
	if actualSize <= 0 {
		d.bus.Publish(events.TypeEntryNoFill, map[string]any{
			"coin": req.Coin, "alert_id": alertID, "signal_id": signalID,
		})
		return d.reject(req, signalID, ReasonEntryNotFilled), nil
	}

	// Step 8: stop-loss. Failure here triggers rollback; a failed rollback
	// leaves a deliberately visible unprotected position.
	stopOid, err := d.placeStop(ctx, req, intent, !isBuy, actualSize, signalID)
	if err != nil {
		return d.handleProtectionFailure(ctx, req, intent, fill, actualSize, signalID, err)
	}

	// Step 9: take-profits, best-effort behind the stop.
	d.placeTakeProfits(ctx, req, intent, !isBuy, actualSize, szDecimals, signalID)

	// Step 10: authoritative book entry, replacing any hydrated stub the
	// reconcile loop may have raced in.
	position := &book.Position{
		Coin:         req.Coin,
		Direction:    intent.Direction,
		EntryPrice:   fill.AvgPrice,
		Size:         actualSize,
		StopLoss:     intent.StopLoss,
		TakeProfits:  intent.TakeProfits,
		Leverage:     req.Leverage,
		CurrentPrice: fill.AvgPrice,
		OpenedAt:     d.clock().UTC(),
		SignalID:     signalID,
	}
	if existing := d.book.Get(req.Coin); existing != nil {
		d.book.Close(req.Coin)
	}
	if err := d.book.Open(position); err != nil {
		logger.Errorf("dispatch: book open %s: %v", req.Coin, err)
	}

	// Step 11: announce.
	d.bus.Publish(events.TypePositionOpened, map[string]any{
		"coin": req.Coin, "direction": intent.Direction, "size": actualSize,
		"entry_price": fill.AvgPrice, "stop_loss": intent.StopLoss,
		"signal_id": signalID, "stop_oid": stopOid,
	})
	d.notifyOpened(req, intent, fill, actualSize)

	return Result{SignalID: signalID, Accepted: true, Position: position}, nil
}

func (d *Dispatcher) reject(req Request, signalID int64, reason string) Result {
	d.bus.Publish(events.TypeSignalRejected, map[string]any{
		"coin": req.Coin, "source": req.Source, "reason": reason, "signal_id": signalID,
	})
	return Result{SignalID: signalID, Reason: reason}
}

// deriveIntent applies the sizing policy and venue precision to the raw
// signal.
func (d *Dispatcher) deriveIntent(ctx context.Context, req Request) (OrderIntent, error) {
	szDecimals := d.provider.SzDecimals(ctx, req.Coin)

	side := "buy"
	if req.Signal.Direction == "short" {
		side = "sell"
	}
	size := exchange.TruncateSize(req.Sizing.Size(req.Signal.EntryPrice, req.Signal.StopLoss, req.Leverage), szDecimals)
	entryPx := roundPrice(req.Signal.EntryPrice)
	stopPx := roundPrice(req.Signal.StopLoss)

	return OrderIntent{
		Coin:        req.Coin,
		Side:        side,
		Size:        size,
		EntryPrice:  entryPx,
		StopLoss:    stopPx,
		Notional:    size * entryPx,
		TakeProfits: req.Signal.TakeProfits,
		Direction:   req.Signal.Direction,
	}, nil
}

func (d *Dispatcher) checkRisk(ctx context.Context, req Request, intent OrderIntent) (bool, string, error) {
	dailyPnl, err := d.store.TodayRealizedPnl(ctx, req.Coin)
	if err != nil {
		return false, "", fmt.Errorf("dispatch: daily pnl lookup: %w", err)
	}
	trades, err := d.store.TodayTradeCount(ctx, req.Coin)
	if err != nil {
		return false, "", fmt.Errorf("dispatch: trade count lookup: %w", err)
	}
	ok, reason := req.Guardrails.Evaluate(risk.Input{
		NotionalUsd:      intent.Notional,
		Leverage:         req.Leverage,
		OpenPositions:    d.book.Count(),
		TodayRealizedPnl: dailyPnl,
		TodayTradeCount:  trades,
		EntryPrice:       intent.EntryPrice,
		CurrentPrice:     req.CurrentPrice,
	})
	return ok, reason, nil
}

func (d *Dispatcher) persistSignal(ctx context.Context, req Request, alertID string, passed bool, reason string) (int64, error) {
	tps, _ := json.Marshal(req.Signal.TakeProfits)
	return d.store.InsertSignal(ctx, store.SignalRecord{
		AlertID:         alertID,
		Source:          req.Source,
		Coin:            req.Coin,
		Side:            req.Signal.Direction,
		EntryPrice:      req.Signal.EntryPrice,
		StopLoss:        req.Signal.StopLoss,
		TakeProfits:     string(tps),
		RiskCheckPassed: passed,
		RiskCheckReason: reason,
		CreatedAt:       d.clock().UTC(),
	})
}

func (d *Dispatcher) placeEntry(ctx context.Context, req Request, intent OrderIntent, isBuy bool, signalID int64) (*exchange.Fill, error) {
	callCtx, cancel := context.WithTimeout(ctx, placeTimeout)
	defer cancel()

	fill, err := d.provider.PlaceEntryOrder(callCtx, req.Coin, isBuy, intent.Size, req.CurrentPrice, req.SlippageBps)
	if err != nil {
		if _, insertErr := d.store.InsertOrder(ctx, store.OrderRecord{
			SignalID: signalID, Coin: req.Coin, Side: intent.Side,
			Size: intent.Size, Price: req.CurrentPrice,
			Type: store.OrderTypeLimit, Tag: store.TagEntry,
			Status: store.OrderStatusRejected, Mode: req.Mode,
		}); insertErr != nil {
			logx.WithContext(ctx).Errorf("dispatch: persist rejected entry: %v", insertErr)
		}
		return nil, fmt.Errorf("dispatch: entry order %s: %w", req.Coin, err)
	}

	status := store.OrderStatusFilled
	if fill.FilledSize <= 0 {
		status = store.OrderStatusCancelled
	}
	rec := store.OrderRecord{
		SignalID: signalID, Coin: req.Coin, Side: intent.Side,
		Size: fill.FilledSize, Price: fill.AvgPrice,
		Type: store.OrderTypeLimit, Tag: store.TagEntry,
		Status: status, Mode: req.Mode,
	}
	if fill.OrderID > 0 {
		oid := fill.OrderID
		rec.ExchangeOrderID = &oid
	}
	if status == store.OrderStatusFilled {
		now := d.clock().UTC()
		rec.FilledAt = &now
	}
	if _, err := d.store.InsertOrder(ctx, rec); err != nil {
		logx.WithContext(ctx).Errorf("dispatch: persist entry order: %v", err)
	}
	return fill, nil
}

func (d *Dispatcher) placeStop(ctx context.Context, req Request, intent OrderIntent, isBuy bool, size float64, signalID int64) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, placeTimeout)
	defer cancel()

	oid, err := d.provider.PlaceStopOrder(callCtx, req.Coin, isBuy, size, intent.StopLoss, true)
	if err != nil {
		return 0, err
	}
	rec := store.OrderRecord{
		SignalID: signalID, Coin: req.Coin, Side: oppositeSide(intent.Side),
		Size: size, Price: intent.StopLoss,
		Type: store.OrderTypeStop, Tag: store.TagStopLoss,
		Status: store.OrderStatusPending, Mode: req.Mode,
		ExchangeOrderID: &oid,
	}
	if _, err := d.store.InsertOrder(ctx, rec); err != nil {
		logx.WithContext(ctx).Errorf("dispatch: persist stop order: %v", err)
	}
	return oid, nil
}

// handleProtectionFailure rolls the entry back; if that also fails the
// position is hydrated with StopLoss == 0 so it stays visible.
func (d *Dispatcher) handleProtectionFailure(ctx context.Context, req Request, intent OrderIntent, fill *exchange.Fill, size float64, signalID int64, slErr error) (Result, error) {
	logger := logx.WithContext(ctx)
	logger.Errorf("dispatch: stop-loss placement failed for %s, rolling back entry: %v", req.Coin, slErr)

	callCtx, cancel := context.WithTimeout(ctx, placeTimeout)
	defer cancel()

	isBuy := intent.Side == "buy"
	rollback, rbErr := d.provider.PlaceMarketOrder(callCtx, req.Coin, !isBuy, size)
	if rbErr == nil && rollback.FilledSize > 0 {
		pnl := realizedPnl(intent.Direction, fill.AvgPrice, rollback.AvgPrice, rollback.FilledSize)
		now := d.clock().UTC()
		rec := store.OrderRecord{
			SignalID: signalID, Coin: req.Coin, Side: oppositeSide(intent.Side),
			Size: rollback.FilledSize, Price: rollback.AvgPrice,
			Type: store.OrderTypeMarket, Tag: store.TagClose,
			Status: store.OrderStatusFilled, Mode: req.Mode,
			RealizedPnl: &pnl, FilledAt: &now,
		}
		if rollback.OrderID > 0 {
			oid := rollback.OrderID
			rec.ExchangeOrderID = &oid
		}
		if _, err := d.store.InsertOrder(ctx, rec); err != nil {
			logger.Errorf("dispatch: persist rollback order: %v", err)
		}
		d.bus.Publish(events.TypePositionClosed, map[string]any{
			"coin": req.Coin, "reason": "stop_loss_placement_failed", "signal_id": signalID,
		})
		return Result{}, fmt.Errorf("dispatch: stop-loss failed, entry rolled back: %w", slErr)
	}

	if rbErr != nil {
		logger.Errorf("dispatch: rollback also failed for %s: %v", req.Coin, rbErr)
	}
	unprotected := &book.Position{
		Coin:         req.Coin,
		Direction:    intent.Direction,
		EntryPrice:   fill.AvgPrice,
		Size:         size,
		StopLoss:     0,
		Leverage:     req.Leverage,
		CurrentPrice: fill.AvgPrice,
		OpenedAt:     d.clock().UTC(),
		SignalID:     signalID,
	}
	d.book.Close(req.Coin)
	if err := d.book.Open(unprotected); err != nil {
		logger.Errorf("dispatch: hydrate unprotected position %s: %v", req.Coin, err)
	}
	d.bus.Publish(events.TypeProtectionFailure, map[string]any{
		"coin": req.Coin, "size": size, "entry_price": fill.AvgPrice, "signal_id": signalID,
	})
	d.notifyBestEffort("UNPROTECTED POSITION",
		fmt.Sprintf("%s %s %s @ %s has no stop-loss; manual intervention required",
			req.Coin, intent.Direction, formatFloat(size), formatFloat(fill.AvgPrice)))
	return Result{SignalID: signalID}, fmt.Errorf("%w: %s: %v", ErrCriticalProtectionFailure, req.Coin, slErr)
}

func (d *Dispatcher) placeTakeProfits(ctx context.Context, req Request, intent OrderIntent, isBuy bool, size float64, szDecimals int, signalID int64) {
	logger := logx.WithContext(ctx)
	for i, tp := range intent.TakeProfits {
		tpSize := exchange.TruncateSize(size*tp.Fraction, szDecimals)
		if tpSize <= 0 {
			continue
		}
		tag := store.TagTakeProfit(i + 1)
		callCtx, cancel := context.WithTimeout(ctx, placeTimeout)
		oid, err := d.provider.PlaceLimitOrder(callCtx, req.Coin, isBuy, tpSize, tp.Price, true)
		cancel()

		rec := store.OrderRecord{
			SignalID: signalID, Coin: req.Coin, Side: oppositeSide(intent.Side),
			Size: tpSize, Price: tp.Price,
			Type: store.OrderTypeLimit, Tag: tag, Mode: req.Mode,
		}
		if err != nil {
			// The stop still protects the position; log and move on.
			logger.Errorf("dispatch: take-profit %s %s failed: %v", req.Coin, tag, err)
			rec.Status = store.OrderStatusRejected
		} else {
			rec.Status = store.OrderStatusPending
			rec.ExchangeOrderID = &oid
		}
		if _, err := d.store.InsertOrder(ctx, rec); err != nil {
			logger.Errorf("dispatch: persist %s order: %v", tag, err)
		}
	}
}

func (d *Dispatcher) notifyOpened(req Request, intent OrderIntent, fill *exchange.Fill, size float64) {
	d.notifyBestEffort("Position opened",
		fmt.Sprintf("%s %s %s @ %s, SL %s",
			req.Coin, intent.Direction, formatFloat(size), formatFloat(fill.AvgPrice), formatFloat(intent.StopLoss)))
}

func (d *Dispatcher) notifyBestEffort(subject, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), placeTimeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, subject, message); err != nil {
		logx.Errorf("dispatch: notify: %v", err)
	}
}

func oppositeSide(side string) string {
	if side == "buy" {
		return "sell"
	}
	return "buy"
}

func realizedPnl(direction string, entryPx, exitPx, size float64) float64 {
	diff := exitPx - entryPx
	if direction == "short" {
		diff = -diff
	}
	return diff * size
}

func roundPrice(px float64) float64 {
	v, err := strconv.ParseFloat(exchange.RoundPriceToSigFigs(px, 5), 64)
	if err != nil {
		return px
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
