package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"perpcore/pkg/exchange"
)

const (
	tifIOC = "Ioc"
	tifGTC = "Gtc"

	// marketSlippageBps is the price aggression applied to market orders so
	// they cross the book while still passing venue price-band checks.
	marketSlippageBps = 500
)

// SetLeverage applies leverage settings for coin. The venue treats repeated
// updates with identical values as no-ops, so callers re-send it freely.
func (c *Client) SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error {
	if leverage <= 0 {
		return exchange.NewError(exchange.KindInvalidRequest, "setLeverage", coin, "leverage must be positive")
	}
	idx, err := c.assetIndexFor(ctx, coin)
	if err != nil {
		return err
	}
	action := Action{
		Type:     ActionTypeUpdateLeverage,
		Asset:    &idx,
		IsCross:  &isCross,
		Leverage: leverage,
	}
	var resp exchangeResponse
	if err := c.doExchangeRequest(ctx, "setLeverage", action, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		msg := venueRejection(resp.Response)
		return exchange.NewError(classifyVenueMessage(msg), "setLeverage", coin, msg)
	}
	return nil
}

// PlaceEntryOrder submits a limit IOC at the reference price adjusted by
// slippageBps (buys pay up, sells give way). The venue cancels any unfilled
// remainder, so the order can never rest.
func (c *Client) PlaceEntryOrder(ctx context.Context, coin string, isBuy bool, size, referencePx float64, slippageBps int) (*exchange.Fill, error) {
	if referencePx <= 0 {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "placeEntryOrder", coin, "reference price must be positive")
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	px := referencePx * (1 + float64(slippageBps)/10_000)
	if !isBuy {
		px = referencePx * (1 - float64(slippageBps)/10_000)
	}
	payload, err := c.iocPayload(ctx, coin, isBuy, size, px)
	if err != nil {
		return nil, err
	}
	entry, err := c.submitOrder(ctx, "placeEntryOrder", coin, payload)
	if err != nil {
		return nil, err
	}
	return c.fillFromStatus(ctx, "placeEntryOrder", coin, entry)
}

// PlaceMarketOrder submits an aggressive IOC priced off the current mid.
// Used by the dispatch rollback path and by operator closes.
func (c *Client) PlaceMarketOrder(ctx context.Context, coin string, isBuy bool, size float64) (*exchange.Fill, error) {
	mid, err := c.MidPrice(ctx, coin)
	if err != nil {
		return nil, err
	}
	px := mid * (1 + float64(marketSlippageBps)/10_000)
	if !isBuy {
		px = mid * (1 - float64(marketSlippageBps)/10_000)
	}
	payload, err := c.iocPayload(ctx, coin, isBuy, size, px)
	if err != nil {
		return nil, err
	}
	entry, err := c.submitOrder(ctx, "placeMarketOrder", coin, payload)
	if err != nil {
		return nil, err
	}
	return c.fillFromStatus(ctx, "placeMarketOrder", coin, entry)
}

// PlaceStopOrder rests a stop-market trigger order at triggerPx and returns
// the venue order id of the resting trigger.
func (c *Client) PlaceStopOrder(ctx context.Context, coin string, isBuy bool, size, triggerPx float64, reduceOnly bool) (int64, error) {
	if triggerPx <= 0 {
		return 0, exchange.NewError(exchange.KindInvalidRequest, "placeStopOrder", coin, "trigger price must be positive")
	}
	idx, err := c.assetIndexFor(ctx, coin)
	if err != nil {
		return 0, err
	}
	sz, err := c.wireSize(ctx, coin, size, reduceOnly)
	if err != nil {
		return 0, &exchange.Error{Kind: exchange.KindInvalidRequest, Op: "placeStopOrder", Coin: coin, Err: err}
	}
	pxStr := exchange.RoundPriceToSigFigs(triggerPx, 5)
	payload := orderPayload{
		Asset:      idx,
		IsBuy:      isBuy,
		LimitPx:    pxStr,
		Sz:         sz,
		ReduceOnly: reduceOnly,
		OrderType: orderTypePayload{
			Trigger: &triggerOrderPayload{
				IsMarket:  true,
				TriggerPx: pxStr,
				Tpsl:      "sl",
			},
		},
	}
	entry, err := c.submitOrder(ctx, "placeStopOrder", coin, payload)
	if err != nil {
		return 0, err
	}
	return oidFromStatus("placeStopOrder", coin, entry)
}

// PlaceLimitOrder rests a GTC limit order. Take-profit legs use this with
// reduceOnly set.
func (c *Client) PlaceLimitOrder(ctx context.Context, coin string, isBuy bool, size, limitPx float64, reduceOnly bool) (int64, error) {
	if limitPx <= 0 {
		return 0, exchange.NewError(exchange.KindInvalidRequest, "placeLimitOrder", coin, "limit price must be positive")
	}
	idx, err := c.assetIndexFor(ctx, coin)
	if err != nil {
		return 0, err
	}
	sz, err := c.wireSize(ctx, coin, size, reduceOnly)
	if err != nil {
		return 0, &exchange.Error{Kind: exchange.KindInvalidRequest, Op: "placeLimitOrder", Coin: coin, Err: err}
	}
	payload := orderPayload{
		Asset:      idx,
		IsBuy:      isBuy,
		LimitPx:    exchange.RoundPriceToSigFigs(limitPx, 5),
		Sz:         sz,
		ReduceOnly: reduceOnly,
		OrderType: orderTypePayload{
			Limit: &limitOrderPayload{TIF: tifGTC},
		},
	}
	entry, err := c.submitOrder(ctx, "placeLimitOrder", coin, payload)
	if err != nil {
		return 0, err
	}
	return oidFromStatus("placeLimitOrder", coin, entry)
}

// CancelOrder cancels a resting order by venue order id.
func (c *Client) CancelOrder(ctx context.Context, coin string, oid int64) error {
	idx, err := c.assetIndexFor(ctx, coin)
	if err != nil {
		return err
	}
	action := Action{
		Type:    ActionTypeCancel,
		Cancels: []cancelPayload{{Asset: idx, Oid: oid}},
	}
	var resp exchangeResponse
	if err := c.doExchangeRequest(ctx, "cancelOrder", action, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		msg := venueRejection(resp.Response)
		return exchange.NewError(classifyVenueMessage(msg), "cancelOrder", coin, msg)
	}
	var body cancelResponseBody
	if err := json.Unmarshal(resp.Response, &body); err != nil {
		return exchange.WrapError(exchange.KindInvalidRequest, "cancelOrder.decode", err)
	}
	for _, raw := range body.Data.Statuses {
		var ok string
		if err := json.Unmarshal(raw, &ok); err == nil && strings.EqualFold(ok, "success") {
			continue
		}
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &failure); err == nil && failure.Error != "" {
			return exchange.NewError(classifyVenueMessage(failure.Error), "cancelOrder", coin, failure.Error)
		}
		return exchange.NewError(exchange.KindInvalidRequest, "cancelOrder", coin, "unexpected cancel status")
	}
	return nil
}

// iocPayload builds an IOC limit payload with the size truncated to the
// instrument's precision and the price rounded to the venue's 5-sig-fig rule.
func (c *Client) iocPayload(ctx context.Context, coin string, isBuy bool, size, px float64) (orderPayload, error) {
	idx, err := c.assetIndexFor(ctx, coin)
	if err != nil {
		return orderPayload{}, err
	}
	sz, err := c.wireSize(ctx, coin, size, false)
	if err != nil {
		return orderPayload{}, &exchange.Error{Kind: exchange.KindInvalidRequest, Op: "placeOrder", Coin: coin, Err: err}
	}
	return orderPayload{
		Asset:   idx,
		IsBuy:   isBuy,
		LimitPx: exchange.RoundPriceToSigFigs(px, 5),
		Sz:      sz,
		OrderType: orderTypePayload{
			Limit: &limitOrderPayload{TIF: tifIOC},
		},
	}, nil
}

// wireSize renders the size string transmitted to the venue. Reduce-only
// sizes bypass precision truncation so the venue can flatten the full
// remaining position; everything else is truncated to szDecimals.
func (c *Client) wireSize(ctx context.Context, coin string, size float64, reduceOnly bool) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("size must be positive")
	}
	if reduceOnly {
		return strconv.FormatFloat(size, 'f', -1, 64), nil
	}
	sz := exchange.FormatSize(size, c.SzDecimals(ctx, coin))
	if sz == "0" {
		return "", fmt.Errorf("size %v truncates to zero", size)
	}
	return sz, nil
}

// submitOrder sends a single-order action and returns the venue's status
// entry for it.
func (c *Client) submitOrder(ctx context.Context, op, coin string, payload orderPayload) (*orderStatusEntry, error) {
	action := Action{
		Type:     ActionTypeOrder,
		Grouping: "na",
		Orders:   []orderPayload{payload},
	}
	var resp exchangeResponse
	if err := c.doExchangeRequest(ctx, op, action, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		msg := venueRejection(resp.Response)
		return nil, exchange.NewError(classifyVenueMessage(msg), op, coin, msg)
	}
	var body orderResponseBody
	if err := json.Unmarshal(resp.Response, &body); err != nil {
		return nil, exchange.WrapError(exchange.KindInvalidRequest, op+".decode", err)
	}
	if len(body.Data.Statuses) == 0 {
		return nil, exchange.NewError(exchange.KindInvalidRequest, op, coin, "empty order status")
	}
	entry := body.Data.Statuses[0]
	if entry.Error != "" {
		return nil, exchange.NewError(classifyVenueMessage(entry.Error), op, coin, entry.Error)
	}
	return &entry, nil
}

// fillFromStatus converts an IOC status entry into a Fill. An IOC should
// never rest; if the venue reports one resting anyway it is cancelled and
// reported as unfilled.
func (c *Client) fillFromStatus(ctx context.Context, op, coin string, entry *orderStatusEntry) (*exchange.Fill, error) {
	if entry.Filled != nil {
		sz, ok := parseVenueFloat(entry.Filled.TotalSz)
		if !ok {
			return nil, exchange.NewError(exchange.KindInvalidRequest, op, coin, fmt.Sprintf("unparseable fill size %q", entry.Filled.TotalSz))
		}
		px, ok := parseVenueFloat(entry.Filled.AvgPx)
		if !ok {
			return nil, exchange.NewError(exchange.KindInvalidRequest, op, coin, fmt.Sprintf("unparseable fill price %q", entry.Filled.AvgPx))
		}
		return &exchange.Fill{OrderID: entry.Filled.Oid, FilledSize: sz, AvgPrice: px}, nil
	}
	if entry.Resting != nil {
		c.logf("hyperliquid: %s %s rested oid=%d, cancelling", op, coin, entry.Resting.Oid)
		if err := c.CancelOrder(ctx, coin, entry.Resting.Oid); err != nil {
			c.logf("hyperliquid: cancel resting %s oid=%d: %v", coin, entry.Resting.Oid, err)
		}
		return &exchange.Fill{OrderID: entry.Resting.Oid}, nil
	}
	return &exchange.Fill{}, nil
}

func oidFromStatus(op, coin string, entry *orderStatusEntry) (int64, error) {
	if entry.Resting != nil {
		return entry.Resting.Oid, nil
	}
	if entry.Filled != nil {
		return entry.Filled.Oid, nil
	}
	return 0, exchange.NewError(exchange.KindInvalidRequest, op, coin, "no order id in response")
}

// venueRejection extracts the human-readable message from an exchange
// rejection. The response field is an object on success and usually a bare
// string on failure.
func venueRejection(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "request rejected"
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
		return msg
	}
	return string(raw)
}
