package hyperliquid

import (
	"context"

	"perpcore/pkg/exchange"
)

// AccountEquity returns total trading equity: the perps account value plus
// free spot collateral. The held portion of each spot balance already backs
// the perps account value, so only max(0, total-hold) is added.
func (c *Client) AccountEquity(ctx context.Context) (float64, error) {
	state, err := c.AccountState(ctx)
	if err != nil {
		return 0, err
	}
	equity := state.AccountValue

	var spot spotClearinghouseState
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "spotClearinghouseState", User: c.infoAddress()}, &spot); err != nil {
		// Perp equity alone is still a usable answer; spot collateral only
		// widens it.
		c.logf("hyperliquid: spotClearinghouseState unavailable: %v", err)
		return equity, nil
	}
	for _, entry := range spot.Balances {
		bal := exchange.SpotBalance{
			Coin:  entry.Coin,
			Total: floatOrZero(entry.Total),
			Hold:  floatOrZero(entry.Hold),
		}
		equity += bal.Free()
	}
	return equity, nil
}

// OpenOrders returns currently resting orders for the bound wallet.
func (c *Client) OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	addr := c.infoAddress()
	if addr == "" {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "frontendOpenOrders", "", "wallet address unavailable")
	}
	var rows []frontendOpenOrder
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "frontendOpenOrders", User: addr}, &rows); err != nil {
		return nil, err
	}
	out := make([]exchange.OpenOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, exchange.OpenOrder{
			Coin:       canonicalCoin(row.Coin),
			OrderID:    row.Oid,
			Side:       sideFromVenue(row.Side),
			LimitPx:    floatOrZero(row.LimitPx),
			Size:       floatOrZero(row.Sz),
			OrigSize:   floatOrZero(row.OrigSz),
			Timestamp:  row.Timestamp,
			IsTrigger:  row.IsTrigger,
			TriggerPx:  floatOrZero(row.TriggerPx),
			ReduceOnly: row.ReduceOnly,
		})
	}
	return out, nil
}

// HistoricalOrders returns recent orders with their lifecycle statuses.
// Orders the venue reports without a status default to open.
func (c *Client) HistoricalOrders(ctx context.Context) ([]exchange.OrderStatus, error) {
	addr := c.infoAddress()
	if addr == "" {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "historicalOrders", "", "wallet address unavailable")
	}
	var rows []historicalOrder
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "historicalOrders", User: addr}, &rows); err != nil {
		return nil, err
	}
	out := make([]exchange.OrderStatus, 0, len(rows))
	for _, row := range rows {
		out = append(out, orderStatusFromVenue(row.Order, row.Status, row.StatusTimestamp))
	}
	return out, nil
}

// OrderStatus looks up a single order. Returns (nil, nil) when the venue
// does not know the order id.
func (c *Client) OrderStatus(ctx context.Context, oid int64) (*exchange.OrderStatus, error) {
	addr := c.infoAddress()
	if addr == "" {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "orderStatus", "", "wallet address unavailable")
	}
	var resp orderStatusResponse
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "orderStatus", User: addr, Oid: oid}, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, nil
	}
	status := orderStatusFromVenue(resp.Order.Order, resp.Order.Status, resp.Order.StatusTimestamp)
	return &status, nil
}

func orderStatusFromVenue(info venueOrderInfo, status string, statusTS int64) exchange.OrderStatus {
	if status == "" {
		status = exchange.StatusOpen
	}
	ts := statusTS
	if ts == 0 {
		ts = info.Timestamp
	}
	return exchange.OrderStatus{
		OrderID:   info.Oid,
		Coin:      canonicalCoin(info.Coin),
		Side:      sideFromVenue(info.Side),
		Status:    status,
		LimitPx:   floatOrZero(info.LimitPx),
		Size:      floatOrZero(info.Sz),
		OrigSize:  floatOrZero(info.OrigSz),
		Timestamp: ts,
	}
}
