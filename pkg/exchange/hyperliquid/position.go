package hyperliquid

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"perpcore/pkg/exchange"
)

// Positions returns open positions from the clearinghouse state, sanitized
// per the provider contract.
func (c *Client) Positions(ctx context.Context) ([]exchange.Position, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}
	return c.sanitizePositions(state.AssetPositions), nil
}

// AccountState returns the perps clearinghouse summary with sanitized
// positions.
func (c *Client) AccountState(ctx context.Context) (*exchange.AccountState, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}
	summary := state.MarginSummary
	if strings.TrimSpace(summary.AccountValue) == "" {
		summary = state.CrossMarginSummary
	}
	return &exchange.AccountState{
		AccountValue:    floatOrZero(summary.AccountValue),
		TotalMarginUsed: floatOrZero(summary.TotalMarginUsed),
		TotalNtlPos:     floatOrZero(summary.TotalNtlPos),
		Withdrawable:    floatOrZero(state.Withdrawable),
		Positions:       c.sanitizePositions(state.AssetPositions),
	}, nil
}

func (c *Client) clearinghouse(ctx context.Context) (*clearinghouseState, error) {
	addr := c.infoAddress()
	if addr == "" {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "clearinghouseState", "", "wallet address unavailable")
	}
	var state clearinghouseState
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "clearinghouseState", User: addr}, &state); err != nil {
		return nil, err
	}
	if strings.TrimSpace(state.MarginSummary.AccountValue) == "" &&
		strings.TrimSpace(state.CrossMarginSummary.AccountValue) == "" {
		return nil, exchange.NewError(exchange.KindTransient, "clearinghouseState", "", "response missing margin summary")
	}
	return &state, nil
}

// sanitizePositions drops venue rows the core must never see: missing or
// zero sizes, non-positive entry prices, non-finite numbers. Coin symbols
// are canonicalized and malformed leverage falls back to 1.
func (c *Client) sanitizePositions(rows []assetPosition) []exchange.Position {
	out := make([]exchange.Position, 0, len(rows))
	for _, row := range rows {
		pos, ok := c.sanitizePosition(row.Position)
		if !ok {
			continue
		}
		out = append(out, pos)
	}
	return out
}

func (c *Client) sanitizePosition(raw venuePosition) (exchange.Position, bool) {
	szi, ok := parseVenueFloat(raw.Szi)
	if !ok || szi == 0 {
		return exchange.Position{}, false
	}
	entryPx, ok := parseVenueFloat(raw.EntryPx)
	if !ok || entryPx <= 0 {
		c.logf("hyperliquid: dropping position %s with entryPx %q", raw.Coin, raw.EntryPx)
		return exchange.Position{}, false
	}
	coin := canonicalCoin(raw.Coin)
	if coin == "" {
		return exchange.Position{}, false
	}
	leverage, isCross := parseLeverage(raw.Leverage)
	return exchange.Position{
		Coin:           coin,
		Szi:            szi,
		EntryPx:        entryPx,
		PositionValue:  floatOrZero(raw.PositionValue),
		UnrealizedPnl:  floatOrZero(raw.UnrealizedPnl),
		ReturnOnEquity: floatOrZero(raw.ReturnOnEquity),
		Leverage:       leverage,
		IsCross:        isCross,
		LiquidationPx:  floatOrZero(raw.LiquidationPx),
		MarginUsed:     floatOrZero(raw.MarginUsed),
	}, true
}

// parseLeverage tolerates both numeric and string-encoded leverage values;
// anything unparseable falls back to 1.
func parseLeverage(raw venueLeverage) (int, bool) {
	isCross := strings.EqualFold(strings.TrimSpace(raw.Type), "cross")
	if len(raw.Value) == 0 {
		return 1, isCross
	}
	var n float64
	if err := json.Unmarshal(raw.Value, &n); err == nil && n >= 1 {
		return int(n), isCross
	}
	var s string
	if err := json.Unmarshal(raw.Value, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && v >= 1 {
			return int(v), isCross
		}
	}
	return 1, isCross
}
