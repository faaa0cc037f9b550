package hyperliquid

import (
	"context"
	"math"
	"strconv"
	"strings"

	"perpcore/pkg/exchange"
)

// defaultSzDecimals is used when asset metadata is unavailable.
const defaultSzDecimals = 5

// Connect verifies connectivity by warming the asset directory.
func (c *Client) Connect(ctx context.Context) error {
	return c.refreshAssetDirectory(ctx)
}

// SzDecimals returns the size precision for coin, falling back to 5 when
// metadata cannot be resolved.
func (c *Client) SzDecimals(ctx context.Context, coin string) int {
	info, err := c.assetInfoFor(ctx, coin)
	if err != nil {
		c.logf("hyperliquid: szDecimals %s unavailable, defaulting to %d: %v", coin, defaultSzDecimals, err)
		return defaultSzDecimals
	}
	return info.SzDecimals
}

// MidPrice returns the current mid price for coin, falling back to mark
// and oracle prices when the venue omits the mid.
func (c *Client) MidPrice(ctx context.Context, coin string) (float64, error) {
	var mids map[string]string
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "allMids"}, &mids); err == nil {
		if raw, ok := mids[strings.TrimSpace(coin)]; ok {
			if px, ok := parseVenueFloat(raw); ok && px > 0 {
				return px, nil
			}
		}
	}

	info, err := c.assetInfoFor(ctx, coin)
	if err != nil {
		return 0, err
	}
	for _, raw := range []string{info.MidPx, info.MarkPx, info.OraclePx} {
		if px, ok := parseVenueFloat(raw); ok && px > 0 {
			return px, nil
		}
	}
	return 0, exchange.NewError(exchange.KindTransient, "midPrice", coin, "no reference price available")
}

// assetIndexFor resolves the venue asset index for coin.
func (c *Client) assetIndexFor(ctx context.Context, coin string) (int, error) {
	key := canonicalCoin(coin)
	if key == "" {
		return 0, exchange.NewError(exchange.KindInvalidRequest, "assetIndex", coin, "empty coin symbol")
	}
	if idx, ok := c.cachedAssetIndex(key); ok {
		return idx, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return 0, err
	}
	if idx, ok := c.cachedAssetIndex(key); ok {
		return idx, nil
	}
	return 0, exchange.NewError(exchange.KindInvalidRequest, "assetIndex", coin, "unknown asset")
}

func (c *Client) assetInfoFor(ctx context.Context, coin string) (*AssetInfo, error) {
	key := canonicalCoin(coin)
	if key == "" {
		return nil, exchange.NewError(exchange.KindInvalidRequest, "assetInfo", coin, "empty coin symbol")
	}
	if info, ok := c.cachedAssetInfo(key); ok && !c.assetCacheExpired() {
		return &info, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		if info, ok := c.cachedAssetInfo(key); ok {
			return &info, nil
		}
		return nil, err
	}
	if info, ok := c.cachedAssetInfo(key); ok {
		return &info, nil
	}
	return nil, exchange.NewError(exchange.KindInvalidRequest, "assetInfo", coin, "unknown asset")
}

func (c *Client) cachedAssetIndex(key string) (int, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	idx, ok := c.assetIndex[key]
	return idx, ok
}

func (c *Client) cachedAssetInfo(key string) (AssetInfo, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	info, ok := c.assetInfo[key]
	return info, ok
}

func (c *Client) assetCacheExpired() bool {
	if c.assetTTL <= 0 {
		return false
	}
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	return c.clock().Sub(c.assetLastRef) > c.assetTTL
}

func (c *Client) refreshAssetDirectory(ctx context.Context) error {
	var resp MetaAndAssetCtxsResponse
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return err
	}
	if len(resp.Universe) == 0 {
		return exchange.NewError(exchange.KindTransient, "metaAndAssetCtxs", "", "response contained no assets")
	}

	index := make(map[string]int, len(resp.Universe))
	info := make(map[string]AssetInfo, len(resp.Universe))
	for idx, entry := range resp.Universe {
		key := canonicalCoin(entry.Name)
		if key == "" {
			continue
		}
		var assetCtx AssetCtx
		if idx < len(resp.AssetCtxs) {
			assetCtx = resp.AssetCtxs[idx]
		}
		info[key] = AssetInfo{
			Name:       entry.Name,
			SzDecimals: entry.SzDecimals,
			Index:      idx,
			MarkPx:     assetCtx.MarkPx,
			MidPx:      assetCtx.MidPx,
			OraclePx:   assetCtx.OraclePx,
		}
		index[key] = idx
	}

	c.assetMu.Lock()
	c.assetIndex = index
	c.assetInfo = info
	c.assetLastRef = c.clock()
	c.assetMu.Unlock()
	return nil
}

// canonicalCoin normalizes a venue symbol to the core's canonical form:
// trimmed, uppercased, and with venue suffixes (perp markers, quote pairs)
// stripped.
func canonicalCoin(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "/:"); i >= 0 {
		s = s[:i]
	}
	for _, suffix := range []string{"-PERP", "PERP-", "-USD", "-USDC"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return s
}

// parseVenueFloat parses a string-encoded decimal, rejecting non-finite
// values. The bool result reports whether the value is usable.
func parseVenueFloat(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// floatOrZero is parseVenueFloat with a silent zero fallback for fields
// where absence is acceptable.
func floatOrZero(raw string) float64 {
	v, ok := parseVenueFloat(raw)
	if !ok {
		return 0
	}
	return v
}

// sideFromVenue maps the venue's B/A side notation onto buy/sell.
func sideFromVenue(side string) string {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "B":
		return "buy"
	case "A":
		return "sell"
	default:
		return strings.ToLower(strings.TrimSpace(side))
	}
}
