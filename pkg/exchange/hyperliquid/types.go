package hyperliquid

import (
	"encoding/json"
	"fmt"
)

// ActionType enumerates supported exchange actions.
type ActionType string

const (
	// ActionTypeOrder submits one or more orders.
	ActionTypeOrder ActionType = "order"
	// ActionTypeCancel cancels specific orders by oid.
	ActionTypeCancel ActionType = "cancel"
	// ActionTypeUpdateLeverage adjusts leverage settings.
	ActionTypeUpdateLeverage ActionType = "updateLeverage"
)

// Action encodes the payload sent to the exchange endpoint. Field order
// matters: the msgpack encoding of this struct is hashed into the signed
// connection id, so it must match the venue's canonical ordering.
type Action struct {
	Type     ActionType      `json:"type" msgpack:"type"`
	Orders   []orderPayload  `json:"orders,omitempty" msgpack:"orders,omitempty"`
	Cancels  []cancelPayload `json:"cancels,omitempty" msgpack:"cancels,omitempty"`
	Grouping string          `json:"grouping,omitempty" msgpack:"grouping,omitempty"`
	Asset    *int            `json:"asset,omitempty" msgpack:"asset,omitempty"`
	IsCross  *bool           `json:"isCross,omitempty" msgpack:"isCross,omitempty"`
	Leverage int             `json:"leverage,omitempty" msgpack:"leverage,omitempty"`
}

type orderPayload struct {
	Asset      int              `json:"a" msgpack:"a"`
	IsBuy      bool             `json:"b" msgpack:"b"`
	LimitPx    string           `json:"p" msgpack:"p"`
	Sz         string           `json:"s" msgpack:"s"`
	ReduceOnly bool             `json:"r" msgpack:"r"`
	OrderType  orderTypePayload `json:"t" msgpack:"t"`
	Cloid      string           `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderTypePayload struct {
	Limit   *limitOrderPayload   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Trigger *triggerOrderPayload `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
}

type limitOrderPayload struct {
	TIF string `json:"tif" msgpack:"tif"`
}

type triggerOrderPayload struct {
	IsMarket  bool   `json:"isMarket" msgpack:"isMarket"`
	TriggerPx string `json:"triggerPx" msgpack:"triggerPx"`
	Tpsl      string `json:"tpsl" msgpack:"tpsl"`
}

type cancelPayload struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

// ExchangeRequest is the signed request envelope for exchange actions.
type ExchangeRequest struct {
	Action       Action    `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress string    `json:"vaultAddress,omitempty"`
}

// Signature represents an ECDSA signature in the venue's r/s/v form.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// InfoRequest targets read-only endpoints that do not require signatures.
type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Oid  int64  `json:"oid,omitempty"`
}

// exchangeResponse is the envelope returned by the exchange endpoint.
// Response is polymorphic: an object on success, a bare string on some
// rejections.
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type orderResponseBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []orderStatusEntry `json:"statuses"`
	} `json:"data"`
}

type orderStatusEntry struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// cancelResponseBody statuses are either the string "success" or an
// object {"error": "..."}.
type cancelResponseBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

// MetaAndAssetCtxsResponse includes universe meta plus per-asset context.
type MetaAndAssetCtxsResponse struct {
	Universe  []AssetUniverseEntry `json:"universe"`
	AssetCtxs []AssetCtx           `json:"assetCtxs"`
}

// UnmarshalJSON handles both the documented array payload and the legacy
// object form.
func (m *MetaAndAssetCtxsResponse) UnmarshalJSON(data []byte) error {
	type alias MetaAndAssetCtxsResponse
	var object alias
	if err := json.Unmarshal(data, &object); err == nil && (len(object.Universe) > 0 || len(object.AssetCtxs) > 0) {
		m.Universe = object.Universe
		m.AssetCtxs = object.AssetCtxs
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs decode: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs empty payload")
	}
	var universeHolder struct {
		Universe []AssetUniverseEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &universeHolder); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs universe: %w", err)
	}
	m.Universe = universeHolder.Universe

	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &m.AssetCtxs); err != nil {
			return fmt.Errorf("hyperliquid: metaAndAssetCtxs assetCtxs: %w", err)
		}
	}
	return nil
}

// AssetUniverseEntry describes asset listing info from the meta endpoint.
type AssetUniverseEntry struct {
	Name         string  `json:"name"`
	SzDecimals   int     `json:"szDecimals"`
	MaxLeverage  float64 `json:"maxLeverage"`
	OnlyIsolated bool    `json:"onlyIsolated"`
	IsDelisted   bool    `json:"isDelisted"`
}

// AssetCtx provides contextual info such as funding and mark price.
type AssetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	PrevDayPx    string `json:"prevDayPx"`
	OraclePx     string `json:"oraclePx"`
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
}

// AssetInfo aggregates cached per-instrument metadata.
type AssetInfo struct {
	Name       string
	SzDecimals int
	Index      int
	MarkPx     string
	MidPx      string
	OraclePx   string
}

// clearinghouseState wire types. All numerics are string-encoded decimals.
type clearinghouseState struct {
	MarginSummary      marginSummary   `json:"marginSummary"`
	CrossMarginSummary marginSummary   `json:"crossMarginSummary"`
	Withdrawable       string          `json:"withdrawable"`
	AssetPositions     []assetPosition `json:"assetPositions"`
	Time               int64           `json:"time"`
}

type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUsd     string `json:"totalRawUsd"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

type assetPosition struct {
	Type     string       `json:"type"`
	Position venuePosition `json:"position"`
}

type venuePosition struct {
	Coin           string        `json:"coin"`
	Szi            string        `json:"szi"`
	EntryPx        string        `json:"entryPx"`
	PositionValue  string        `json:"positionValue"`
	UnrealizedPnl  string        `json:"unrealizedPnl"`
	ReturnOnEquity string        `json:"returnOnEquity"`
	LiquidationPx  string        `json:"liquidationPx"`
	MarginUsed     string        `json:"marginUsed"`
	Leverage       venueLeverage `json:"leverage"`
}

type venueLeverage struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// spotClearinghouseState wire types.
type spotClearinghouseState struct {
	Balances []spotBalanceEntry `json:"balances"`
}

type spotBalanceEntry struct {
	Coin  string `json:"coin"`
	Token int    `json:"token"`
	Total string `json:"total"`
	Hold  string `json:"hold"`
}

// frontendOpenOrder is one row of the frontendOpenOrders response array.
type frontendOpenOrder struct {
	Coin       string `json:"coin"`
	Side       string `json:"side"` // "B" bid / "A" ask
	LimitPx    string `json:"limitPx"`
	Sz         string `json:"sz"`
	OrigSz     string `json:"origSz"`
	Oid        int64  `json:"oid"`
	Timestamp  int64  `json:"timestamp"`
	IsTrigger  bool   `json:"isTrigger"`
	TriggerPx  string `json:"triggerPx"`
	ReduceOnly bool   `json:"reduceOnly"`
}

// historicalOrder is one row of the historicalOrders response array.
type historicalOrder struct {
	Order           venueOrderInfo `json:"order"`
	Status          string         `json:"status"`
	StatusTimestamp int64          `json:"statusTimestamp"`
}

type venueOrderInfo struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"`
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"`
	OrigSz    string `json:"origSz"`
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
}

// orderStatusResponse wraps the orderStatus lookup. Status is "order" when
// found, "unknownOid" otherwise.
type orderStatusResponse struct {
	Status string `json:"status"`
	Order  *struct {
		Order           venueOrderInfo `json:"order"`
		Status          string         `json:"status"`
		StatusTimestamp int64          `json:"statusTimestamp"`
	} `json:"order"`
}
