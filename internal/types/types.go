// Package types holds the request/response shapes of the HTTP surface.
package types

// Alert is the webhook payload (also accepted on POST /signal minus the
// secret). Numeric timestamps are epoch seconds.
type Alert struct {
	Secret    string `json:"secret,omitempty"`
	AlertID   string `json:"alert_id"`
	EventType string `json:"event_type"`
	Asset     string `json:"asset"`
	Side      string `json:"side"` // LONG | SHORT

	Entry  float64  `json:"entry"`
	Sl     float64  `json:"sl"`
	Tp1    *float64 `json:"tp1,omitempty"`
	Tp2    *float64 `json:"tp2,omitempty"`
	Tp1Pct *float64 `json:"tp1_pct,omitempty"` // 0..100, default 50

	Qty          float64  `json:"qty"`
	Leverage     *int     `json:"leverage,omitempty"`
	RiskUsd      *float64 `json:"risk_usd,omitempty"`
	NotionalUsdc *float64 `json:"notional_usdc,omitempty"`
	MarginUsdc   *float64 `json:"margin_usdc,omitempty"`

	SignalTs int64 `json:"signal_ts"`
	BarTs    int64 `json:"bar_ts"`
}

// WebhookResp is the webhook and /signal response body.
type WebhookResp struct {
	Status   string `json:"status"` // sent | duplicate | expired | rejected | send_failed
	Reason   string `json:"reason,omitempty"`
	SignalID int64  `json:"signal_id,omitempty"`
}

// CloseResp reports a market close of one position.
type CloseResp struct {
	Status      string  `json:"status"`
	Coin        string  `json:"coin"`
	Size        float64 `json:"size"`
	ExitPrice   float64 `json:"exit_price"`
	RealizedPnl float64 `json:"realized_pnl"`
}

// CancelReq is the path/query binding for POST /cancel/:oid.
type CancelReq struct {
	Oid  int64  `path:"oid"`
	Coin string `form:"coin"`
}

// CancelResp acknowledges a venue cancel.
type CancelResp struct {
	Status string `json:"status"`
	Oid    int64  `json:"oid"`
}

// AutoTradingReq toggles the per-coin auto-trading flag; empty coin
// means every configured instrument.
type AutoTradingReq struct {
	Coin    string `json:"coin,optional"`
	Enabled bool   `json:"enabled"`
}

// AutoTradingResp returns the resulting flags.
type AutoTradingResp struct {
	Flags map[string]bool `json:"flags"`
}

// HealthResp is the GET /health body.
type HealthResp struct {
	Status           string           `json:"status"`
	UptimeSec        int64            `json:"uptime_sec"`
	LastCandleAgeSec map[string]int64 `json:"last_candle_age_sec"`
	ReconcileAgeSec  int64            `json:"reconcile_age_sec"`
	AutoTrading      map[string]bool  `json:"auto_trading"`
	OpenPositions    int              `json:"open_positions"`
}

// OrdersReq bounds GET /orders.
type OrdersReq struct {
	Limit int `form:"limit,default=50"`
}

// EquityReq bounds GET /equity.
type EquityReq struct {
	Limit int `form:"limit,default=100"`
}

// CandlesReq is the GET /candles query binding.
type CandlesReq struct {
	Coin     string `form:"coin"`
	Interval string `form:"interval,default=1h"`
	Limit    int    `form:"limit,default=200"`
	Before   int64  `form:"before,optional"` // epoch ms; keep bars with T < Before
}
