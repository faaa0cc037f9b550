package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/rest/pathvar"

	"perpcore/internal/config"
	"perpcore/internal/svc"
	"perpcore/internal/types"
	"perpcore/pkg/book"
	"perpcore/pkg/exchange/sim"
	"perpcore/pkg/market"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
)

func newTestCtx(t *testing.T) *svc.ServiceContext {
	t.Helper()
	c := config.Config{
		Env:                "test",
		Store:              config.StoreConf{Backend: "file", Dir: t.TempDir()},
		LocksDir:           t.TempDir(),
		CandleCacheSeconds: 30,
	}
	c.Webhook = config.WebhookConf{
		Secret: "hush", RateLimitPerMin: 600, Burst: 100,
		DedupTTLMinutes: 20, MaxAgeMinutes: 20,
	}
	c.Reconcile = config.ReconcileConf{IntervalSec: 10, FetchTimeoutSec: 15}
	c.Instruments.Value = &config.InstrumentsFile{Instruments: []config.Instrument{{
		Coin:        "BTC",
		Interval:    "1h",
		Strategy:    "ema-cross",
		Leverage:    3,
		SlippageBps: 30,
		AutoTrading: true,
		Sizing:      risk.Sizing{Mode: risk.SizingFixed, FixedSize: 0.01},
	}}}

	svcCtx, err := svc.NewServiceContext(c)
	require.NoError(t, err)
	t.Cleanup(func() { svcCtx.Store.Close() })

	svcCtx.Provider.(*sim.Provider).SetMid("BTC", 95000)
	return svcCtx
}

func validAlert(alertID string) types.Alert {
	return types.Alert{
		AlertID:   alertID,
		EventType: "ENTRY",
		Asset:     "BTC",
		Side:      "LONG",
		Entry:     95000,
		Sl:        93000,
		SignalTs:  time.Now().Unix(),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any, vars map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(http.MethodPost, path, nil)
	}
	if vars != nil {
		r = pathvar.WithVars(r, vars)
	}
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decodeResp[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestWebhookSendsValidAlert(t *testing.T) {
	svcCtx := newTestCtx(t)
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	alert := validAlert("wh-1")
	alert.Secret = "hush"
	w := postJSON(t, wh.handle, "/webhook", alert, nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResp[types.WebhookResp](t, w)
	require.Equal(t, "sent", resp.Status)
	require.NotZero(t, resp.SignalID)

	pos := svcCtx.Book.Get("BTC")
	require.NotNil(t, pos)
	require.Equal(t, "long", pos.Direction)
	require.InDelta(t, 93000, pos.StopLoss, 1e-9)

	signals, err := svcCtx.Store.RecentSignals(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Equal(t, store.SourceRouter, signals[0].Source)
}

func TestWebhookSecretInPath(t *testing.T) {
	svcCtx := newTestCtx(t)
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	w := postJSON(t, wh.handle, "/webhook/hush", validAlert("wh-path"),
		map[string]string{"secret": "hush"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "sent", decodeResp[types.WebhookResp](t, w).Status)
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	svcCtx := newTestCtx(t)
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	alert := validAlert("wh-secret")
	alert.Secret = "wrong"
	w := postJSON(t, wh.handle, "/webhook", alert, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookRejectsInvalidAlert(t *testing.T) {
	svcCtx := newTestCtx(t)
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	alert := validAlert("wh-bad")
	alert.Secret = "hush"
	alert.Sl = 96000 // above entry for a LONG
	w := postJSON(t, wh.handle, "/webhook", alert, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookDuplicateAlertID(t *testing.T) {
	svcCtx := newTestCtx(t)
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	alert := validAlert("wh-dup")
	alert.Secret = "hush"
	w := postJSON(t, wh.handle, "/webhook", alert, nil)
	require.Equal(t, "sent", decodeResp[types.WebhookResp](t, w).Status)

	w = postJSON(t, wh.handle, "/webhook", alert, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "duplicate", decodeResp[types.WebhookResp](t, w).Status)
}

func TestWebhookExpiredSignal(t *testing.T) {
	svcCtx := newTestCtx(t)
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	alert := validAlert("wh-old")
	alert.Secret = "hush"
	alert.SignalTs = time.Now().Add(-time.Hour).Unix()
	w := postJSON(t, wh.handle, "/webhook", alert, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "expired", decodeResp[types.WebhookResp](t, w).Status)
	require.Nil(t, svcCtx.Book.Get("BTC"))
}

func TestWebhookRateLimited(t *testing.T) {
	svcCtx := newTestCtx(t)
	svcCtx.Config.Webhook.RateLimitPerMin = 1
	svcCtx.Config.Webhook.Burst = 1
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	alert := validAlert("wh-rate")
	alert.Secret = "hush"
	postJSON(t, wh.handle, "/webhook", alert, nil)
	w := postJSON(t, wh.handle, "/webhook", alert, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWebhookSendFailureNotCached(t *testing.T) {
	svcCtx := newTestCtx(t)
	wh, err := newWebhookHandler(svcCtx)
	require.NoError(t, err)

	svcCtx.Provider.(*sim.Provider).FailOnce("PlaceEntryOrder", errors.New("venue down"))

	alert := validAlert("wh-retry")
	alert.Secret = "hush"
	w := postJSON(t, wh.handle, "/webhook", alert, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, "send_failed", decodeResp[types.WebhookResp](t, w).Status)

	// The retry reaches dispatch again: the handler's dedup cache did not
	// absorb it. The store's alert-id uniqueness answers instead, because
	// the signal row was persisted before the entry attempt.
	w = postJSON(t, wh.handle, "/webhook", alert, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "duplicate", decodeResp[types.WebhookResp](t, w).Status)
}

func TestSignalSynthesizesAlertID(t *testing.T) {
	svcCtx := newTestCtx(t)
	h := signalHandler(svcCtx)

	alert := validAlert("")
	alert.SignalTs = 0
	w := postJSON(t, h, "/signal", alert, nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResp[types.WebhookResp](t, w)
	require.Equal(t, "sent", resp.Status)

	signals, err := svcCtx.Store.RecentSignals(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Equal(t, store.SourceAPI, signals[0].Source)
	require.Contains(t, signals[0].AlertID, "api-")
}

func TestCloseMarketClosesPosition(t *testing.T) {
	svcCtx := newTestCtx(t)
	provider := svcCtx.Provider.(*sim.Provider)
	provider.SeedPosition("BTC", 0.5, 90000)
	provider.SetMid("BTC", 95000)
	require.NoError(t, svcCtx.Book.Open(&book.Position{
		Coin: "BTC", Direction: "long", EntryPrice: 90000, Size: 0.5, SignalID: 7,
	}))

	w := postJSON(t, closeHandler(svcCtx), "/close/BTC", nil,
		map[string]string{"coin": "btc"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResp[types.CloseResp](t, w)
	require.Equal(t, "closed", resp.Status)
	require.InDelta(t, 2500, resp.RealizedPnl, 1e-6)
	require.Nil(t, svcCtx.Book.Get("BTC"))

	orders, err := svcCtx.Store.RecentOrders(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, store.TagClose, orders[0].Tag)
	require.Equal(t, store.OrderStatusFilled, orders[0].Status)
	require.NotNil(t, orders[0].RealizedPnl)
}

func TestCloseWithoutPosition(t *testing.T) {
	svcCtx := newTestCtx(t)
	w := postJSON(t, closeHandler(svcCtx), "/close/BTC", nil,
		map[string]string{"coin": "BTC"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelSettlesPendingRecord(t *testing.T) {
	svcCtx := newTestCtx(t)
	provider := svcCtx.Provider.(*sim.Provider)
	provider.SetMid("BTC", 95000)

	oid, err := provider.PlaceStopOrder(context.Background(), "BTC", false, 0.5, 93000, true)
	require.NoError(t, err)
	recID, err := svcCtx.Store.InsertOrder(context.Background(), store.OrderRecord{
		SignalID: 1, ExchangeOrderID: &oid, Coin: "BTC", Side: "sell",
		Size: 0.5, Price: 93000, Type: store.OrderTypeStop,
		Tag: store.TagStopLoss, Status: store.OrderStatusPending,
	})
	require.NoError(t, err)

	path := fmt.Sprintf("/cancel/%d?coin=BTC", oid)
	w := postJSON(t, cancelHandler(svcCtx), path, nil,
		map[string]string{"oid": fmt.Sprintf("%d", oid)})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "cancelled", decodeResp[types.CancelResp](t, w).Status)

	open, err := provider.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Empty(t, open)

	orders, err := svcCtx.Store.RecentOrders(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, recID, orders[0].ID)
	require.Equal(t, store.OrderStatusCancelled, orders[0].Status)
}

func TestAutoTradingToggle(t *testing.T) {
	svcCtx := newTestCtx(t)
	h := autoTradingHandler(svcCtx)

	w := postJSON(t, h, "/auto-trading", types.AutoTradingReq{Coin: "BTC", Enabled: false}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, decodeResp[types.AutoTradingResp](t, w).Flags["BTC"])

	w = postJSON(t, h, "/auto-trading", types.AutoTradingReq{Coin: "DOGE", Enabled: true}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = postJSON(t, h, "/auto-trading", types.AutoTradingReq{Enabled: true}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeResp[types.AutoTradingResp](t, w).Flags["BTC"])
}

func TestHealthReportsBook(t *testing.T) {
	svcCtx := newTestCtx(t)
	require.NoError(t, svcCtx.Book.Open(&book.Position{
		Coin: "BTC", Direction: "long", EntryPrice: 90000, Size: 0.5, SignalID: 1,
	}))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	healthHandler(svcCtx)(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResp[types.HealthResp](t, w)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.OpenPositions)
	require.Equal(t, int64(-1), resp.ReconcileAgeSec)
	require.True(t, resp.AutoTrading["BTC"])
}

func TestPositionsSnapshot(t *testing.T) {
	svcCtx := newTestCtx(t)
	require.NoError(t, svcCtx.Book.Open(&book.Position{
		Coin: "ETH", Direction: "short", EntryPrice: 3500, Size: 2, SignalID: 3,
	}))

	r := httptest.NewRequest(http.MethodGet, "/positions", nil)
	w := httptest.NewRecorder()
	positionsHandler(svcCtx)(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeResp[map[string]*book.Position](t, w)
	require.Contains(t, snap, "ETH")
	require.Equal(t, "short", snap["ETH"].Direction)
}

func TestOrdersAndEquityReads(t *testing.T) {
	svcCtx := newTestCtx(t)
	_, err := svcCtx.Store.InsertOrder(context.Background(), store.OrderRecord{
		SignalID: 1, Coin: "BTC", Side: "buy", Size: 0.5, Price: 95000,
		Type: store.OrderTypeLimit, Tag: store.TagEntry, Status: store.OrderStatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, svcCtx.Store.InsertEquitySnapshot(context.Background(), store.EquitySnapshot{
		TS: time.Now().UTC(), Equity: 100000, OpenPositions: 0,
	}))

	r := httptest.NewRequest(http.MethodGet, "/orders?limit=10", nil)
	w := httptest.NewRecorder()
	ordersHandler(svcCtx)(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeResp[[]store.OrderRecord](t, w), 1)

	r = httptest.NewRequest(http.MethodGet, "/equity?limit=10", nil)
	w = httptest.NewRecorder()
	equityHandler(svcCtx)(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeResp[[]store.EquitySnapshot](t, w), 1)
}

type stubStream struct {
	bars []market.Candle
}

func (s stubStream) Candles(ctx context.Context, coin, interval string, limit int) ([]market.Candle, error) {
	return s.bars, nil
}

func TestCandlesFiltersBefore(t *testing.T) {
	svcCtx := newTestCtx(t)
	svcCtx.Candles = stubStream{bars: []market.Candle{
		{T: 1000, C: 1}, {T: 2000, C: 2}, {T: 3000, C: 3},
	}}

	r := httptest.NewRequest(http.MethodGet, "/candles?coin=btc&interval=1h&limit=10&before=3000", nil)
	w := httptest.NewRecorder()
	candlesHandler(svcCtx)(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	bars := decodeResp[[]market.Candle](t, w)
	require.Len(t, bars, 2)
	require.EqualValues(t, 2000, bars[1].T)
}

func TestCandlesRequiresCoin(t *testing.T) {
	svcCtx := newTestCtx(t)
	r := httptest.NewRequest(http.MethodGet, "/candles?interval=1h", nil)
	w := httptest.NewRecorder()
	candlesHandler(svcCtx)(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
