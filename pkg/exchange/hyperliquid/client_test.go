package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"perpcore/pkg/exchange"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082796fe3f6a4ab2ed5f8d2"

// fakeVenue is an httptest venue speaking the info and exchange protocols.
// Info responses are keyed by request type; exchange responses are returned
// in submission order while recorded actions stay inspectable.
type fakeVenue struct {
	t *testing.T

	mu        sync.Mutex
	info      map[string]string
	exchange  []string
	actions   []Action
	infoCalls []string

	server *httptest.Server
}

func newFakeVenue(t *testing.T) *fakeVenue {
	v := &fakeVenue{
		t:    t,
		info: map[string]string{"metaAndAssetCtxs": defaultMetaJSON},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/info", v.handleInfo)
	mux.HandleFunc("/exchange", v.handleExchange)
	v.server = httptest.NewServer(mux)
	t.Cleanup(v.server.Close)
	return v
}

const defaultMetaJSON = `[
  {"universe":[
    {"name":"BTC","szDecimals":5,"maxLeverage":50},
    {"name":"ETH","szDecimals":4,"maxLeverage":50},
    {"name":"KPEPE","szDecimals":0,"maxLeverage":10}
  ]},
  [
    {"markPx":"95010.0","midPx":"95000.0","oraclePx":"95005.0"},
    {"markPx":"3301.0","midPx":"3300.0","oraclePx":"3300.5"},
    {"markPx":"0.012","midPx":"0.012","oraclePx":"0.012"}
  ]
]`

func (v *fakeVenue) client(t *testing.T) *Client {
	client, err := NewClient(testKeyHex, true)
	require.NoError(t, err)
	client.infoURL = v.server.URL + "/info"
	client.exchangeURL = v.server.URL + "/exchange"
	return client
}

func (v *fakeVenue) setInfo(reqType, body string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.info[reqType] = body
}

func (v *fakeVenue) queueExchange(bodies ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.exchange = append(v.exchange, bodies...)
}

func (v *fakeVenue) recordedActions() []Action {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Action(nil), v.actions...)
}

func (v *fakeVenue) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req InfoRequest
	require.NoError(v.t, json.NewDecoder(r.Body).Decode(&req))
	v.mu.Lock()
	v.infoCalls = append(v.infoCalls, req.Type)
	body, ok := v.info[req.Type]
	v.mu.Unlock()
	if !ok {
		http.Error(w, "unknown info type", http.StatusBadRequest)
		return
	}
	fmt.Fprint(w, body)
}

func (v *fakeVenue) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	require.NoError(v.t, json.NewDecoder(r.Body).Decode(&req))
	v.mu.Lock()
	v.actions = append(v.actions, req.Action)
	var body string
	if len(v.exchange) > 0 {
		body = v.exchange[0]
		v.exchange = v.exchange[1:]
	} else {
		body = `{"status":"ok","response":{"type":"default","data":{"statuses":["success"]}}}`
	}
	v.mu.Unlock()
	fmt.Fprint(w, body)
}

func filledResponse(oid int64, totalSz, avgPx string) string {
	return fmt.Sprintf(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":%q,"avgPx":%q,"oid":%d}}]}}}`, totalSz, avgPx, oid)
}

func restingResponse(oid int64) string {
	return fmt.Sprintf(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":%d}}]}}}`, oid)
}

func TestPlaceEntryOrderFilled(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(filledResponse(7001, "0.01052", "95000"))
	client := venue.client(t)

	fill, err := client.PlaceEntryOrder(context.Background(), "BTC", true, 0.010526315, 95000, 10)
	require.NoError(t, err)
	require.Equal(t, int64(7001), fill.OrderID)
	require.Equal(t, 0.01052, fill.FilledSize)
	require.Equal(t, 95000.0, fill.AvgPrice)

	actions := venue.recordedActions()
	require.Len(t, actions, 1)
	require.Equal(t, ActionTypeOrder, actions[0].Type)
	require.Len(t, actions[0].Orders, 1)
	order := actions[0].Orders[0]
	require.Equal(t, 0, order.Asset)
	require.True(t, order.IsBuy)
	// 5 szDecimals: 0.010526315 truncates to 0.01052.
	require.Equal(t, "0.01052", order.Sz)
	// 95000 * 1.001 = 95095, 5 sig figs.
	require.Equal(t, "95095", order.LimitPx)
	require.Equal(t, "Ioc", order.OrderType.Limit.TIF)
	require.False(t, order.ReduceOnly)
}

func TestPlaceEntryOrderSellAdjustsDown(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(filledResponse(7002, "0.5", "3296.7"))
	client := venue.client(t)

	_, err := client.PlaceEntryOrder(context.Background(), "ETH", false, 0.5, 3300, 10)
	require.NoError(t, err)
	order := venue.recordedActions()[0].Orders[0]
	require.False(t, order.IsBuy)
	require.Equal(t, "3296.7", order.LimitPx)
}

func TestPlaceEntryOrderNoFill(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(`{"status":"ok","response":{"type":"order","data":{"statuses":[{}]}}}`)
	client := venue.client(t)

	fill, err := client.PlaceEntryOrder(context.Background(), "BTC", true, 0.01, 95000, 10)
	require.NoError(t, err)
	require.Zero(t, fill.FilledSize)
	require.Zero(t, fill.OrderID)
}

func TestPlaceEntryOrderRejection(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(`{"status":"err","response":"Insufficient margin to place order."}`)
	client := venue.client(t)

	_, err := client.PlaceEntryOrder(context.Background(), "BTC", true, 0.01, 95000, 10)
	require.Error(t, err)
	require.Equal(t, exchange.KindInsufficientMargin, exchange.KindOf(err))
}

func TestPlaceStopOrderRests(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(restingResponse(8001))
	client := venue.client(t)

	oid, err := client.PlaceStopOrder(context.Background(), "BTC", false, 0.010523456789, 94000, true)
	require.NoError(t, err)
	require.Equal(t, int64(8001), oid)

	order := venue.recordedActions()[0].Orders[0]
	require.True(t, order.ReduceOnly)
	require.NotNil(t, order.OrderType.Trigger)
	require.True(t, order.OrderType.Trigger.IsMarket)
	require.Equal(t, "sl", order.OrderType.Trigger.Tpsl)
	require.Equal(t, "94000", order.OrderType.Trigger.TriggerPx)
	// Reduce-only sizes are transmitted untruncated.
	require.Equal(t, "0.010523456789", order.Sz)
}

func TestPlaceLimitOrderTruncatesWhenNotReduceOnly(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(restingResponse(8002))
	client := venue.client(t)

	oid, err := client.PlaceLimitOrder(context.Background(), "ETH", true, 0.123456789, 3250, false)
	require.NoError(t, err)
	require.Equal(t, int64(8002), oid)

	order := venue.recordedActions()[0].Orders[0]
	require.Equal(t, "0.1234", order.Sz) // ETH szDecimals = 4
	require.Equal(t, "Gtc", order.OrderType.Limit.TIF)
}

func TestCancelOrder(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(`{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`)
	client := venue.client(t)

	require.NoError(t, client.CancelOrder(context.Background(), "BTC", 8001))
	action := venue.recordedActions()[0]
	require.Equal(t, ActionTypeCancel, action.Type)
	require.Equal(t, int64(8001), action.Cancels[0].Oid)
}

func TestCancelOrderFailure(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(`{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Order already canceled"}]}}}`)
	client := venue.client(t)

	err := client.CancelOrder(context.Background(), "BTC", 8001)
	require.Error(t, err)
	require.Equal(t, exchange.KindInvalidRequest, exchange.KindOf(err))
}

func TestSetLeverage(t *testing.T) {
	venue := newFakeVenue(t)
	venue.queueExchange(`{"status":"ok","response":{"type":"default"}}`)
	client := venue.client(t)

	require.NoError(t, client.SetLeverage(context.Background(), "BTC", 5, false))
	action := venue.recordedActions()[0]
	require.Equal(t, ActionTypeUpdateLeverage, action.Type)
	require.Equal(t, 5, action.Leverage)
	require.NotNil(t, action.IsCross)
	require.False(t, *action.IsCross)
}

func TestRateLimitedMapsToKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(testKeyHex, true)
	require.NoError(t, err)
	client.infoURL = server.URL
	client.exchangeURL = server.URL

	err = client.SetLeverage(context.Background(), "BTC", 5, false)
	require.Error(t, err)
	require.Equal(t, exchange.KindRateLimited, exchange.KindOf(err))
	require.True(t, exchange.IsRetryable(err))
}

func TestInfoRetriesTransientFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, defaultMetaJSON)
	}))
	defer server.Close()

	client, err := NewClient(testKeyHex, true)
	require.NoError(t, err)
	client.infoURL = server.URL

	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, 3, calls)
	require.Equal(t, 5, client.SzDecimals(context.Background(), "BTC"))
}

func TestSzDecimalsFallsBackToDefault(t *testing.T) {
	venue := newFakeVenue(t)
	client := venue.client(t)
	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, 5, client.SzDecimals(context.Background(), "BTC"))
	require.Equal(t, 4, client.SzDecimals(context.Background(), "ETH"))
	require.Equal(t, defaultSzDecimals, client.SzDecimals(context.Background(), "UNLISTED"))
}

func TestMidPrice(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("allMids", `{"BTC":"95123.5","ETH":"3300.25"}`)
	client := venue.client(t)

	px, err := client.MidPrice(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, 95123.5, px)
}

func TestMidPriceFallsBackToMark(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("allMids", `{}`)
	client := venue.client(t)

	px, err := client.MidPrice(context.Background(), "ETH")
	require.NoError(t, err)
	require.Equal(t, 3300.0, px)
}
