package hyperliquid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"perpcore/pkg/exchange"
)

func TestAccountEquityIncludesFreeSpot(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("clearinghouseState", clearinghouseJSON)
	venue.setInfo("spotClearinghouseState", `{"balances":[
	  {"coin":"USDC","token":0,"total":"1000.0","hold":"400.0"},
	  {"coin":"HYPE","token":1,"total":"10.0","hold":"25.0"}
	]}`)
	client := venue.client(t)

	equity, err := client.AccountEquity(context.Background())
	require.NoError(t, err)
	// 12500.5 perps + 600 free USDC; the over-held HYPE row floors at zero.
	require.Equal(t, 13100.5, equity)
}

func TestAccountEquitySurvivesSpotOutage(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("clearinghouseState", clearinghouseJSON)
	client := venue.client(t)

	equity, err := client.AccountEquity(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12500.5, equity)
}

func TestOpenOrders(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("frontendOpenOrders", `[
	  {"coin":"BTC","side":"A","limitPx":"97000.0","sz":"0.005","origSz":"0.005",
	   "oid":9001,"timestamp":1700000000000,"isTrigger":false,"triggerPx":"0.0","reduceOnly":true},
	  {"coin":"BTC-PERP","side":"B","limitPx":"94000.0","sz":"0.01052","origSz":"0.01052",
	   "oid":9002,"timestamp":1700000001000,"isTrigger":true,"triggerPx":"94000.0","reduceOnly":true}
	]`)
	client := venue.client(t)

	orders, err := client.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "sell", orders[0].Side)
	require.Equal(t, int64(9001), orders[0].OrderID)
	require.Equal(t, "BTC", orders[1].Coin)
	require.True(t, orders[1].IsTrigger)
	require.Equal(t, 94000.0, orders[1].TriggerPx)
}

func TestHistoricalOrdersDefaultsStatusOpen(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("historicalOrders", `[
	  {"order":{"coin":"BTC","side":"B","limitPx":"95095.0","sz":"0","origSz":"0.01052","oid":7001,"timestamp":1700000000000},
	   "status":"filled","statusTimestamp":1700000000500},
	  {"order":{"coin":"BTC","side":"A","limitPx":"94000.0","sz":"0.01052","origSz":"0.01052","oid":8001,"timestamp":1700000001000}}
	]`)
	client := venue.client(t)

	orders, err := client.HistoricalOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, exchange.StatusFilled, orders[0].Status)
	require.Equal(t, int64(1700000000500), orders[0].Timestamp)
	require.Equal(t, exchange.StatusOpen, orders[1].Status)
	require.Equal(t, int64(1700000001000), orders[1].Timestamp)
}

func TestOrderStatusUnknownOid(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("orderStatus", `{"status":"unknownOid"}`)
	client := venue.client(t)

	status, err := client.OrderStatus(context.Background(), 424242)
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestOrderStatusFound(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("orderStatus", `{"status":"order","order":{
	  "order":{"coin":"BTC","side":"A","limitPx":"94000.0","sz":"0","origSz":"0.01052","oid":8001,"timestamp":1700000001000},
	  "status":"triggered","statusTimestamp":1700000002000}}`)
	client := venue.client(t)

	status, err := client.OrderStatus(context.Background(), 8001)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, exchange.StatusTriggered, status.Status)
	require.Equal(t, int64(8001), status.OrderID)
	require.Equal(t, "sell", status.Side)
}
