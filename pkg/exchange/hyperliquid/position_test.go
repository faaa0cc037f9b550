package hyperliquid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const clearinghouseJSON = `{
  "marginSummary": {"accountValue":"12500.5","totalNtlPos":"9500.0","totalMarginUsed":"1900.0"},
  "crossMarginSummary": {"accountValue":"12500.5","totalNtlPos":"9500.0","totalMarginUsed":"1900.0"},
  "withdrawable": "10600.5",
  "assetPositions": [
    {"type":"oneWay","position":{
      "coin":"BTC","szi":"0.01052","entryPx":"95000.0","positionValue":"999.4",
      "unrealizedPnl":"12.3","returnOnEquity":"0.0615","liquidationPx":"76000.0",
      "marginUsed":"199.88","leverage":{"type":"isolated","value":5}}},
    {"type":"oneWay","position":{
      "coin":"ETH/USDC:USDC","szi":"-1.5","entryPx":"3300.0","positionValue":"4950.0",
      "unrealizedPnl":"-20.0","returnOnEquity":"-0.02","liquidationPx":"3600.0",
      "marginUsed":"990.0","leverage":{"type":"cross","value":"5"}}},
    {"type":"oneWay","position":{
      "coin":"SOL","szi":"2.0","entryPx":"-1","positionValue":"0",
      "unrealizedPnl":"0","returnOnEquity":"0","liquidationPx":"0",
      "marginUsed":"0","leverage":{"type":"isolated","value":3}}},
    {"type":"oneWay","position":{
      "coin":"DOGE","szi":"","entryPx":"0.1","positionValue":"0",
      "unrealizedPnl":"0","returnOnEquity":"0","liquidationPx":"0",
      "marginUsed":"0","leverage":{"type":"isolated","value":"bad"}}}
  ],
  "time": 1700000000000
}`

func TestPositionsSanitized(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("clearinghouseState", clearinghouseJSON)
	client := venue.client(t)

	positions, err := client.Positions(context.Background())
	require.NoError(t, err)
	// SOL (non-positive entryPx) and DOGE (missing size) are dropped.
	require.Len(t, positions, 2)

	btc := positions[0]
	require.Equal(t, "BTC", btc.Coin)
	require.Equal(t, 0.01052, btc.Szi)
	require.Equal(t, "long", btc.Direction())
	require.Equal(t, 95000.0, btc.EntryPx)
	require.Equal(t, 5, btc.Leverage)
	require.False(t, btc.IsCross)

	eth := positions[1]
	// Venue suffix is stripped to the canonical symbol.
	require.Equal(t, "ETH", eth.Coin)
	require.Equal(t, "short", eth.Direction())
	require.Equal(t, 1.5, eth.Size())
	require.Equal(t, 5, eth.Leverage)
	require.True(t, eth.IsCross)
}

func TestParseLeverageFallsBackToOne(t *testing.T) {
	lev, isCross := parseLeverage(venueLeverage{Type: "isolated", Value: []byte(`"garbage"`)})
	require.Equal(t, 1, lev)
	require.False(t, isCross)

	lev, isCross = parseLeverage(venueLeverage{Type: "cross"})
	require.Equal(t, 1, lev)
	require.True(t, isCross)

	lev, _ = parseLeverage(venueLeverage{Type: "isolated", Value: []byte(`10`)})
	require.Equal(t, 10, lev)
}

func TestAccountState(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("clearinghouseState", clearinghouseJSON)
	client := venue.client(t)

	state, err := client.AccountState(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12500.5, state.AccountValue)
	require.Equal(t, 1900.0, state.TotalMarginUsed)
	require.Equal(t, 10600.5, state.Withdrawable)
	require.Len(t, state.Positions, 2)
}

func TestAccountStateMissingSummary(t *testing.T) {
	venue := newFakeVenue(t)
	venue.setInfo("clearinghouseState", `{"marginSummary":{},"crossMarginSummary":{},"assetPositions":[]}`)
	client := venue.client(t)

	_, err := client.AccountState(context.Background())
	require.Error(t, err)
}
