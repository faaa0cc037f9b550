package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const metaJSON = `{"universe":[
  {"name":"BTC"},
  {"name":"kPEPE"},
  {"name":"OLD","isDelisted":true}
]}`

func candleServer(t *testing.T, candles string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req infoRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Type {
		case "meta":
			fmt.Fprint(w, metaJSON)
		case "candleSnapshot":
			fmt.Fprint(w, candles)
		default:
			http.Error(w, "unknown type", http.StatusBadRequest)
		}
	}))
}

func TestCandlesSortedAndTrimmed(t *testing.T) {
	// Out of order on purpose; the client must sort ascending.
	server := candleServer(t, `[
	  {"t":180000,"o":"11","h":"12","l":"10","c":"11.5","v":"3"},
	  {"t":60000,"o":"10","h":"11","l":"9","c":"10.5","v":"1"},
	  {"t":120000,"o":"10.5","h":"11.5","l":"10","c":"11","v":"2"}
	]`)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	bars, err := client.Candles(context.Background(), "btc", "1m", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	require.Equal(t, int64(120000), bars[0].T)
	require.Equal(t, int64(180000), bars[1].T)
	require.Equal(t, 11.5, bars[1].C)
	require.Equal(t, 3.0, bars[1].V)
}

func TestCandlesResolvesVenueSpelling(t *testing.T) {
	var requestedCoin string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"type"`
			Req  struct {
				Coin string `json:"coin"`
			} `json:"req"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Type == "meta" {
			fmt.Fprint(w, metaJSON)
			return
		}
		requestedCoin = req.Req.Coin
		fmt.Fprint(w, `[{"t":60000,"o":"1","h":"1","l":"1","c":"1","v":"1"}]`)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.Candles(context.Background(), "KPEPE", "1m", 1)
	require.NoError(t, err)
	require.Equal(t, "kPEPE", requestedCoin)
}

func TestCandlesUnknownSymbol(t *testing.T) {
	server := candleServer(t, `[]`)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.Candles(context.Background(), "NOPE", "1m", 5)
	require.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestCandlesRejectsBadArguments(t *testing.T) {
	client := NewClient()
	_, err := client.Candles(context.Background(), "BTC", "7m", 5)
	require.Error(t, err)

	_, err = client.Candles(context.Background(), "BTC", "1m", 0)
	require.Error(t, err)
}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, metaJSON)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	var meta metaResponse
	require.NoError(t, client.doRequest(context.Background(), infoRequest{Type: "meta"}, &meta))
	require.Equal(t, 3, calls)
	require.Len(t, meta.Universe, 3)
}

func TestDoRequestHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(WithBaseURL(server.URL))
	err := client.doRequest(ctx, infoRequest{Type: "meta"}, nil)
	require.Error(t, err)
}

func TestEmptyCandleResponse(t *testing.T) {
	server := candleServer(t, `[]`)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.Candles(context.Background(), "BTC", "1m", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty candle")
}
