// Package hyperliquid implements market.Stream over the venue's public
// candleSnapshot endpoint.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"perpcore/pkg/market"
)

const (
	mainnetInfoURL = "https://api.hyperliquid.xyz/info"
	testnetInfoURL = "https://api.hyperliquid-testnet.xyz/info"

	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond

	// extraBars widens the fetch window so the venue returns at least the
	// requested number of bars despite boundary alignment.
	extraBars = 10
)

// ErrSymbolNotFound indicates the requested symbol is not listed.
var ErrSymbolNotFound = errors.New("hyperliquid: symbol not found")

// Client fetches candles from the Hyperliquid info endpoint. Venue symbols
// are mixed-case ("kPEPE"); the client keeps a directory mapping canonical
// upper-case symbols to their venue spellings.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logf       func(format string, args ...any)
	clock      func() time.Time

	symbolsMu   sync.RWMutex
	symbolIndex map[string]string
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default info endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithTestnet points the client at the testnet info endpoint.
func WithTestnet() Option {
	return func(c *Client) {
		c.baseURL = testnetInfoURL
	}
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithLogger attaches a printf-style logger. Defaults to a no-op.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(c *Client) {
		if logf != nil {
			c.logf = logf
		}
	}
}

// NewClient constructs a market data client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:     mainnetInfoURL,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries:  defaultMaxRetries,
		logf:        func(string, ...any) {},
		clock:       time.Now,
		symbolIndex: make(map[string]string),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

var _ market.Stream = (*Client)(nil)

// infoRequest is the envelope for info endpoint requests.
type infoRequest struct {
	Type string `json:"type"`
	Req  any    `json:"req,omitempty"`
}

type candleSnapshotReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// candleRow is one row of the candleSnapshot response. Prices are
// string-encoded decimals.
type candleRow struct {
	T int64   `json:"t"`
	O float64 `json:"o,string"`
	H float64 `json:"h,string"`
	L float64 `json:"l,string"`
	C float64 `json:"c,string"`
	V float64 `json:"v,string"`
}

type metaResponse struct {
	Universe []struct {
		Name       string `json:"name"`
		IsDelisted bool   `json:"isDelisted"`
	} `json:"universe"`
}

// Candles returns up to limit most recent bars for coin at interval, in
// ascending open-time order.
func (c *Client) Candles(ctx context.Context, coin, interval string, limit int) ([]market.Candle, error) {
	duration, err := market.IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("hyperliquid: limit must be positive")
	}
	venueSymbol, err := c.venueSymbolFor(ctx, coin)
	if err != nil {
		return nil, err
	}

	end := c.clock().UTC()
	start := end.Add(-duration * time.Duration(limit+extraBars))

	var rows []candleRow
	if err := c.doRequest(ctx, infoRequest{
		Type: "candleSnapshot",
		Req: candleSnapshotReq{
			Coin:      venueSymbol,
			Interval:  interval,
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("hyperliquid: empty candle response for %s %s", venueSymbol, interval)
	}

	bars := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, market.Candle{T: row.T, O: row.O, H: row.H, L: row.L, C: row.C, V: row.V})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].T < bars[j].T })
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// venueSymbolFor resolves the venue's spelling for a canonical symbol,
// refreshing the directory on a miss.
func (c *Client) venueSymbolFor(ctx context.Context, coin string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(coin))
	if key == "" {
		return "", fmt.Errorf("hyperliquid: empty symbol")
	}
	c.symbolsMu.RLock()
	venueSymbol, ok := c.symbolIndex[key]
	c.symbolsMu.RUnlock()
	if ok {
		return venueSymbol, nil
	}

	var meta metaResponse
	if err := c.doRequest(ctx, infoRequest{Type: "meta"}, &meta); err != nil {
		return "", err
	}
	index := make(map[string]string, len(meta.Universe))
	for _, entry := range meta.Universe {
		if entry.IsDelisted {
			continue
		}
		index[strings.ToUpper(entry.Name)] = entry.Name
	}
	c.symbolsMu.Lock()
	c.symbolIndex = index
	venueSymbol, ok = c.symbolIndex[key]
	c.symbolsMu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSymbolNotFound, coin)
	}
	return venueSymbol, nil
}

// doRequest posts an info request with bounded retries and doubling backoff.
func (c *Client) doRequest(ctx context.Context, req infoRequest, result any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: marshal %s request: %w", req.Type, err)
	}

	backoff := defaultRetryBackoffBase
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("hyperliquid: build %s request: %w", req.Type, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("hyperliquid: %s request: %w", req.Type, err)
			c.logf("hyperliquid: %s attempt %d: %v", req.Type, attempt+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("hyperliquid: read %s response: %w", req.Type, readErr)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("hyperliquid: %s status %d", req.Type, resp.StatusCode)
			c.logf("hyperliquid: %s attempt %d: status %d", req.Type, attempt+1, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("hyperliquid: %s status %d: %s", req.Type, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if result != nil {
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("hyperliquid: decode %s response: %w", req.Type, err)
			}
		}
		return nil
	}
	return lastErr
}
