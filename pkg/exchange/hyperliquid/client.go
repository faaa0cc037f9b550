package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"perpcore/pkg/exchange"
)

const (
	mainnetInfoURL     = "https://api.hyperliquid.xyz/info"
	mainnetExchangeURL = "https://api.hyperliquid.xyz/exchange"
	testnetInfoURL     = "https://api.hyperliquid-testnet.xyz/info"
	testnetExchangeURL = "https://api.hyperliquid-testnet.xyz/exchange"

	defaultHTTPTimeout  = 30 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryAttempts    = 3
)

// Client coordinates signed requests against the venue's info and exchange
// endpoints. Asset metadata (size precision, asset index, reference prices)
// is cached behind a read-write mutex and refreshed on demand.
type Client struct {
	infoURL     string
	exchangeURL string
	httpClient  *http.Client
	signer      Signer
	address     string // signer wallet address
	mainAddress string // account address when signing with an API wallet
	isTestnet   bool
	logf        func(format string, args ...any)
	clock       func() time.Time
	vault       string

	assetMu      sync.RWMutex
	assetIndex   map[string]int
	assetInfo    map[string]AssetInfo
	assetTTL     time.Duration
	assetLastRef time.Time
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
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

// WithVaultAddress configures a vault address for signing requests.
func WithVaultAddress(addr string) Option {
	return func(c *Client) {
		if common.IsHexAddress(addr) {
			c.vault = common.HexToAddress(addr).Hex()
		}
	}
}

// WithAccountAddress sets the account address used for info requests when
// the signing key belongs to an API wallet acting on the account's behalf.
func WithAccountAddress(addr string) Option {
	return func(c *Client) {
		if common.IsHexAddress(addr) {
			c.mainAddress = common.HexToAddress(addr).Hex()
		}
	}
}

// WithClock overrides the time source (primarily for testing nonces).
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithAssetCacheTTL sets a time-to-live for the asset directory cache.
// When positive, metadata is refreshed once TTL elapses.
func WithAssetCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.assetTTL = ttl
		}
	}
}

// NewClient constructs a trading client from a hex private key.
func NewClient(privateKeyHex string, isTestnet bool, opts ...Option) (*Client, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("hyperliquid: private key is required")
	}

	signer, err := NewPrivateKeySigner(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: create signer: %w", err)
	}

	client := &Client{
		infoURL:     mainnetInfoURL,
		exchangeURL: mainnetExchangeURL,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		signer:     signer,
		address:    signer.Address(),
		isTestnet:  isTestnet,
		logf:       func(string, ...any) {},
		clock:      time.Now,
		assetIndex: make(map[string]int),
		assetInfo:  make(map[string]AssetInfo),
	}
	if isTestnet {
		client.infoURL = testnetInfoURL
		client.exchangeURL = testnetExchangeURL
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if client.clock == nil {
		client.clock = time.Now
	}
	return client, nil
}

// infoAddress returns the address used for info queries: the account
// address when configured, otherwise the signer address.
func (c *Client) infoAddress() string {
	if c.mainAddress != "" {
		return c.mainAddress
	}
	return c.address
}

// doInfoRequest queries the public info endpoint with bounded retries and
// doubling backoff. Only transport-level failures are retried.
func (c *Client) doInfoRequest(ctx context.Context, req InfoRequest, result interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return exchange.WrapError(exchange.KindInvalidRequest, "info."+req.Type, err)
	}
	backoff := defaultRetryBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(payload))
		if err != nil {
			return exchange.WrapError(exchange.KindInvalidRequest, "info."+req.Type, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return exchange.WrapError(exchange.KindTransient, "info."+req.Type, ctx.Err())
			}
			lastErr = exchange.WrapError(exchange.KindTransient, "info."+req.Type, err)
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = exchange.WrapError(exchange.KindTransient, "info."+req.Type, readErr)
			case resp.StatusCode == http.StatusTooManyRequests:
				lastErr = exchange.NewError(exchange.KindRateLimited, "info."+req.Type, "", fmt.Sprintf("http status %d", resp.StatusCode))
			case resp.StatusCode < http.StatusOK || resp.StatusCode >= 300:
				kind := exchange.KindInvalidRequest
				if resp.StatusCode >= 500 {
					kind = exchange.KindTransient
				}
				lastErr = exchange.NewError(kind, "info."+req.Type, "", fmt.Sprintf("http status %d: %s", resp.StatusCode, truncateBody(body)))
				if kind == exchange.KindInvalidRequest {
					return lastErr
				}
			default:
				if result != nil {
					if err := json.Unmarshal(body, result); err != nil {
						return exchange.WrapError(exchange.KindInvalidRequest, "info."+req.Type+".decode", err)
					}
				}
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return exchange.WrapError(exchange.KindTransient, "info."+req.Type, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return exchange.NewError(exchange.KindTransient, "info."+req.Type, "", "request failed")
}

// doExchangeRequest signs and submits an exchange action. Mutations are
// never retried here; callers decide based on the error kind and the
// reconcile loop resolves requests whose fate is unknown.
func (c *Client) doExchangeRequest(ctx context.Context, op string, action Action, result interface{}) error {
	nonce := c.clock().UnixMilli()
	signed, err := signAction(action, c.signer, nonce, c.vault, !c.isTestnet)
	if err != nil {
		return exchange.WrapError(exchange.KindInvalidRequest, op, err)
	}
	payload, err := json.Marshal(signed)
	if err != nil {
		return exchange.WrapError(exchange.KindInvalidRequest, op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.exchangeURL, bytes.NewReader(payload))
	if err != nil {
		return exchange.WrapError(exchange.KindInvalidRequest, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return exchange.WrapError(exchange.KindTransient, op, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return exchange.WrapError(exchange.KindTransient, op, readErr)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return exchange.NewError(exchange.KindRateLimited, op, "", fmt.Sprintf("http status %d", resp.StatusCode))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= 300 {
		kind := exchange.KindInvalidRequest
		if resp.StatusCode >= 500 {
			kind = exchange.KindTransient
		}
		return exchange.NewError(kind, op, "", fmt.Sprintf("http status %d: %s", resp.StatusCode, truncateBody(body)))
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return exchange.WrapError(exchange.KindInvalidRequest, op+".decode", err)
		}
	}
	return nil
}

// classifyVenueMessage maps a venue rejection string onto the error
// taxonomy.
func classifyVenueMessage(msg string) exchange.Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient margin"):
		return exchange.KindInsufficientMargin
	case strings.Contains(lower, "rate limit"):
		return exchange.KindRateLimited
	default:
		return exchange.KindInvalidRequest
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
