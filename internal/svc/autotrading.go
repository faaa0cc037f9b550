package svc

import (
	"context"
	"strings"
	"sync"

	"perpcore/pkg/dispatch"
)

// AutoTrading holds the per-coin auto-trading switches the operator API
// can flip at runtime.
type AutoTrading struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewAutoTrading seeds the flags from the configured instruments.
func NewAutoTrading(initial map[string]bool) *AutoTrading {
	flags := make(map[string]bool, len(initial))
	for coin, enabled := range initial {
		flags[canonicalCoin(coin)] = enabled
	}
	return &AutoTrading{flags: flags}
}

// Enabled reports the flag for coin; unknown coins are disabled.
func (a *AutoTrading) Enabled(coin string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.flags[canonicalCoin(coin)]
}

// Set flips one coin's flag. Unknown coins are ignored.
func (a *AutoTrading) Set(coin string, enabled bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := canonicalCoin(coin)
	if _, ok := a.flags[key]; !ok {
		return false
	}
	a.flags[key] = enabled
	return true
}

// SetAll flips every configured coin.
func (a *AutoTrading) SetAll(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for coin := range a.flags {
		a.flags[coin] = enabled
	}
}

// Snapshot copies the current flags.
func (a *AutoTrading) Snapshot() map[string]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]bool, len(a.flags))
	for coin, enabled := range a.flags {
		out[coin] = enabled
	}
	return out
}

func canonicalCoin(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin))
}

// gatedDispatcher substitutes the live auto-trading flag into every
// strategy request so operator toggles take effect without restarting
// runners.
type gatedDispatcher struct {
	inner *dispatch.Dispatcher
	flags *AutoTrading
}

func (g gatedDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	req.AutoTrading = g.flags.Enabled(req.Coin)
	return g.inner.Dispatch(ctx, req)
}
