package dispatch

import "sync"

// pendingCoins is the process-wide set of instruments with a dispatch in
// flight. An entry is held across the whole pipeline for its coin.
type pendingCoins struct {
	mu    sync.Mutex
	coins map[string]struct{}
}

func newPendingCoins() *pendingCoins {
	return &pendingCoins{coins: make(map[string]struct{})}
}

func (p *pendingCoins) tryAcquire(coin string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.coins[coin]; ok {
		return false
	}
	p.coins[coin] = struct{}{}
	return true
}

func (p *pendingCoins) release(coin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.coins, coin)
}
