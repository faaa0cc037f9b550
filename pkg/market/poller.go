package market

import (
	"context"
	"time"
)

// staleThreshold is the number of consecutive polls without a new closed
// candle before OnStale fires.
const staleThreshold = 5

// PollerConfig wires a Poller to its source and observers. Callbacks are
// invoked from the polling goroutine; nil callbacks are skipped.
type PollerConfig struct {
	Stream   Stream
	Coin     string
	Interval string
	// Every is the poll cadence. Defaults to a quarter of the candle
	// interval, capped at 30s.
	Every time.Duration

	// OnClosed receives each newly closed bar, in strict ascending T order.
	OnClosed func(Candle)
	// OnInProgress receives the forming bar on every poll, for
	// mark-to-market.
	OnInProgress func(Candle)
	// OnStale fires after staleThreshold polls without a new closed bar.
	OnStale func(lastCandleAt int64, silentFor time.Duration)

	// Logf receives poll failures. Defaults to a no-op.
	Logf func(format string, args ...any)

	clock func() time.Time
}

// Poller drives candle consumption for one instrument. It fetches a small
// window each tick, forwards bars newer than the last seen closed bar, and
// tracks data staleness.
type Poller struct {
	cfg        PollerConfig
	interval   time.Duration
	lastClosed int64
	lastSeen   time.Time
	emptyPolls int
}

// NewPoller validates the configuration and builds a poller. lastClosed
// seeds the closed-bar high-water mark (normally the newest warmup bar) so
// history is not replayed.
func NewPoller(cfg PollerConfig, lastClosed int64) (*Poller, error) {
	interval, err := IntervalDuration(cfg.Interval)
	if err != nil {
		return nil, err
	}
	if cfg.Every <= 0 {
		cfg.Every = interval / 4
		if cfg.Every > 30*time.Second {
			cfg.Every = 30 * time.Second
		}
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	return &Poller{
		cfg:        cfg,
		interval:   interval,
		lastClosed: lastClosed,
		lastSeen:   cfg.clock(),
	}, nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs a single fetch-and-dispatch cycle. Exposed so tests and the
// runner's warmup path can drive the poller synchronously.
func (p *Poller) Poll(ctx context.Context) {
	bars, err := p.cfg.Stream.Candles(ctx, p.cfg.Coin, p.cfg.Interval, 3)
	if err != nil {
		p.cfg.Logf("poll %s %s: %v", p.cfg.Coin, p.cfg.Interval, err)
		p.noteEmptyPoll()
		return
	}

	now := p.cfg.clock()
	fresh := false
	for _, bar := range bars {
		if bar.T <= p.lastClosed {
			continue
		}
		fresh = true
		if bar.ClosedBy(now, p.interval) {
			p.lastClosed = bar.T
			if p.cfg.OnClosed != nil {
				p.cfg.OnClosed(bar)
			}
			continue
		}
		if p.cfg.OnInProgress != nil {
			p.cfg.OnInProgress(bar)
		}
	}

	if fresh {
		p.emptyPolls = 0
		p.lastSeen = now
		return
	}
	p.noteEmptyPoll()
}

func (p *Poller) noteEmptyPoll() {
	p.emptyPolls++
	if p.emptyPolls < staleThreshold {
		return
	}
	p.emptyPolls = 0
	if p.cfg.OnStale != nil {
		p.cfg.OnStale(p.lastClosed, p.cfg.clock().Sub(p.lastSeen))
	}
}

// LastClosed returns the open time of the newest closed bar dispatched.
func (p *Poller) LastClosed() int64 { return p.lastClosed }
