// Package supervisor owns process lifecycle: per-instrument locks, runner
// fan-out, the reconcile loop, and ordered shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"perpcore/pkg/book"
	"perpcore/pkg/events"
	"perpcore/pkg/exchange"
	"perpcore/pkg/lockfile"
	"perpcore/pkg/reconcile"
	"perpcore/pkg/store"
)

// Runner is one instrument's trading loop. Warmup must succeed before Run;
// Run blocks until its context is cancelled.
type Runner interface {
	Warmup(ctx context.Context) error
	Run(ctx context.Context) error
}

// Config parameterizes the supervisor.
type Config struct {
	// LocksDir holds the per-coin lock files.
	LocksDir string
	// ShutdownTimeout bounds the final snapshot on Stop.
	ShutdownTimeout time.Duration
}

type instrument struct {
	coin   string
	runner Runner
}

// Supervisor starts and stops the trading core in a fixed order. It owns
// the store's lifetime: Stop closes it.
type Supervisor struct {
	cfg        Config
	provider   exchange.Provider
	store      store.Store
	book       *book.Book
	bus        *events.Bus
	reconciler *reconcile.Loop

	instruments []instrument

	mu      sync.Mutex
	locks   []*lockfile.Lock
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New wires a supervisor over already-constructed components.
func New(cfg Config, provider exchange.Provider, st store.Store, bk *book.Book, bus *events.Bus, reconciler *reconcile.Loop) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Supervisor{
		cfg:        cfg,
		provider:   provider,
		store:      st,
		book:       bk,
		bus:        bus,
		reconciler: reconciler,
	}
}

// AddInstrument registers a runner for coin. Must be called before Start.
func (s *Supervisor) AddInstrument(coin string, r Runner) {
	s.instruments = append(s.instruments, instrument{coin: coin, runner: r})
}

// Coins lists the registered instruments in registration order.
func (s *Supervisor) Coins() []string {
	coins := make([]string, len(s.instruments))
	for i, inst := range s.instruments {
		coins[i] = inst.coin
	}
	return coins
}

// Start brings the core up: locks, exchange connect, metadata warm, book
// hydration, runner fan-out, reconcile loop. On any failure everything
// acquired so far is released and the error returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor: already started")
	}

	for _, inst := range s.instruments {
		lock, err := lockfile.Acquire(s.cfg.LocksDir, inst.coin)
		if err != nil {
			s.releaseLocksLocked()
			return err
		}
		s.locks = append(s.locks, lock)
	}

	if err := s.provider.Connect(ctx); err != nil {
		s.releaseLocksLocked()
		return fmt.Errorf("supervisor: exchange connect: %w", err)
	}
	for _, inst := range s.instruments {
		s.provider.SzDecimals(ctx, inst.coin) // warm metadata cache
	}

	// First tick hydrates the book from venue positions before any runner
	// sees a candle.
	s.reconciler.Tick(ctx)

	for _, inst := range s.instruments {
		if err := inst.runner.Warmup(ctx); err != nil {
			s.releaseLocksLocked()
			return fmt.Errorf("supervisor: warmup %s: %w", inst.coin, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, inst := range s.instruments {
		inst := inst
		s.wg.Add(1)
		threading.GoSafe(func() {
			defer s.wg.Done()
			if err := inst.runner.Run(runCtx); err != nil && runCtx.Err() == nil {
				logx.Errorf("supervisor: runner %s exited: %v", inst.coin, err)
			}
		})
	}

	s.wg.Add(1)
	threading.GoSafe(func() {
		defer s.wg.Done()
		s.reconciler.Run(runCtx)
	})

	s.started = true
	logx.Infof("supervisor: started %d instrument(s)", len(s.instruments))
	return nil
}

// Stop shuts down in order: cancel runners and reconcile, wait for them,
// attempt a final equity snapshot, close the store, release locks.
// Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if equity, err := s.provider.AccountEquity(ctx); err == nil {
		snap := store.EquitySnapshot{TS: time.Now().UTC(), Equity: equity, OpenPositions: s.book.Count()}
		if err := s.store.InsertEquitySnapshot(ctx, snap); err != nil {
			logx.Errorf("supervisor: final equity snapshot: %v", err)
		}
	} else {
		logx.Errorf("supervisor: final equity fetch: %v", err)
	}

	if err := s.store.Close(); err != nil {
		logx.Errorf("supervisor: store close: %v", err)
	}
	s.releaseLocksLocked()
	logx.Info("supervisor: stopped")
}

func (s *Supervisor) releaseLocksLocked() {
	for i := len(s.locks) - 1; i >= 0; i-- {
		if err := s.locks[i].Release(); err != nil {
			logx.Errorf("supervisor: %v", err)
		}
	}
	s.locks = nil
}
