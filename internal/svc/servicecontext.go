package svc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/threading"

	"perpcore/internal/config"
	"perpcore/internal/ws"
	"perpcore/pkg/book"
	"perpcore/pkg/dispatch"
	"perpcore/pkg/events"
	"perpcore/pkg/exchange"
	_ "perpcore/pkg/exchange/hyperliquid"
	"perpcore/pkg/exchange/sim"
	"perpcore/pkg/market"
	mktliquid "perpcore/pkg/market/hyperliquid"
	"perpcore/pkg/notify"
	"perpcore/pkg/reconcile"
	"perpcore/pkg/runner"
	"perpcore/pkg/store"
	"perpcore/pkg/store/filestore"
	"perpcore/pkg/store/pgstore"
	"perpcore/pkg/strategy"
	"perpcore/pkg/supervisor"
)

// ServiceContext wires every component of the trading core and is handed
// to all HTTP handlers.
type ServiceContext struct {
	Config config.Config

	Store       store.Store
	Provider    exchange.Provider
	Book        *book.Book
	Bus         *events.Bus
	Hub         *ws.Hub
	Dispatcher  *dispatch.Dispatcher
	Notifier    notify.Notifier
	Candles     market.Stream
	AutoTrading *AutoTrading
	Health      *Health
	Reconciler  *reconcile.Loop
	Supervisor  *supervisor.Supervisor

	// CandleCache fronts /candles with a short TTL.
	CandleCache *collection.Cache
}

// NewServiceContext builds the full object graph from configuration.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	bus := events.NewBus()
	if c.Journal != "" {
		journal, err := events.OpenJournal(c.Journal)
		if err != nil {
			return nil, fmt.Errorf("svc: open journal: %w", err)
		}
		bus.WithJournal(journal)
	}

	st, err := openStore(c.Store)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(c)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(c.Notify)
	if err != nil {
		return nil, err
	}

	bk := book.New()
	dispatcher := dispatch.New(provider, st, bk, bus, notifier)

	candleCache, err := collection.NewCache(time.Duration(c.CandleCacheSeconds) * time.Second)
	if err != nil {
		return nil, fmt.Errorf("svc: candle cache: %w", err)
	}

	svcCtx := &ServiceContext{
		Config:      c,
		Store:       st,
		Provider:    provider,
		Book:        bk,
		Bus:         bus,
		Hub:         ws.NewHub(),
		Dispatcher:  dispatcher,
		Notifier:    notifier,
		Candles:     buildCandleStream(c),
		Health:      NewHealth(),
		CandleCache: candleCache,
	}

	svcCtx.Reconciler = reconcile.New(reconcile.Config{
		Interval:     time.Duration(c.Reconcile.IntervalSec) * time.Second,
		FetchTimeout: time.Duration(c.Reconcile.FetchTimeoutSec) * time.Second,
	}, provider, st, bk, bus)

	if err := svcCtx.buildInstruments(); err != nil {
		return nil, err
	}
	return svcCtx, nil
}

// buildInstruments creates the auto-trading flags, one runner per
// configured instrument, and the supervisor that owns them.
func (s *ServiceContext) buildInstruments() error {
	var instruments []config.Instrument
	if s.Config.Instruments.Value != nil {
		instruments = s.Config.Instruments.Value.Instruments
	}

	flags := make(map[string]bool, len(instruments))
	for i := range instruments {
		flags[instruments[i].Coin] = instruments[i].AutoTrading
	}
	s.AutoTrading = NewAutoTrading(flags)

	sup := supervisor.New(supervisor.Config{LocksDir: s.Config.LocksDir},
		s.Provider, s.Store, s.Book, s.Bus, s.Reconciler)
	for i := range instruments {
		inst := &instruments[i]
		strat, err := strategy.Build(inst.Strategy, inst.Params)
		if err != nil {
			return fmt.Errorf("svc: instrument %s: %w", inst.Coin, err)
		}
		run := runner.New(runnerConfig(inst), strat, s.Provider,
			gatedDispatcher{inner: s.Dispatcher, flags: s.AutoTrading},
			s.Store, s.Book, s.Bus, s.Candles)
		sup.AddInstrument(inst.Coin, run)
	}
	s.Supervisor = sup
	return nil
}

// Start launches the background plumbing (hub, bus bridge, health watch)
// and the supervisor.
func (s *ServiceContext) Start(ctx context.Context) error {
	threading.GoSafe(func() { s.Hub.Run(ctx) })
	threading.GoSafe(func() { ws.BridgeBus(ctx, s.Hub, s.Bus) })
	threading.GoSafe(func() { s.Health.Watch(ctx, s.Bus) })
	return s.Supervisor.Start(ctx)
}

// Stop shuts the supervisor down; background goroutines exit with the
// context given to Start.
func (s *ServiceContext) Stop() {
	s.Supervisor.Stop()
}

func runnerConfig(inst *config.Instrument) runner.Config {
	return runner.Config{
		Coin:              inst.Coin,
		Interval:          inst.Interval,
		Leverage:          inst.Leverage,
		IsCross:           inst.IsCross,
		SlippageBps:       inst.SlippageBps,
		AutoTrading:       inst.AutoTrading,
		Sizing:            inst.Sizing,
		Guardrails:        inst.Guardrails,
		HTFFactors:        inst.HTF,
		CooldownBars:      inst.CooldownBars,
		DailyLossLimitUsd: inst.DailyLossLimitUsd,
		MaxTradesPerDay:   inst.MaxTradesPerDay,
	}
}

func openStore(c config.StoreConf) (store.Store, error) {
	switch c.Backend {
	case "postgres":
		return pgstore.New(c.DSN), nil
	default:
		st, err := filestore.Open(c.Dir)
		if err != nil {
			return nil, fmt.Errorf("svc: open store: %w", err)
		}
		return st, nil
	}
}

func buildProvider(c config.Config) (exchange.Provider, error) {
	if c.Exchange.Value == nil {
		// No exchange section: paper trading against the simulator.
		return sim.New(), nil
	}
	provider, err := c.Exchange.Value.BuildDefault()
	if err != nil {
		return nil, fmt.Errorf("svc: build exchange provider: %w", err)
	}
	return provider, nil
}

func buildCandleStream(c config.Config) market.Stream {
	opts := []mktliquid.Option{}
	if c.IsTestEnv() {
		opts = append(opts, mktliquid.WithTestnet())
	}
	return mktliquid.NewClient(opts...)
}

func buildNotifier(c config.NotifyConf) (notify.Notifier, error) {
	if c.TelegramToken == "" {
		return notify.LogNotifier{}, nil
	}
	chatID, err := strconv.ParseInt(c.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("svc: telegram chat id: %w", err)
	}
	return notify.Multi{notify.LogNotifier{}, notify.NewTelegram(c.TelegramToken, chatID)}, nil
}
