package svc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"perpcore/internal/config"
	"perpcore/pkg/book"
	"perpcore/pkg/dispatch"
	"perpcore/pkg/events"
	"perpcore/pkg/exchange/sim"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
	"perpcore/pkg/store/filestore"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	c := config.Config{
		Env:                "test",
		Store:              config.StoreConf{Backend: "file", Dir: t.TempDir()},
		LocksDir:           t.TempDir(),
		CandleCacheSeconds: 30,
	}
	c.Webhook = config.WebhookConf{RateLimitPerMin: 60, Burst: 10, DedupTTLMinutes: 20, MaxAgeMinutes: 20}
	c.Reconcile = config.ReconcileConf{IntervalSec: 10, FetchTimeoutSec: 15}
	c.Instruments.Value = &config.InstrumentsFile{Instruments: []config.Instrument{{
		Coin:        "BTC",
		Interval:    "1h",
		Strategy:    "ema-cross",
		Leverage:    3,
		SlippageBps: 30,
		AutoTrading: true,
		Sizing:      risk.Sizing{Mode: risk.SizingFixed, FixedSize: 0.01},
	}}}
	return c
}

func TestNewServiceContextWiresInstruments(t *testing.T) {
	svcCtx, err := NewServiceContext(testConfig(t))
	require.NoError(t, err)
	defer svcCtx.Store.Close()

	require.Equal(t, []string{"BTC"}, svcCtx.Supervisor.Coins())
	require.True(t, svcCtx.AutoTrading.Enabled("btc"))
	require.NotNil(t, svcCtx.Dispatcher)
	require.NotNil(t, svcCtx.Hub)

	// No exchange section configured: paper provider.
	_, ok := svcCtx.Provider.(*sim.Provider)
	require.True(t, ok)
}

func TestNewServiceContextRejectsUnknownStrategy(t *testing.T) {
	c := testConfig(t)
	c.Instruments.Value.Instruments[0].Strategy = "nope"
	_, err := NewServiceContext(c)
	require.Error(t, err)
	require.Contains(t, err.Error(), "BTC")
}

func TestAutoTradingFlags(t *testing.T) {
	flags := NewAutoTrading(map[string]bool{"BTC": true, "ETH": false})

	require.True(t, flags.Enabled("BTC"))
	require.False(t, flags.Enabled("ETH"))
	require.False(t, flags.Enabled("SOL")) // unconfigured

	require.True(t, flags.Set("eth", true))
	require.True(t, flags.Enabled("ETH"))
	require.False(t, flags.Set("SOL", true))

	flags.SetAll(false)
	snap := flags.Snapshot()
	require.Equal(t, map[string]bool{"BTC": false, "ETH": false}, snap)
}

func TestGatedDispatcherAppliesLiveFlag(t *testing.T) {
	st, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	provider := sim.New()
	provider.SetMid("BTC", 95000)
	inner := dispatch.New(provider, st, book.New(), events.NewBus(), nil)
	flags := NewAutoTrading(map[string]bool{"BTC": false})
	d := gatedDispatcher{inner: inner, flags: flags}

	req := dispatch.Request{
		Signal:       dispatch.Signal{Direction: "long", EntryPrice: 95000, StopLoss: 94000},
		Coin:         "BTC",
		Source:       store.SourceStrategy,
		CurrentPrice: 95000,
		Leverage:     1,
		AutoTrading:  true, // overridden by the live flag
		Sizing:       risk.Sizing{Mode: risk.SizingFixed, FixedSize: 0.01},
	}
	res, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, dispatch.ReasonAutoTradingDisabled, res.Reason)

	flags.Set("BTC", true)
	res, err = d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Accepted)
}
