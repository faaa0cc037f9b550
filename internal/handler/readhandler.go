package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"perpcore/internal/config"
	"perpcore/internal/svc"
	"perpcore/internal/types"
	"perpcore/pkg/market"
)

func healthHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ages := make(map[string]int64)
		for coin, age := range svcCtx.Health.CandleAges() {
			ages[coin] = int64(age.Seconds())
		}
		reconcileAge := int64(-1)
		if age := svcCtx.Health.ReconcileAge(); age >= 0 {
			reconcileAge = int64(age.Seconds())
		}
		httpx.OkJson(w, types.HealthResp{
			Status:           "ok",
			UptimeSec:        int64(svcCtx.Health.Uptime().Seconds()),
			LastCandleAgeSec: ages,
			ReconcileAgeSec:  reconcileAge,
			AutoTrading:      svcCtx.AutoTrading.Snapshot(),
			OpenPositions:    svcCtx.Book.Count(),
		})
	}
}

func positionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJson(w, svcCtx.Book.Snapshot())
	}
}

func ordersHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.OrdersReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		orders, err := svcCtx.Store.RecentOrders(r.Context(), req.Limit)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("read: orders: %v", err)
			httpx.WriteJson(w, http.StatusInternalServerError, map[string]string{"error": "store read failed"})
			return
		}
		httpx.OkJson(w, orders)
	}
}

func openOrdersHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orders, err := svcCtx.Provider.OpenOrders(r.Context())
		if err != nil {
			logx.WithContext(r.Context()).Errorf("read: open orders: %v", err)
			httpx.WriteJson(w, http.StatusBadGateway, map[string]string{"error": "venue read failed"})
			return
		}
		httpx.OkJson(w, orders)
	}
}

func equityHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.EquityReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		snaps, err := svcCtx.Store.RecentEquity(r.Context(), req.Limit)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("read: equity: %v", err)
			httpx.WriteJson(w, http.StatusInternalServerError, map[string]string{"error": "store read failed"})
			return
		}
		httpx.OkJson(w, snaps)
	}
}

func accountHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := svcCtx.Provider.AccountState(r.Context())
		if err != nil {
			logx.WithContext(r.Context()).Errorf("read: account: %v", err)
			httpx.WriteJson(w, http.StatusBadGateway, map[string]string{"error": "venue read failed"})
			return
		}
		httpx.OkJson(w, state)
	}
}

// candlesHandler serves venue candles through the short-TTL cache.
func candlesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CandlesReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		coin := strings.ToUpper(strings.TrimSpace(req.Coin))
		if coin == "" {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": "coin is required"})
			return
		}
		if _, err := market.IntervalDuration(req.Interval); err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		key := fmt.Sprintf("candles:%s:%s:%d", coin, req.Interval, req.Limit)
		cached, err := svcCtx.CandleCache.Take(key, func() (any, error) {
			return svcCtx.Candles.Candles(r.Context(), coin, req.Interval, req.Limit)
		})
		if err != nil {
			logx.WithContext(r.Context()).Errorf("read: candles %s: %v", coin, err)
			httpx.WriteJson(w, http.StatusBadGateway, map[string]string{"error": "candle fetch failed"})
			return
		}
		bars := cached.([]market.Candle)
		if req.Before > 0 {
			filtered := make([]market.Candle, 0, len(bars))
			for _, bar := range bars {
				if bar.T < req.Before {
					filtered = append(filtered, bar)
				}
			}
			bars = filtered
		}
		httpx.OkJson(w, bars)
	}
}

// instrumentFor resolves the configured instrument for coin, or nil.
func instrumentFor(svcCtx *svc.ServiceContext, coin string) *config.Instrument {
	if svcCtx.Config.Instruments.Value == nil {
		return nil
	}
	return svcCtx.Config.Instruments.Value.ByCoin(coin)
}

func dispatchMode(svcCtx *svc.ServiceContext) string {
	if svcCtx.Config.IsTestEnv() {
		return "paper"
	}
	return "live"
}

func contextWithTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}
