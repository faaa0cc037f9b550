package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"
	"github.com/zeromicro/go-zero/rest/pathvar"
	"golang.org/x/time/rate"

	"perpcore/internal/svc"
	"perpcore/internal/types"
	"perpcore/pkg/book"
	"perpcore/pkg/dispatch"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
)

const maxWebhookBody = 1 << 20

// webhookHandler is the alert ingress: secret check, rate limit, schema
// validation, TTL dedup, then the shared dispatch pipeline.
type webhookHandler struct {
	svcCtx  *svc.ServiceContext
	limiter *rate.Limiter
	dedup   *collection.Cache
	clock   func() time.Time
}

func newWebhookHandler(svcCtx *svc.ServiceContext) (*webhookHandler, error) {
	cfg := svcCtx.Config.Webhook
	dedup, err := collection.NewCache(time.Duration(cfg.DedupTTLMinutes) * time.Minute)
	if err != nil {
		return nil, fmt.Errorf("handler: dedup cache: %w", err)
	}
	perSecond := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	return &webhookHandler{
		svcCtx:  svcCtx,
		limiter: rate.NewLimiter(perSecond, cfg.Burst),
		dedup:   dedup,
		clock:   time.Now,
	}, nil
}

func (h *webhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		httpx.WriteJson(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	// text/plain bodies from alert routers still carry JSON.
	var alert types.Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	secret := pathvar.Vars(r)["secret"]
	if secret == "" {
		secret = alert.Secret
	}
	if h.svcCtx.Config.Webhook.Secret != "" && secret != h.svcCtx.Config.Webhook.Secret {
		httpx.WriteJson(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	if reason := validateAlert(&alert); reason != "" {
		httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": reason})
		return
	}

	maxAge := time.Duration(h.svcCtx.Config.Webhook.MaxAgeMinutes) * time.Minute
	if h.clock().Sub(time.Unix(alert.SignalTs, 0)) > maxAge {
		httpx.OkJson(w, types.WebhookResp{Status: "expired"})
		return
	}

	if _, seen := h.dedup.Get(alert.AlertID); seen {
		httpx.OkJson(w, types.WebhookResp{Status: "duplicate"})
		return
	}

	req := h.dispatchRequest(r, &alert)
	res, err := h.svcCtx.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		// Not cached: the sender may retry after a transport failure.
		logx.WithContext(r.Context()).Errorf("webhook: dispatch %s: %v", alert.AlertID, err)
		httpx.WriteJson(w, http.StatusBadGateway, types.WebhookResp{Status: "send_failed"})
		return
	}

	switch {
	case res.Accepted:
		h.dedup.Set(alert.AlertID, struct{}{})
		httpx.OkJson(w, types.WebhookResp{Status: "sent", SignalID: res.SignalID})
	case res.Reason == dispatch.ReasonDuplicate:
		h.dedup.Set(alert.AlertID, struct{}{})
		httpx.OkJson(w, types.WebhookResp{Status: "duplicate"})
	default:
		httpx.OkJson(w, types.WebhookResp{Status: "rejected", Reason: res.Reason})
	}
}

func validateAlert(alert *types.Alert) string {
	if strings.TrimSpace(alert.AlertID) == "" {
		return "alert_id is required"
	}
	if alert.EventType != "ENTRY" {
		return "event_type must be ENTRY"
	}
	if strings.TrimSpace(alert.Asset) == "" {
		return "asset is required"
	}
	side := strings.ToUpper(alert.Side)
	if side != "LONG" && side != "SHORT" {
		return "side must be LONG or SHORT"
	}
	if alert.Entry <= 0 {
		return "entry must be positive"
	}
	if alert.Sl <= 0 {
		return "sl must be positive"
	}
	if side == "LONG" && alert.Sl >= alert.Entry {
		return "sl must be below entry for LONG"
	}
	if side == "SHORT" && alert.Sl <= alert.Entry {
		return "sl must be above entry for SHORT"
	}
	if alert.Qty < 0 {
		return "qty must not be negative"
	}
	if alert.SignalTs <= 0 {
		return "signal_ts is required"
	}
	if alert.Tp1Pct != nil && (*alert.Tp1Pct <= 0 || *alert.Tp1Pct > 100) {
		return "tp1_pct must be in (0, 100]"
	}
	return ""
}

// dispatchRequest merges the alert with the instrument's configured
// execution parameters. Alert-level sizing overrides configuration.
func (h *webhookHandler) dispatchRequest(r *http.Request, alert *types.Alert) dispatch.Request {
	coin := strings.ToUpper(strings.TrimSpace(alert.Asset))
	req := dispatch.Request{
		Signal:      alertSignal(alert),
		Coin:        coin,
		Source:      store.SourceRouter,
		AlertID:     alert.AlertID,
		Leverage:    1,
		SlippageBps: 30,
		AutoTrading: true,
		Mode:        dispatchMode(h.svcCtx),
	}

	if inst := instrumentFor(h.svcCtx, coin); inst != nil {
		req.Leverage = inst.Leverage
		req.IsCross = inst.IsCross
		req.SlippageBps = inst.SlippageBps
		req.Sizing = inst.Sizing
		req.Guardrails = inst.Guardrails
	}
	if alert.Leverage != nil && *alert.Leverage > 0 {
		req.Leverage = *alert.Leverage
	}
	switch {
	case alert.RiskUsd != nil && *alert.RiskUsd > 0:
		req.Sizing = risk.Sizing{Mode: risk.SizingRisk, RiskPerTradeUsd: *alert.RiskUsd}
	case alert.Qty > 0 && req.Sizing.Mode == "":
		req.Sizing = risk.Sizing{Mode: risk.SizingFixed, FixedSize: alert.Qty}
	}

	req.CurrentPrice = alert.Entry
	if px, err := h.svcCtx.Provider.MidPrice(r.Context(), coin); err == nil && px > 0 {
		req.CurrentPrice = px
	}
	return req
}

func alertSignal(alert *types.Alert) dispatch.Signal {
	direction := "long"
	if strings.EqualFold(alert.Side, "SHORT") {
		direction = "short"
	}
	signal := dispatch.Signal{
		Direction:  direction,
		EntryPrice: alert.Entry,
		StopLoss:   alert.Sl,
	}

	tp1Fraction := 0.5
	if alert.Tp1Pct != nil {
		tp1Fraction = *alert.Tp1Pct / 100
	}
	if alert.Tp1 != nil && *alert.Tp1 > 0 {
		signal.TakeProfits = append(signal.TakeProfits, book.TakeProfit{Price: *alert.Tp1, Fraction: tp1Fraction})
	}
	if alert.Tp2 != nil && *alert.Tp2 > 0 {
		remainder := 1 - tp1Fraction
		if len(signal.TakeProfits) == 0 {
			remainder = 1
		}
		signal.TakeProfits = append(signal.TakeProfits, book.TakeProfit{Price: *alert.Tp2, Fraction: remainder})
	}
	return signal
}
