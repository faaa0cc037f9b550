package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"
	"github.com/zeromicro/go-zero/rest/pathvar"

	"perpcore/internal/svc"
	"perpcore/internal/types"
	"perpcore/pkg/events"
	"perpcore/pkg/store"
)

const closeTimeout = 10 * time.Second

// signalHandler is the operator's manual entry: same payload as the
// webhook minus the secret, dispatched with source "api".
func signalHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	wh := &webhookHandler{svcCtx: svcCtx, clock: time.Now}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": "read body"})
			return
		}
		var alert types.Alert
		if err := json.Unmarshal(body, &alert); err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		// Operator entries may omit alert_id (synthesized) and timestamps.
		if alert.AlertID == "" {
			alert.AlertID = "api-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
		}
		if alert.SignalTs == 0 {
			alert.SignalTs = time.Now().Unix()
		}
		if reason := validateAlert(&alert); reason != "" {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": reason})
			return
		}

		req := wh.dispatchRequest(r, &alert)
		req.Source = store.SourceAPI

		res, err := svcCtx.Dispatcher.Dispatch(r.Context(), req)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("operator: dispatch: %v", err)
			httpx.WriteJson(w, http.StatusBadGateway, types.WebhookResp{Status: "send_failed"})
			return
		}
		if !res.Accepted {
			httpx.OkJson(w, types.WebhookResp{Status: "rejected", Reason: res.Reason})
			return
		}
		httpx.OkJson(w, types.WebhookResp{Status: "sent", SignalID: res.SignalID})
	}
}

// closeHandler market-closes the coin's position and records the fill.
func closeHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coin := strings.ToUpper(strings.TrimSpace(pathvar.Vars(r)["coin"]))
		pos := svcCtx.Book.Get(coin)
		if pos == nil {
			httpx.WriteJson(w, http.StatusNotFound, map[string]string{"error": "no open position for " + coin})
			return
		}

		ctx, cancel := contextWithTimeout(r, closeTimeout)
		defer cancel()

		isBuy := pos.Direction == "short"
		fill, err := svcCtx.Provider.PlaceMarketOrder(ctx, coin, isBuy, pos.Size)
		if err != nil || fill.FilledSize <= 0 {
			logx.WithContext(ctx).Errorf("operator: close %s: %v", coin, err)
			httpx.WriteJson(w, http.StatusBadGateway, map[string]string{"error": "close order failed"})
			return
		}

		pnl := (fill.AvgPrice - pos.EntryPrice) * fill.FilledSize
		if pos.Direction == "short" {
			pnl = -pnl
		}

		oid := fill.OrderID
		id, err := svcCtx.Store.InsertOrder(ctx, store.OrderRecord{
			SignalID:        pos.SignalID,
			ExchangeOrderID: &oid,
			Coin:            coin,
			Side:            sideOf(isBuy),
			Size:            fill.FilledSize,
			Price:           fill.AvgPrice,
			Type:            store.OrderTypeMarket,
			Tag:             store.TagClose,
			Status:          store.OrderStatusPending,
		})
		if err != nil {
			logx.WithContext(ctx).Errorf("operator: close record %s: %v", coin, err)
		} else if err := svcCtx.Store.MarkOrderFilled(ctx, id, time.Now().UTC(), &pnl); err != nil {
			logx.WithContext(ctx).Errorf("operator: close fill %s: %v", coin, err)
		}

		svcCtx.Book.Close(coin)
		svcCtx.Bus.Publish(events.TypePositionClosed, map[string]any{
			"coin": coin, "signal_id": pos.SignalID, "exit_price": fill.AvgPrice,
			"realized_pnl": pnl, "reason": "operator_close",
		})

		httpx.OkJson(w, types.CloseResp{
			Status:      "closed",
			Coin:        coin,
			Size:        fill.FilledSize,
			ExitPrice:   fill.AvgPrice,
			RealizedPnl: pnl,
		})
	}
}

// cancelHandler cancels a resting venue order and settles its record.
func cancelHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CancelReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		coin := strings.ToUpper(strings.TrimSpace(req.Coin))

		ctx, cancel := contextWithTimeout(r, closeTimeout)
		defer cancel()

		if err := svcCtx.Provider.CancelOrder(ctx, coin, req.Oid); err != nil {
			logx.WithContext(ctx).Errorf("operator: cancel %d: %v", req.Oid, err)
			httpx.WriteJson(w, http.StatusBadGateway, map[string]string{"error": "cancel failed"})
			return
		}

		// Settle the matching pending record, when one exists.
		if pending, err := svcCtx.Store.PendingOrders(ctx); err == nil {
			for _, rec := range pending {
				if rec.ExchangeOrderID != nil && *rec.ExchangeOrderID == req.Oid {
					if err := svcCtx.Store.UpdateOrderStatus(ctx, rec.ID, store.OrderStatusCancelled); err != nil {
						logx.WithContext(ctx).Errorf("operator: cancel record %d: %v", rec.ID, err)
					}
					break
				}
			}
		}

		svcCtx.Bus.Publish(events.TypeOrderCancelled, map[string]any{"oid": req.Oid, "coin": coin})
		httpx.OkJson(w, types.CancelResp{Status: "cancelled", Oid: req.Oid})
	}
}

// autoTradingHandler flips the per-coin flag; empty coin means all.
func autoTradingHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AutoTradingReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.WriteJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if req.Coin == "" {
			svcCtx.AutoTrading.SetAll(req.Enabled)
		} else if !svcCtx.AutoTrading.Set(req.Coin, req.Enabled) {
			httpx.WriteJson(w, http.StatusNotFound, map[string]string{"error": "unknown instrument " + req.Coin})
			return
		}
		httpx.OkJson(w, types.AutoTradingResp{Flags: svcCtx.AutoTrading.Snapshot()})
	}
}

func sideOf(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}
