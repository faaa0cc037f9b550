// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"perpcore/internal/svc"
	"perpcore/internal/ws"
)

// RegisterHandlers mounts the webhook ingress, the operator surface, the
// read API and the websocket feed.
func RegisterHandlers(server *rest.Server, svcCtx *svc.ServiceContext) error {
	webhook, err := newWebhookHandler(svcCtx)
	if err != nil {
		return err
	}

	server.AddRoutes([]rest.Route{
		{Method: http.MethodPost, Path: "/webhook", Handler: webhook.handle},
		{Method: http.MethodPost, Path: "/webhook/:secret", Handler: webhook.handle},
	})

	server.AddRoutes([]rest.Route{
		{Method: http.MethodPost, Path: "/signal", Handler: signalHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/close/:coin", Handler: closeHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/cancel/:oid", Handler: cancelHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/auto-trading", Handler: autoTradingHandler(svcCtx)},
	})

	server.AddRoutes([]rest.Route{
		{Method: http.MethodGet, Path: "/health", Handler: healthHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/positions", Handler: positionsHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/orders", Handler: ordersHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/open-orders", Handler: openOrdersHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/equity", Handler: equityHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/account", Handler: accountHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/candles", Handler: candlesHandler(svcCtx)},
	})

	// Long-lived connection: opt out of the server's request timeout.
	server.AddRoutes([]rest.Route{
		{Method: http.MethodGet, Path: "/ws", Handler: ws.ServeWS(svcCtx.Hub, func() any {
			return map[string]any{
				"positions":    svcCtx.Book.Snapshot(),
				"auto_trading": svcCtx.AutoTrading.Snapshot(),
			}
		})},
	}, rest.WithTimeout(0))

	return nil
}
