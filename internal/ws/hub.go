// Package ws fans live events out to browser clients over a gorilla
// websocket hub.
package ws

import (
	"context"
	"time"

	"perpcore/pkg/events"
)

// Message is the wire envelope for every broadcast.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Envelope types carried on the socket.
const (
	MsgSnapshot   = "snapshot"
	MsgPositions  = "positions"
	MsgOrders     = "orders"
	MsgOpenOrders = "open-orders"
	MsgEquity     = "equity"
	MsgHealth     = "health"
	MsgCandle     = "candle"
	MsgSignals    = "signals"
	MsgPrices     = "prices"
)

// Hub tracks connected clients and broadcasts messages to all of them.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	count      chan chan int
}

// NewHub returns a hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		count:      make(chan chan int),
	}
}

// Run owns the client set until ctx is cancelled. All state lives in this
// goroutine; the channels are the only way in.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*Client]struct{})
	for {
		select {
		case <-ctx.Done():
			for client := range clients {
				client.closeSend()
			}
			return
		case client := <-h.register:
			clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				client.closeSend()
			}
		case msg := <-h.broadcast:
			for client := range clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer: drop it rather than stall the hub.
					delete(clients, client)
					client.closeSend()
				}
			}
		case reply := <-h.count:
			reply <- len(clients)
		}
	}
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(msgType string, data any) {
	msg := Message{Type: msgType, Timestamp: time.Now().UTC(), Data: data}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	h.count <- reply
	return <-reply
}

// BridgeBus forwards bus events into hub broadcasts until ctx is
// cancelled. Events with no envelope mapping are dropped.
func BridgeBus(ctx context.Context, hub *Hub, bus *events.Bus) {
	ch, cancel := bus.Subscribe(256)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			msgType := envelopeType(event.Type)
			if msgType == "" {
				continue
			}
			hub.Broadcast(msgType, map[string]any{
				"event": event.Type,
				"data":  event.Data,
				"lossy": event.Lossy,
			})
		}
	}
}

func envelopeType(eventType string) string {
	switch eventType {
	case events.TypePositionOpened, events.TypePositionClosed,
		events.TypePositionHydrated, events.TypePositionAutoClosed:
		return MsgPositions
	case events.TypeOrderPlaced, events.TypeOrderFilled,
		events.TypeOrderCancelled, events.TypeEntryNoFill:
		return MsgOrders
	case events.TypeSignalReceived, events.TypeSignalRejected:
		return MsgSignals
	case events.TypeEquitySnapshot:
		return MsgEquity
	case events.TypeCandleClosed:
		return MsgCandle
	case events.TypeReconcileOk, events.TypeReconcileDrift,
		events.TypeProtectionFailure, events.TypeStaleData:
		return MsgHealth
	default:
		return ""
	}
}
