package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard may be served from another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection. The hub owns registration; the two
// pumps own the connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	closed chan struct{}
}

func (c *Client) closeSend() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
// snapshot is rendered once and sent as the first message.
func ServeWS(hub *Hub, snapshot func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Errorf("ws: upgrade: %v", err)
			return
		}
		client := &Client{
			hub:    hub,
			conn:   conn,
			send:   make(chan Message, sendBuffer),
			closed: make(chan struct{}),
		}
		client.send <- Message{Type: MsgSnapshot, Timestamp: time.Now().UTC(), Data: snapshot()}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump drains (and ignores) inbound frames to keep pong handling and
// close detection alive.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes queued messages and pings on a fixed cadence.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
