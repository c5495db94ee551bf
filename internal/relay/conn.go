package relay

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxFrameSize = 4096
)

// Conn is one live websocket connection as seen by the server. Outbound
// frames go through a buffered send queue drained by writePump; a full
// queue drops the frame rather than blocking the relay.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed int32
}

func NewConn(ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Conn) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
	}
}

func (c *Conn) enqueue(payload []byte) {
	if c.isClosed() {
		return
	}
	select {
	case c.send <- payload:
	default:
		slog.Warn("Send queue full, dropping frame", "connID", c.id)
	}
}

// readPump reads frames and hands each to the router in arrival order.
// One frame is handled to completion before the next is read, so frames
// from a single connection are never processed concurrently.
func (c *Conn) readPump(router *Router) {
	defer func() {
		router.Disconnect(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "connID", c.id, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "connID", c.id, "error", err)
			}
			return
		}
		router.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("Error writing frame", "connID", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
