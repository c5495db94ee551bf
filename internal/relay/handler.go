package relay

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the deployment proxy.
		return true
	},
}

// ServeWS upgrades the request and attaches the connection to the relay.
// The connection is tracked immediately; its identity stays unbound until
// an identify frame arrives.
func ServeWS(router *Router, registry *Registry, queueSize int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("WebSocket upgrade failed", "error", err)
			return
		}

		conn := NewConn(ws, queueSize)
		registry.Add(conn)
		slog.Info("New client connected", "connID", conn.ID())

		go conn.writePump()
		go conn.readPump(router)
	}
}
