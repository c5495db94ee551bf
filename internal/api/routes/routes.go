package routes

import (
	"net/http"

	"relay-service/internal/relay"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine    *gin.Engine
	relay     *relay.Router
	registry  *relay.Registry
	queueSize int
}

func NewRouter(relayRouter *relay.Router, registry *relay.Registry, queueSize int) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Router{
		engine:    engine,
		relay:     relayRouter,
		registry:  registry,
		queueSize: queueSize,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.engine.GET("/ws", relay.ServeWS(r.relay, r.registry, r.queueSize))
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
