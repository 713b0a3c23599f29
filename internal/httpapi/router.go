// Package httpapi wires the gin HTTP surface: session creation, health,
// metrics, and the websocket upgrade that carries the streaming envelope
// protocol (spec §6).
//
// Grounded on backend/main.go's setupRouter (gin.New + Logger/Recovery
// middleware, /health) and
// internal/agents/websocket.go's upgrader/CheckOrigin pattern.
package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentforge/core/internal/metrics"
	"github.com/agentforge/core/internal/session"
)

// NewRouter builds the gin.Engine exposing the runtime's HTTP surface.
func NewRouter(manager *session.Manager, environment string) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(environment))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   "agentforge-core",
			"timestamp": time.Now().UTC(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	sessions := NewSessionHandler(manager, environment)
	router.POST("/session", sessions.Create)
	router.GET("/ws/:sessionId", sessions.HandleWebSocket)

	return router
}

// corsMiddleware mirrors main.go's allow-listed-origins pattern, generalized
// to the env-configured allowlist internal/agents/websocket.go's upgrader
// already uses for the websocket path.
func corsMiddleware(environment string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if originAllowed(origin, environment) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin, environment string) bool {
	if origin == "" {
		return false
	}
	if allowed := os.Getenv("CORS_ALLOWED_ORIGINS"); allowed != "" {
		for _, a := range strings.Split(allowed, ",") {
			if strings.TrimSpace(a) == origin {
				return true
			}
		}
		return false
	}
	return environment != "production"
}
