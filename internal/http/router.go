package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	"github.com/saker-ai/chatkit-server/internal/render"
	"github.com/saker-ai/chatkit-server/internal/roster"
	"github.com/saker-ai/chatkit-server/internal/store"
	"github.com/saker-ai/chatkit-server/internal/ws"
)

// Services are the components the REST handlers use.
type Services struct {
	WS       *ws.Handler
	Store    *store.Store
	Renderer *render.Renderer
	Users    *roster.Roster
}

// NewRouter builds the gin engine serving the WebSocket endpoint and the
// REST API.
func NewRouter(cfg appconfig.Config, svc Services, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws", func(c *gin.Context) {
		svc.WS.Handle(c.Writer, c.Request)
	})

	api := &api{cfg: cfg, svc: svc, logger: logger}
	v1 := router.Group("/api/v1")
	v1.POST("/tokenize", api.tokenize)
	v1.POST("/waveform/resample", api.resampleWaveform)
	v1.POST("/waveform/pcm", api.pcmWaveform)
	v1.GET("/users", api.listUsers)
	v1.GET("/channels", api.listChannels)
	v1.GET("/channels/:channel/messages", api.listMessages)
	v1.POST("/channels/:channel/messages", api.postMessage)
	v1.DELETE("/channels/:channel/messages/:id", api.deleteMessage)
	v1.GET("/recordings/:id", api.getRecording)

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
