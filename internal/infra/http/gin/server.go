package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"github.com/cedromirror/talkcart-web-sub008/internal/infra/config"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/obs"
)

type Handlers struct {
	Conversations  ConversationHTTP
	Messages       MessageHTTP
	AuthMiddleware gin.HandlerFunc
	RateLimit      gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine; tests drive it through httptest directly.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", idempotencyHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/metrics", health.MetricsHandler())

	api := router.Group("/api/v1")
	if h.RateLimit != nil {
		api.Use(h.RateLimit)
	}
	if h.Conversations != nil {
		convGroup := api.Group("/conversations")
		convGroup.POST("", h.Conversations.Start)
		convGroup.GET("", h.Conversations.List)
		convGroup.GET("/:id", h.Conversations.Get)
		convGroup.PATCH("/:id", h.Conversations.UpdateFlags)
		convGroup.DELETE("/:id", h.Conversations.Close)
		convGroup.PUT("/:id/resolve", h.Conversations.Resolve)
		convGroup.PUT("/:id/reopen", h.Conversations.Reopen)
		convGroup.POST("/:id/read", h.Conversations.MarkRead)
	}
	if h.Messages != nil {
		convGroup := api.Group("/conversations/:id")
		convGroup.GET("/messages", h.Messages.ListMessages)
		convGroup.POST("/messages", h.Messages.SendMessage)
		convGroup.PUT("/messages/:messageId", h.Messages.EditMessage)
		convGroup.DELETE("/messages/:messageId", h.Messages.DeleteMessage)
		convGroup.POST("/messages/:messageId/reply", h.Messages.Reply)
		convGroup.POST("/attachments", h.Messages.UploadAttachment)

		msgGroup := api.Group("/messages")
		msgGroup.POST("/:id/reactions", h.Messages.React)
		msgGroup.POST("/:id/forward", h.Messages.Forward)
	}

	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
