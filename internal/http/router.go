package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/widgetchat-backend/internal/http/handlers"
	httpMW "github.com/yungbote/widgetchat-backend/internal/http/middleware"
	"github.com/yungbote/widgetchat-backend/internal/observability"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	AuthMiddleware  *httpMW.AuthMiddleware
	PublicRateLimit gin.HandlerFunc
	Metrics         *observability.Metrics

	ChatHandler       *httpH.ChatHandler
	PublicChatHandler *httpH.PublicChatHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	if cfg.Metrics != nil {
		r.Use(httpMW.Metrics(cfg.Metrics))
	}
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Ops
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")

	// Widget (public)
	if cfg.PublicChatHandler != nil {
		pub := api.Group("/public/chat/:widget_id")
		submit := []gin.HandlerFunc{}
		if cfg.PublicRateLimit != nil {
			submit = append(submit, cfg.PublicRateLimit)
		}
		submit = append(submit, cfg.PublicChatHandler.SendMessage)
		pub.POST("", submit...)
		pub.GET("/response/:session_id", cfg.PublicChatHandler.Response)
		pub.GET("/history/:session_id", cfg.PublicChatHandler.History)
		pub.POST("/end/:session_id", cfg.PublicChatHandler.EndSession)
		pub.GET("/info", cfg.PublicChatHandler.Info)
		pub.GET("/stream/:session_id", cfg.PublicChatHandler.Stream)
		pub.GET("/ws/:session_id", cfg.PublicChatHandler.WebSocket)
	}

	// Tenant API
	if cfg.ChatHandler != nil {
		protected := api.Group("/chat")
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireTenant())
		}
		protected.POST("/message", cfg.ChatHandler.SendMessage)
		protected.GET("/status", cfg.ChatHandler.Status)
		protected.GET("/conversations/:id/messages", cfg.ChatHandler.ListMessages)
	}

	return r
}
