package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	httpx "github.com/yungbote/widgetchat-backend/internal/http"
	httpH "github.com/yungbote/widgetchat-backend/internal/http/handlers"
	httpMW "github.com/yungbote/widgetchat-backend/internal/http/middleware"
	"github.com/yungbote/widgetchat-backend/internal/observability"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
)

type Middleware struct {
	Auth            *httpMW.AuthMiddleware
	PublicRateLimit gin.HandlerFunc
}

type Handlers struct {
	Health     *httpH.HealthHandler
	Chat       *httpH.ChatHandler
	PublicChat *httpH.PublicChatHandler
}

func wireMiddleware(log *logger.Logger, cfg Config, rdb *goredis.Client) (Middleware, error) {
	log.Info("Wiring middleware...")
	if cfg.HTTP.JWTSecretKey == "" {
		log.Warn("JWT_SECRET_KEY not set; tenant API will reject every request")
	}
	var limitRedis *goredis.Client
	if cfg.HTTP.RateLimitStore == "redis" {
		limitRedis = rdb
	}
	store, err := httpMW.NewRateLimitStore(limitRedis, "widgetchat:ratelimit")
	if err != nil {
		return Middleware{}, fmt.Errorf("init rate limit store: %w", err)
	}
	limit, err := httpMW.RateLimit(log, store, cfg.HTTP.PublicRateLimit)
	if err != nil {
		return Middleware{}, err
	}
	return Middleware{
		Auth:            httpMW.NewAuthMiddleware(log, cfg.HTTP.JWTSecretKey),
		PublicRateLimit: limit,
	}, nil
}

func wireHandlers(log *logger.Logger, db *gorm.DB, rdb *goredis.Client, services Services, hub *realtime.SSEHub, metrics *observability.Metrics) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(db, rdb, services.Health),
		Chat:       httpH.NewChatHandler(services.Chat, metrics),
		PublicChat: httpH.NewPublicChatHandler(log, services.Chat, hub, nil, metrics),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *httpx.Server {
	serviceName := ""
	if cfg.Telemetry.OtelEnabled {
		serviceName = cfg.Telemetry.ServiceName
	}
	return httpx.NewServer(httpx.RouterConfig{
		Log:               log,
		ServiceName:       serviceName,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		AuthMiddleware:    middleware.Auth,
		PublicRateLimit:   middleware.PublicRateLimit,
		Metrics:           metrics,
		ChatHandler:       handlers.Chat,
		PublicChatHandler: handlers.PublicChat,
		HealthHandler:     handlers.Health,
	})
}
