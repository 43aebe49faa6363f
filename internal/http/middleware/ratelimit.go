package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

// NewRateLimitStore returns a redis-backed store when rdb is set so limits hold
// across API instances, else a process-local one.
func NewRateLimitStore(rdb *goredis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "widgetchat:ratelimit"
	}
	if rdb == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix}), nil
	}
	return sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// RateLimit limits requests per client IP and widget. rate uses limiter's
// "<n>-<S|M|H|D>" format, e.g. "5-M".
func RateLimit(log *logger.Logger, store limiter.Store, rate string) (gin.HandlerFunc, error) {
	r, err := limiter.NewRateFromFormatted(strings.TrimSpace(rate))
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	instance := limiter.New(store, r)
	return mgin.NewMiddleware(instance,
		mgin.WithKeyGetter(func(c *gin.Context) string {
			return c.ClientIP() + "|" + c.Param("widget_id")
		}),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"message": "too many messages, slow down", "code": apierr.CodeRateLimited},
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// Fail open: a broken limiter store must not take the widget down.
			if log != nil {
				log.Warn("rate limiter unavailable", "error", err)
			}
			c.Next()
		}),
	), nil
}
