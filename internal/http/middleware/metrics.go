package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/widgetchat-backend/internal/observability"
)

// Metrics records request counts and latency. Streaming routes are counted but
// kept out of the in-flight gauge and latency histogram.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		if route == "/metrics" {
			c.Next()
			return
		}
		streaming := strings.Contains(route, "/stream/") || strings.Contains(route, "/ws/")

		start := time.Now()
		if !streaming {
			m.ApiInflightInc()
			defer m.ApiInflightDec()
		}

		c.Next()

		dur := time.Since(start)
		if streaming {
			dur = 0
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), dur)
	}
}
