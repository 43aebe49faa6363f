package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/inference"
)

type HealthHandler struct {
	db    *gorm.DB
	redis *goredis.Client
	probe *inference.HealthProbe
}

// NewHealthHandler accepts nil dependencies; readiness skips what is not wired.
func NewHealthHandler(db *gorm.DB, rdb *goredis.Client, probe *inference.HealthProbe) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, probe: probe}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /readyz
// The database and redis gate readiness. Inference health is reported but does
// not fail the check: replies degrade to the apology message instead.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "down"
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}
	if h.probe != nil {
		st := h.probe.Check(ctx)
		checks["inference"] = gin.H{"healthy": st.Healthy, "checked_at": st.CheckedAt}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}
