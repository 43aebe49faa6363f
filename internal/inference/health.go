package inference

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

const HealthCacheKey = "inference_health_status"

type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Cached    bool      `json:"-"`
}

// HealthProbe remembers the last probe result so readiness checks do not hit the
// model server on every request.
type HealthProbe struct {
	engine client.Engine
	store  statuscache.Store
	ttl    time.Duration
	log    *logger.Logger
}

func NewHealthProbe(engine client.Engine, store statuscache.Store, ttl time.Duration, baseLog *logger.Logger) *HealthProbe {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HealthProbe{
		engine: engine,
		store:  store,
		ttl:    ttl,
		log:    baseLog.With("component", "InferenceHealthProbe"),
	}
}

func (p *HealthProbe) Check(ctx context.Context) HealthStatus {
	if p.store != nil {
		raw, err := p.store.Get(ctx, HealthCacheKey)
		if err == nil {
			var st HealthStatus
			if json.Unmarshal([]byte(raw), &st) == nil {
				st.Cached = true
				return st
			}
		} else if !errors.Is(err, statuscache.ErrMiss) {
			p.log.Warn("Health cache read failed", "error", err)
		}
	}
	return p.Refresh(ctx)
}

// Refresh probes the engine and overwrites the cached result.
func (p *HealthProbe) Refresh(ctx context.Context) HealthStatus {
	st := HealthStatus{
		Healthy:   p.engine != nil && p.engine.Health(ctx),
		CheckedAt: time.Now().UTC(),
	}
	if !st.Healthy {
		p.log.Warn("Inference server unhealthy")
	}
	if p.store != nil {
		raw, _ := json.Marshal(st)
		if err := p.store.Set(ctx, HealthCacheKey, string(raw), p.ttl); err != nil {
			p.log.Warn("Health cache write failed", "error", err)
		}
	}
	return st
}
