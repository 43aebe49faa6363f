package services

import (
	"context"

	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
	"github.com/yungbote/widgetchat-backend/internal/realtime/bus"
)

type SSEEmitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

// HubEmitter broadcasts into the local hub only.
type HubEmitter struct {
	Hub *realtime.SSEHub
	// Undelivered, if set, is called when nobody was subscribed to the channel.
	Undelivered func()
}

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	if e == nil || e.Hub == nil {
		return
	}
	if e.Undelivered != nil && e.Hub.Subscribers(msg.Channel) == 0 {
		e.Undelivered()
	}
	e.Hub.Broadcast(msg)
}

// RedisEmitter publishes on the bus; every API instance's forwarder delivers
// into its own hub.
type RedisEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *RedisEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	if e == nil || e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
		e.Log.Warn("realtime publish failed", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
}
