package bus

import (
	"context"

	"github.com/yungbote/widgetchat-backend/internal/realtime"
)

// Bus relays realtime messages between processes so a reply produced by a worker
// reaches the API instance holding the subscriber's connection.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
