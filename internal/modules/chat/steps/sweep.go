package steps

import (
	"context"
	"time"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type SweepDeps struct {
	Log           *logger.Logger
	Conversations repos.ConversationRepo
}

type SweepInput struct {
	IdleFor   time.Duration
	BatchSize int
}

// SweepIdle deactivates conversations with no activity for IdleFor, batch by batch.
func SweepIdle(ctx context.Context, deps SweepDeps, in SweepInput) (int64, error) {
	if in.IdleFor <= 0 {
		in.IdleFor = 24 * time.Hour
	}
	if in.BatchSize <= 0 {
		in.BatchSize = 500
	}
	cutoff := nowUTC().Add(-in.IdleFor)
	var total int64
	for ctx.Err() == nil {
		n, err := deps.Conversations.DeactivateIdle(dbctx.Context{Ctx: ctx}, cutoff, in.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(in.BatchSize) {
			break
		}
	}
	if total > 0 && deps.Log != nil {
		deps.Log.Info("Deactivated idle conversations", "count", total, "cutoff", cutoff)
	}
	return total, ctx.Err()
}
