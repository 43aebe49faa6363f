package chat_respond

import (
	"github.com/yungbote/widgetchat-backend/internal/modules/chat/steps"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"

	chatmod "github.com/yungbote/widgetchat-backend/internal/modules/chat"
)

type Pipeline struct {
	log  *logger.Logger
	chat chatmod.Usecases
}

func New(baseLog *logger.Logger, chat chatmod.Usecases) *Pipeline {
	log := baseLog.With("job", steps.JobTypeChatRespond)
	return &Pipeline{
		log:  log,
		chat: chat.WithLog(log),
	}
}

func (p *Pipeline) Type() string { return steps.JobTypeChatRespond }
