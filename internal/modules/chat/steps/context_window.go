package steps

import (
	"strings"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
)

// BuildContextWindow returns the system prompt (when set) followed by the newest
// limit user/assistant messages with seq <= triggerSeq, oldest first. Messages
// appended after the trigger are never included.
func BuildContextWindow(dbc dbctx.Context, messages repos.MessageRepo, bot *types.Chatbot, conv *types.Conversation, triggerSeq int64, limit int) ([]client.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	out := make([]client.Message, 0, limit+1)
	if bot != nil {
		if sp := strings.TrimSpace(bot.SystemPrompt); sp != "" {
			out = append(out, client.Message{Role: types.RoleSystem, Content: sp})
		}
	}
	if conv == nil {
		return out, nil
	}
	history, err := messages.ListContext(dbc, conv.ID, triggerSeq, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		if m == nil {
			continue
		}
		out = append(out, client.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}
