package steps

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

type SessionDeps struct {
	Log           *logger.Logger
	Chatbots      repos.ChatbotRepo
	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo
	Tracker       *statuscache.Tracker
}

type HistoryInput struct {
	TenantID       uuid.UUID
	ChatbotID      uuid.UUID
	ConversationID uuid.UUID
	SessionID      string
	AfterSeq       int64
	Limit          int
}

type HistoryOutput struct {
	Conversation *types.Conversation `json:"conversation,omitempty"`
	Messages     []*types.Message    `json:"messages"`
}

// History lists messages of a conversation, addressed either by id (tenant API)
// or by the session's latest conversation (widget).
func History(ctx context.Context, deps SessionDeps, in HistoryInput) (HistoryOutput, error) {
	dbc := dbctx.Context{Ctx: ctx}
	var (
		conv *types.Conversation
		err  error
	)
	switch {
	case in.ConversationID != uuid.Nil:
		conv, err = deps.Conversations.GetByID(dbc, in.ConversationID)
		if err == nil && conv != nil && in.TenantID != uuid.Nil && conv.TenantID != in.TenantID {
			conv = nil
		}
		if err == nil && conv == nil {
			return HistoryOutput{}, apierr.NotFound("conversation")
		}
	case strings.TrimSpace(in.SessionID) != "":
		conv, err = deps.Conversations.LatestForSession(dbc, in.ChatbotID, strings.TrimSpace(in.SessionID))
	default:
		return HistoryOutput{}, apierr.Validation("session_id is required")
	}
	if err != nil {
		return HistoryOutput{}, err
	}
	if conv == nil {
		return HistoryOutput{Messages: []*types.Message{}}, nil
	}
	msgs, err := deps.Messages.ListHistory(dbc, conv.ID, in.AfterSeq, in.Limit)
	if err != nil {
		return HistoryOutput{}, err
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	return HistoryOutput{Conversation: conv, Messages: msgs}, nil
}

type EndSessionInput struct {
	ChatbotID uuid.UUID
	SessionID string
}

// EndSession deactivates the session's active conversation and drops its cached
// status. The next message starts a new conversation.
func EndSession(ctx context.Context, deps SessionDeps, in EndSessionInput) (bool, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return false, apierr.Validation("session_id is required")
	}
	dbc := dbctx.Context{Ctx: ctx}
	conv, err := deps.Conversations.FindActive(dbc, in.ChatbotID, sessionID)
	if err != nil {
		return false, err
	}
	ended := false
	if conv != nil {
		if ended, err = deps.Conversations.Deactivate(dbc, conv.ID); err != nil {
			return false, err
		}
	}
	if err := deps.Tracker.Clear(ctx, sessionID); err != nil && deps.Log != nil {
		deps.Log.Warn("status cache clear failed", "session_id", sessionID, "error", err)
	}
	return ended, nil
}

type ChatbotInfo struct {
	ID          uuid.UUID `json:"id"`
	WidgetID    string    `json:"widget_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Model       string    `json:"model"`
}

// PublicChatbot resolves a widget id to its public profile.
func PublicChatbot(ctx context.Context, deps SessionDeps, widgetID string) (*types.Chatbot, ChatbotInfo, error) {
	bot, err := resolveChatbot(dbctx.Context{Ctx: ctx}, deps.Chatbots, IngestInput{WidgetID: widgetID})
	if err != nil {
		return nil, ChatbotInfo{}, err
	}
	return bot, ChatbotInfo{
		ID:          bot.ID,
		WidgetID:    bot.WidgetID,
		Name:        bot.Name,
		Description: bot.Description,
		Model:       bot.Model(),
	}, nil
}
