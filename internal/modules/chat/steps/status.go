package steps

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/services"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

type StatusDeps struct {
	Log           *logger.Logger
	Chatbots      repos.ChatbotRepo
	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo
	Tracker       *statuscache.Tracker
	// Jobs, when set, lets the store fallback tell a failed job from a queued one.
	Jobs          services.JobService
}

type StatusInput struct {
	// TenantID, when set, requires ChatbotID to belong to that tenant.
	TenantID uuid.UUID
	// ChatbotID narrows the store fallback; uuid.Nil matches any chatbot.
	ChatbotID uuid.UUID
	SessionID string
}

type StatusOutput struct {
	Status         statuscache.Status `json:"status"`
	ConversationID *uuid.UUID         `json:"conversation_id,omitempty"`
	MessageID      *uuid.UUID         `json:"message_id,omitempty"`
	Response       json.RawMessage    `json:"response,omitempty"`
	UpdatedAt      *time.Time         `json:"updated_at,omitempty"`
	Source         string             `json:"source"`
}

// Status answers a poll. The cache is read first; on a miss the answer is
// rebuilt from the last persisted message of the session's latest conversation.
func Status(ctx context.Context, deps StatusDeps, in StatusInput) (StatusOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return StatusOutput{}, apierr.Validation("session_id is required")
	}
	if in.TenantID != uuid.Nil {
		if in.ChatbotID == uuid.Nil {
			return StatusOutput{}, apierr.Validation("chatbot_id is required")
		}
		if _, err := resolveChatbot(dbctx.Context{Ctx: ctx}, deps.Chatbots, IngestInput{TenantID: in.TenantID, ChatbotID: in.ChatbotID}); err != nil {
			return StatusOutput{}, err
		}
	}

	entry, err := deps.Tracker.Lookup(ctx, sessionID)
	if err != nil && deps.Log != nil {
		deps.Log.Warn("status cache read failed, using store", "session_id", sessionID, "error", err)
	}
	if err == nil && entry != nil && in.ChatbotID != uuid.Nil && entry.ConversationID != uuid.Nil {
		owner, gerr := deps.Conversations.GetByID(dbctx.Context{Ctx: ctx}, entry.ConversationID)
		if gerr != nil {
			return StatusOutput{}, gerr
		}
		// Same session id under another chatbot; answer from this chatbot's store.
		if owner == nil || owner.ChatbotID != in.ChatbotID {
			entry = nil
		}
	}
	if err == nil && entry != nil && entry.Status.Terminal() && entry.MessageID != uuid.Nil {
		stale, serr := supersededReply(dbctx.Context{Ctx: ctx}, deps.Messages, entry.MessageID)
		if serr != nil {
			return StatusOutput{}, serr
		}
		if stale {
			entry = nil
		}
	}
	if err == nil && entry != nil {
		out := StatusOutput{Status: entry.Status, Response: entry.Response, Source: "cache"}
		if entry.ConversationID != uuid.Nil {
			id := entry.ConversationID
			out.ConversationID = &id
		}
		if entry.MessageID != uuid.Nil {
			id := entry.MessageID
			out.MessageID = &id
		}
		if !entry.UpdatedAt.IsZero() {
			at := entry.UpdatedAt
			out.UpdatedAt = &at
		}
		return out, nil
	}

	dbc := dbctx.Context{Ctx: ctx}
	conv, err := deps.Conversations.LatestForSession(dbc, in.ChatbotID, sessionID)
	if err != nil {
		return StatusOutput{}, err
	}
	if conv == nil {
		return StatusOutput{Status: statuscache.StatusIdle, Source: "store"}, nil
	}
	convID := conv.ID
	out := StatusOutput{Status: statuscache.StatusIdle, ConversationID: &convID, Source: "store"}

	last, err := deps.Messages.Latest(dbc, conv.ID)
	if err != nil {
		return StatusOutput{}, err
	}
	if last == nil {
		return out, nil
	}
	msgID := last.ID
	at := last.CreatedAt
	out.MessageID = &msgID
	out.UpdatedAt = &at

	switch last.Role {
	case types.RoleUser:
		out.Status = statuscache.StatusQueued
		if deps.Jobs != nil {
			job, err := deps.Jobs.GetLatestForEntity(dbc, conv.TenantID, EntityTypeConversation, conv.ID, JobTypeChatRespond)
			if err != nil {
				return StatusOutput{}, err
			}
			if job != nil && job.EntitySeq >= last.Seq {
				switch job.Status {
				case types.JobStatusRunning:
					out.Status = statuscache.StatusProcessing
				case types.JobStatusFailed:
					// The job ended without persisting a reply.
					out.Status = statuscache.StatusFailed
				}
			}
		}
	case types.RoleAssistant:
		out.Status = statuscache.StatusCompleted
		if last.IsError() {
			out.Status = statuscache.StatusFailed
		}
		raw, err := json.Marshal(types.NewMessageEvent(conv, last))
		if err != nil {
			return StatusOutput{}, err
		}
		out.Response = raw
	}
	return out, nil
}

// supersededReply reports whether a user message was submitted after the reply.
func supersededReply(dbc dbctx.Context, messages repos.MessageRepo, replyID uuid.UUID) (bool, error) {
	reply, err := messages.GetByID(dbc, replyID)
	if err != nil || reply == nil {
		return false, err
	}
	return messages.ExistsAfter(dbc, reply.ConversationID, reply.Seq, types.RoleUser)
}
