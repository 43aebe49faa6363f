package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MessageEvent is the payload of realtime message events and of cached poll responses.
type MessageEvent struct {
	Message      MessageView     `json:"message"`
	Conversation ConversationRef `json:"conversation"`
}

type MessageView struct {
	ID        uuid.UUID      `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
}

type ConversationRef struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
}

func NewMessageEvent(conv *Conversation, msg *Message) MessageEvent {
	ev := MessageEvent{}
	if msg != nil {
		ev.Message = MessageView{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
			Metadata:  msg.Metadata,
		}
	}
	if conv != nil {
		ev.Conversation = ConversationRef{ID: conv.ID, SessionID: conv.SessionID}
	}
	return ev
}

func (e MessageEvent) MessageRole() string { return e.Message.Role }
