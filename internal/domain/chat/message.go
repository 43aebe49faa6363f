package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// Message is append-only: created by ingest (user) or the responder (assistant) and
// never updated afterwards.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_message_conversation_seq,unique,priority:1" json:"conversation_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_message_conversation_seq,unique,priority:2" json:"seq"`

	Role     string         `gorm:"column:role;not null;index" json:"role"`
	Content  string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	TokensUsed     *int     `gorm:"column:tokens_used" json:"tokens_used,omitempty"`
	ProcessingTime *float64 `gorm:"column:processing_time" json:"processing_time,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Message) TableName() string { return "message" }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if len(m.Metadata) == 0 {
		m.Metadata = datatypes.JSON([]byte(`{}`))
	}
	return nil
}

// IsError reports whether the message is a synthesized failure reply.
func (m *Message) IsError() bool {
	if m == nil || len(m.Metadata) == 0 {
		return false
	}
	var meta struct {
		Error bool `json:"error"`
	}
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		return false
	}
	return meta.Error
}
