package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ChatbotID uuid.UUID `gorm:"type:uuid;not null;index:idx_conversation_bot_session,priority:1" json:"chatbot_id"`

	// SessionID is the opaque client key; at most one active conversation per
	// (chatbot, session) is addressed by new messages.
	SessionID      string `gorm:"column:session_id;not null;index;index:idx_conversation_bot_session,priority:2" json:"session_id"`
	UserIdentifier string `gorm:"column:user_identifier;not null;default:''" json:"user_identifier,omitempty"`
	IsActive       bool   `gorm:"column:is_active;not null;default:true;index" json:"is_active"`

	// NextSeq allocates Message.Seq; bumped in the same transaction as the insert.
	NextSeq      int64     `gorm:"column:next_seq;not null;default:0" json:"next_seq"`
	MessageCount int64     `gorm:"column:message_count;not null;default:0" json:"message_count"`
	LastActivity time.Time `gorm:"column:last_activity;not null;index" json:"last_activity"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Conversation) TableName() string { return "conversation" }

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.LastActivity.IsZero() {
		c.LastActivity = time.Now().UTC()
	}
	return nil
}
