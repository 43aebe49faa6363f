package chatbot

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

const DefaultModel = "qwen2.5-coder:latest"

type Chatbot struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description;type:text;not null;default:''" json:"description"`

	// WidgetID is assigned once at creation and routes public widget traffic.
	WidgetID string `gorm:"column:widget_id;not null;uniqueIndex" json:"widget_id"`

	ModelName    string         `gorm:"column:model_name;not null" json:"model_name"`
	SystemPrompt string         `gorm:"column:system_prompt;type:text;not null;default:''" json:"system_prompt,omitempty"`
	Settings     datatypes.JSON `gorm:"type:jsonb;column:settings;not null;default:'{}'" json:"settings,omitempty"`

	Status   string `gorm:"column:status;not null;default:'active';index" json:"status"`
	IsPublic bool   `gorm:"column:is_public;not null;default:true" json:"is_public"`

	TotalConversations int64      `gorm:"column:total_conversations;not null;default:0" json:"total_conversations"`
	TotalMessages      int64      `gorm:"column:total_messages;not null;default:0" json:"total_messages"`
	LastActivity       *time.Time `gorm:"column:last_activity;index" json:"last_activity,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Chatbot) TableName() string { return "chatbot" }

func (c *Chatbot) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.WidgetID == "" {
		id, err := NewWidgetID()
		if err != nil {
			return err
		}
		c.WidgetID = id
	}
	if c.ModelName == "" {
		c.ModelName = DefaultModel
	}
	return nil
}

// Model returns the configured model or the platform default.
func (c *Chatbot) Model() string {
	if c == nil || c.ModelName == "" {
		return DefaultModel
	}
	return c.ModelName
}

// GenerationOptions decodes Settings["options"], falling back to the whole settings
// object when no nested options key exists.
func (c *Chatbot) GenerationOptions() map[string]any {
	out := map[string]any{}
	if c == nil || len(c.Settings) == 0 {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal(c.Settings, &raw); err != nil {
		return out
	}
	if nested, ok := raw["options"].(map[string]any); ok {
		return nested
	}
	return raw
}

const widgetAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewWidgetID returns "widget_" followed by 16 random alphanumerics.
func NewWidgetID() (string, error) {
	buf := make([]byte, 16)
	max := big.NewInt(int64(len(widgetAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = widgetAlphabet[n.Int64()]
	}
	return "widget_" + string(buf), nil
}
