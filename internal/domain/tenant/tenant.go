package tenant

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

type Tenant struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name   string    `gorm:"column:name;not null" json:"name"`
	Slug   string    `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Status string    `gorm:"column:status;not null;default:'active';index" json:"status"`

	// Monthly quota. MessagesUsed never exceeds MessageQuota; the counter is reset
	// lazily once BillingCycleStart is a month old.
	MessageQuota      int       `gorm:"column:message_quota;not null;default:1000" json:"message_quota"`
	MessagesUsed      int       `gorm:"column:messages_used;not null;default:0" json:"messages_used"`
	BillingCycleStart time.Time `gorm:"column:billing_cycle_start;not null;index" json:"billing_cycle_start"`
	MaxChatbots       int       `gorm:"column:max_chatbots;not null;default:3" json:"max_chatbots"`

	Settings datatypes.JSON `gorm:"type:jsonb;column:settings;not null;default:'{}'" json:"settings,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Tenant) TableName() string { return "tenant" }

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.BillingCycleStart.IsZero() {
		t.BillingCycleStart = time.Now().UTC()
	}
	return nil
}

// CycleResetDue reports whether the billing cycle has elapsed at now.
func (t *Tenant) CycleResetDue(now time.Time) bool {
	return !t.BillingCycleStart.AddDate(0, 1, 0).After(now)
}

// CanSendMessage applies the lazy reset before comparing usage against quota.
func (t *Tenant) CanSendMessage(now time.Time) bool {
	if t.Status == StatusSuspended {
		return false
	}
	if t.CycleResetDue(now) {
		return t.MessageQuota > 0
	}
	return t.MessagesUsed < t.MessageQuota
}
