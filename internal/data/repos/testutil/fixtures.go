package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedTenant(tb testing.TB, ctx context.Context, tx *gorm.DB, quota int) *types.Tenant {
	tb.Helper()
	t := &types.Tenant{
		ID:           uuid.New(),
		Name:         "Acme",
		Slug:         "acme-" + uuid.NewString()[:8],
		Status:       "active",
		MessageQuota: quota,
		Settings:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed tenant: %v", err)
	}
	return t
}

func SeedChatbot(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, systemPrompt string) *types.Chatbot {
	tb.Helper()
	b := &types.Chatbot{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Name:         "Support",
		ModelName:    "llama3",
		SystemPrompt: systemPrompt,
		Status:       "active",
		IsPublic:     true,
		Settings:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed chatbot: %v", err)
	}
	return b
}

func SeedConversation(tb testing.TB, ctx context.Context, tx *gorm.DB, bot *types.Chatbot, sessionID string) *types.Conversation {
	tb.Helper()
	c := &types.Conversation{
		ID:           uuid.New(),
		TenantID:     bot.TenantID,
		ChatbotID:    bot.ID,
		SessionID:    sessionID,
		IsActive:     true,
		LastActivity: time.Now().UTC(),
		Metadata:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed conversation: %v", err)
	}
	return c
}

// SeedMessage appends a message and advances the conversation's sequence counter.
func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, conv *types.Conversation, role, content string) *types.Message {
	tb.Helper()
	conv.NextSeq++
	if err := tx.WithContext(ctx).Model(&types.Conversation{}).
		Where("id = ?", conv.ID).
		Update("next_seq", conv.NextSeq).Error; err != nil {
		tb.Fatalf("bump seq: %v", err)
	}
	m := &types.Message{
		ID:             uuid.New(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Seq:            conv.NextSeq,
		Role:           role,
		Content:        content,
		Metadata:       datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
