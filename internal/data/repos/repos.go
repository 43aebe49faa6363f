package repos

import (
	"github.com/yungbote/widgetchat-backend/internal/data/repos/chat"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/chatbot"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/jobs"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/tenant"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type TenantRepo = tenant.TenantRepo
type ChatbotRepo = chatbot.ChatbotRepo
type ConversationRepo = chat.ConversationRepo
type MessageRepo = chat.MessageRepo
type JobRunRepo = jobs.JobRunRepo

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return tenant.NewTenantRepo(db, baseLog)
}
func NewChatbotRepo(db *gorm.DB, baseLog *logger.Logger) ChatbotRepo {
	return chatbot.NewChatbotRepo(db, baseLog)
}
func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return chat.NewConversationRepo(db, baseLog)
}
func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return chat.NewMessageRepo(db, baseLog)
}
func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
