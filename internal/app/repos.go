package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type Repos struct {
	Tenant       repos.TenantRepo
	Chatbot      repos.ChatbotRepo
	Conversation repos.ConversationRepo
	Message      repos.MessageRepo
	JobRun       repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Tenant:       repos.NewTenantRepo(db, log),
		Chatbot:      repos.NewChatbotRepo(db, log),
		Conversation: repos.NewConversationRepo(db, log),
		Message:      repos.NewMessageRepo(db, log),
		JobRun:       repos.NewJobRunRepo(db, log),
	}
}
