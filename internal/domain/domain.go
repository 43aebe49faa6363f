package domain

import (
	"github.com/yungbote/widgetchat-backend/internal/domain/chat"
	"github.com/yungbote/widgetchat-backend/internal/domain/chatbot"
	"github.com/yungbote/widgetchat-backend/internal/domain/jobs"
	"github.com/yungbote/widgetchat-backend/internal/domain/tenant"
)

type Tenant = tenant.Tenant
type Chatbot = chatbot.Chatbot

type Conversation = chat.Conversation
type Message = chat.Message
type MessageEvent = chat.MessageEvent

type JobRun = jobs.JobRun

var NewMessageEvent = chat.NewMessageEvent

const (
	RoleUser      = chat.RoleUser
	RoleAssistant = chat.RoleAssistant
	RoleSystem    = chat.RoleSystem
)

const (
	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusSucceeded = jobs.StatusSucceeded
	JobStatusFailed    = jobs.StatusFailed
)

// AllModels lists every persisted model in migration order.
func AllModels() []any {
	return []any{
		&Tenant{},
		&Chatbot{},
		&Conversation{},
		&Message{},
		&JobRun{},
	}
}
