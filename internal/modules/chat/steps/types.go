package steps

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeChatRespond     = "chat_respond"
	EntityTypeConversation = "conversation"

	DefaultHistoryLimit    = 10
	DefaultMaxMessageChars = 2000
	DefaultGenerateTimeout = 150 * time.Second

	// ApologyMessage is the assistant reply persisted when inference fails.
	ApologyMessage = "Sorry, something went wrong while processing your message. Please try again."
)

// InferenceObserver receives one observation per generate call.
type InferenceObserver interface {
	ObserveInference(model string, ok bool, dur time.Duration)
}

func conversationLockKey(id uuid.UUID) string { return "conversation:" + id.String() }

func sessionLockKey(chatbotID uuid.UUID, sessionID string) string {
	return "session:" + chatbotID.String() + ":" + sessionID
}

func nowUTC() time.Time { return time.Now().UTC() }
