package realtime

import "strings"

type SSEEvent string

const (
	// SSEEventMessageSent carries an assistant reply (model output or apology).
	SSEEventMessageSent SSEEvent = "MessageSent"
	// SSEEventMessageReceived acknowledges a stored user message.
	SSEEventMessageReceived SSEEvent = "MessageReceived"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

const sessionChannelPrefix = "conversation."

// SessionChannel is the one channel per widget session. Conversations that are
// re-created for the same session keep publishing here.
func SessionChannel(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ""
	}
	return sessionChannelPrefix + sessionID
}
