package realtime

import "encoding/json"

type roleCarrier interface {
	MessageRole() string
}

// AssistantOnly is the default widget subscriber policy: only assistant messages
// update the chat UI. Publishers send every message; filtering happens here.
func AssistantOnly(msg SSEMessage) bool {
	return MessageRole(msg.Data) == "assistant"
}

// MessageRole extracts message.role from a typed payload, a decoded JSON map, or raw JSON.
func MessageRole(data any) string {
	switch v := data.(type) {
	case roleCarrier:
		return v.MessageRole()
	case map[string]any:
		if m, ok := v["message"].(map[string]any); ok {
			if role, ok := m["role"].(string); ok {
				return role
			}
		}
	case json.RawMessage:
		return roleFromJSON(v)
	case []byte:
		return roleFromJSON(v)
	}
	return ""
}

func roleFromJSON(raw []byte) string {
	var probe struct {
		Message struct {
			Role string `json:"role"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Message.Role
}
