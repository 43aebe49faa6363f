package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

const DefaultTTL = 300 * time.Second

func StatusKey(sessionID string) string   { return "conversation_status_" + sessionID }
func ResponseKey(sessionID string) string { return "chat_response_" + sessionID }

type Entry struct {
	Status         Status          `json:"status"`
	ConversationID uuid.UUID       `json:"conversation_id,omitempty"`
	MessageID      uuid.UUID       `json:"message_id,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Response       json.RawMessage `json:"response,omitempty"`
}

// Tracker writes the poll projection for a session. The store is never
// authoritative; every method is safe to call when the backing store is down,
// failures are returned for logging only.
type Tracker struct {
	store Store
	ttl   time.Duration
	log   *logger.Logger
}

func NewTracker(store Store, ttl time.Duration, baseLog *logger.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{store: store, ttl: ttl, log: baseLog.With("component", "StatusTracker")}
}

func (t *Tracker) TTL() time.Duration { return t.ttl }

// MarkProcessing supersedes any cached reply of a previous turn.
func (t *Tracker) MarkProcessing(ctx context.Context, sessionID string, conversationID, messageID uuid.UUID) error {
	if t == nil || t.store == nil || sessionID == "" {
		return nil
	}
	if _, err := t.store.Del(ctx, ResponseKey(sessionID)); err != nil {
		return err
	}
	return t.setEntry(ctx, sessionID, Entry{
		Status:         StatusProcessing,
		ConversationID: conversationID,
		MessageID:      messageID,
		UpdatedAt:      time.Now().UTC(),
	})
}

func (t *Tracker) MarkCompleted(ctx context.Context, sessionID string, conversationID, messageID uuid.UUID, response any) error {
	return t.markTerminal(ctx, StatusCompleted, sessionID, conversationID, messageID, response)
}

func (t *Tracker) MarkFailed(ctx context.Context, sessionID string, conversationID, messageID uuid.UUID, response any) error {
	return t.markTerminal(ctx, StatusFailed, sessionID, conversationID, messageID, response)
}

func (t *Tracker) markTerminal(ctx context.Context, status Status, sessionID string, conversationID, messageID uuid.UUID, response any) error {
	if t == nil || t.store == nil || sessionID == "" {
		return nil
	}
	if response != nil {
		raw, err := json.Marshal(response)
		if err != nil {
			return err
		}
		if err := t.store.Set(ctx, ResponseKey(sessionID), string(raw), t.ttl); err != nil {
			return err
		}
	}
	return t.setEntry(ctx, sessionID, Entry{
		Status:         status,
		ConversationID: conversationID,
		MessageID:      messageID,
		UpdatedAt:      time.Now().UTC(),
	})
}

// Lookup returns nil on a cache miss. Entries are not consumed by reading.
func (t *Tracker) Lookup(ctx context.Context, sessionID string) (*Entry, error) {
	if t == nil || t.store == nil || sessionID == "" {
		return nil, nil
	}
	raw, err := t.store.Get(ctx, StatusKey(sessionID))
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.log.Warn("Discarding unreadable status entry", "session_id", sessionID, "error", err)
		return nil, nil
	}
	if e.Status.Terminal() {
		resp, err := t.store.Get(ctx, ResponseKey(sessionID))
		switch {
		case err == nil:
			e.Response = json.RawMessage(resp)
		case errors.Is(err, ErrMiss):
		default:
			return nil, err
		}
	}
	return &e, nil
}

func (t *Tracker) Clear(ctx context.Context, sessionID string) error {
	if t == nil || t.store == nil || sessionID == "" {
		return nil
	}
	_, err := t.store.Del(ctx, StatusKey(sessionID), ResponseKey(sessionID))
	return err
}

func (t *Tracker) setEntry(ctx context.Context, sessionID string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, StatusKey(sessionID), string(raw), t.ttl)
}
