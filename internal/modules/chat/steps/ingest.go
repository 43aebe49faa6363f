package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	domainchatbot "github.com/yungbote/widgetchat-backend/internal/domain/chatbot"
	"github.com/yungbote/widgetchat-backend/internal/jobs/convlock"
	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/services"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

type IngestDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Tenants       repos.TenantRepo
	Chatbots      repos.ChatbotRepo
	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo

	Jobs    services.JobService
	Notify  services.ChatNotifier
	Tracker *statuscache.Tracker
	Locks   convlock.Locker

	MaxMessageChars int

	// OnDispatchError runs when a committed job could not be pushed to its consumer.
	OnDispatchError func(ctx context.Context, job *types.JobRun, err error)
}

type IngestInput struct {
	// TenantID scopes ChatbotID lookups on the authenticated API. Public traffic
	// routes by WidgetID instead.
	TenantID       uuid.UUID
	ChatbotID      uuid.UUID
	WidgetID       string
	ConversationID uuid.UUID
	SessionID      string
	Text           string

	IPAddress string
	UserAgent string
}

type IngestOutput struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	JobID          uuid.UUID `json:"-"`
}

// Ingest validates and persists one user message and queues its reply. It
// returns as soon as the job row is committed; inference runs elsewhere.
func Ingest(ctx context.Context, deps IngestDeps, in IngestInput) (IngestOutput, error) {
	out := IngestOutput{}
	if deps.DB == nil || deps.Log == nil || deps.Tenants == nil || deps.Chatbots == nil || deps.Conversations == nil || deps.Messages == nil || deps.Jobs == nil {
		return out, fmt.Errorf("chat ingest: missing deps")
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return out, apierr.Validation("message is required")
	}
	maxChars := deps.MaxMessageChars
	if maxChars <= 0 {
		maxChars = DefaultMaxMessageChars
	}
	if utf8.RuneCountInString(text) > maxChars {
		return out, apierr.Validation("message must be at most %d characters", maxChars)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return out, apierr.Validation("session_id is required")
	}

	bot, err := resolveChatbot(dbctx.Context{Ctx: ctx}, deps.Chatbots, in)
	if err != nil {
		return out, err
	}

	locks := deps.Locks
	if locks == nil {
		locks = convlock.Noop{}
	}
	unlock, err := locks.Lock(ctx, sessionLockKey(bot.ID, sessionID))
	if err != nil {
		return out, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	var (
		conv *types.Conversation
		msg  *types.Message
		job  *types.JobRun
	)
	marked := false
	now := nowUTC()

	txErr := deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		ok, err := deps.Tenants.ReserveMessage(dbc, bot.TenantID, now)
		if err != nil {
			return fmt.Errorf("reserve quota: %w", err)
		}
		if !ok {
			return apierr.QuotaExceeded()
		}

		conv, err = resolveConversation(dbc, deps, bot, in.ConversationID, sessionID, now)
		if err != nil {
			return err
		}

		seq, err := deps.Conversations.AllocateSeq(dbc, conv.ID)
		if err != nil {
			return fmt.Errorf("allocate seq: %w", err)
		}
		meta, _ := json.Marshal(map[string]any{
			"ip_address": in.IPAddress,
			"user_agent": in.UserAgent,
			"timestamp":  now.Format(time.RFC3339Nano),
		})
		msg = &types.Message{
			ID:             uuid.New(),
			TenantID:       bot.TenantID,
			ConversationID: conv.ID,
			Seq:            seq,
			Role:           types.RoleUser,
			Content:        text,
			Metadata:       datatypes.JSON(meta),
		}
		if _, err := deps.Messages.Create(dbc, []*types.Message{msg}); err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		if err := deps.Conversations.Touch(dbc, conv.ID, 1, now); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if err := deps.Chatbots.IncrementMessages(dbc, bot.ID, 1, now); err != nil {
			return fmt.Errorf("count message: %w", err)
		}

		convID := conv.ID
		job, err = deps.Jobs.Enqueue(dbc, services.EnqueueRequest{
			TenantID:   bot.TenantID,
			JobType:    JobTypeChatRespond,
			EntityType: EntityTypeConversation,
			EntityID:   &convID,
			EntitySeq:  seq,
			Payload: map[string]any{
				"tenant_id":       bot.TenantID.String(),
				"conversation_id": conv.ID.String(),
				"message_id":      msg.ID.String(),
				"session_id":      sessionID,
			},
		})
		if err != nil {
			return err
		}

		// Written before commit so a fast worker's terminal entry is never
		// overwritten by this one.
		if err := deps.Tracker.MarkProcessing(ctx, sessionID, conv.ID, msg.ID); err != nil {
			deps.Log.Warn("status cache write failed", "session_id", sessionID, "error", err)
		}
		marked = true
		return nil
	})
	if txErr != nil {
		if marked {
			_ = deps.Tracker.Clear(ctx, sessionID)
		}
		return out, txErr
	}

	if deps.Notify != nil {
		deps.Notify.MessageReceived(ctx, conv, msg)
	}
	if err := deps.Jobs.Dispatch(ctx, job); err != nil && deps.OnDispatchError != nil {
		deps.OnDispatchError(ctx, job, err)
	}

	deps.Log.Debug("Message accepted",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"job_id", job.ID,
		"session_id", sessionID,
	)
	return IngestOutput{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		SessionID:      sessionID,
		Status:         string(statuscache.StatusProcessing),
		JobID:          job.ID,
	}, nil
}

func resolveChatbot(dbc dbctx.Context, bots repos.ChatbotRepo, in IngestInput) (*types.Chatbot, error) {
	var (
		bot *types.Chatbot
		err error
	)
	switch {
	case strings.TrimSpace(in.WidgetID) != "":
		bot, err = bots.GetByWidgetID(dbc, strings.TrimSpace(in.WidgetID))
		if err == nil && bot != nil && !bot.IsPublic {
			bot = nil
		}
	case in.ChatbotID != uuid.Nil && in.TenantID != uuid.Nil:
		bot, err = bots.GetByTenantAndID(dbc, in.TenantID, in.ChatbotID)
	case in.ChatbotID != uuid.Nil:
		bot, err = bots.GetByID(dbc, in.ChatbotID)
	default:
		return nil, apierr.Validation("chatbot_id or widget_id is required")
	}
	if err != nil {
		return nil, err
	}
	if bot == nil || bot.Status != domainchatbot.StatusActive {
		return nil, apierr.NotFound("chatbot")
	}
	return bot, nil
}

// resolveConversation reuses the explicit conversation when it belongs to this
// chatbot and session, then the active one for the session, else creates one.
func resolveConversation(dbc dbctx.Context, deps IngestDeps, bot *types.Chatbot, explicit uuid.UUID, sessionID string, now time.Time) (*types.Conversation, error) {
	if explicit != uuid.Nil {
		conv, err := deps.Conversations.GetForSession(dbc, bot.ID, sessionID, explicit)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}
	conv, err := deps.Conversations.FindActive(dbc, bot.ID, sessionID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv = &types.Conversation{
		ID:           uuid.New(),
		TenantID:     bot.TenantID,
		ChatbotID:    bot.ID,
		SessionID:    sessionID,
		IsActive:     true,
		LastActivity: now,
		Metadata:     datatypes.JSON([]byte(`{}`)),
	}
	if _, err := deps.Conversations.Create(dbc, []*types.Conversation{conv}); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if err := deps.Chatbots.IncrementConversations(dbc, bot.ID, now); err != nil {
		return nil, fmt.Errorf("count conversation: %w", err)
	}
	return conv, nil
}

// IsClientError reports whether err is a synchronous, caller-correctable rejection.
func IsClientError(err error) bool {
	return errors.Is(err, apierr.ErrValidation) || errors.Is(err, apierr.ErrNotFound) || errors.Is(err, apierr.ErrQuotaExceeded)
}
