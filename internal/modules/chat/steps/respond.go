package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	"github.com/yungbote/widgetchat-backend/internal/jobs/convlock"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/services"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

// ErrInterrupted marks a task whose earlier attempt died mid-flight. Inference
// is not retried; the failure reply is written instead.
var ErrInterrupted = errors.New("previous attempt was interrupted")

type RespondDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Engine client.Engine

	Chatbots      repos.ChatbotRepo
	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo

	Notify   services.ChatNotifier
	Tracker  *statuscache.Tracker
	Locks    convlock.Locker
	Observer InferenceObserver

	HistoryLimit    int
	GenerateTimeout time.Duration
}

type RespondInput struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	SessionID      string
	JobID          uuid.UUID
	Attempt        int

	// Abandon skips inference and records this error as the failure reply.
	Abandon error
}

type RespondOutput struct {
	AssistantMessageID uuid.UUID          `json:"assistant_message_id"`
	Failed             bool               `json:"failed"`
	Error              string             `json:"error,omitempty"`
	Model              string             `json:"model,omitempty"`
	Event              types.MessageEvent `json:"-"`
}

// Respond produces the assistant reply for one triggering user message. Every
// inference outcome ends in a persisted assistant message; only store faults
// (nothing to reply into, or the reply itself cannot be written) are returned.
func Respond(ctx context.Context, deps RespondDeps, in RespondInput) (RespondOutput, error) {
	out := RespondOutput{}
	if deps.DB == nil || deps.Log == nil || deps.Engine == nil || deps.Chatbots == nil || deps.Conversations == nil || deps.Messages == nil {
		return out, fmt.Errorf("chat respond: missing deps")
	}
	if in.ConversationID == uuid.Nil || in.MessageID == uuid.Nil {
		return out, fmt.Errorf("chat respond: missing ids")
	}

	ctx, span := otel.Tracer("widgetchat/chat").Start(ctx, "chat.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", in.ConversationID.String()),
		attribute.String("message.id", in.MessageID.String()),
		attribute.Int("job.attempt", in.Attempt),
	)

	locks := deps.Locks
	if locks == nil {
		locks = convlock.Noop{}
	}
	unlock, err := locks.Lock(ctx, conversationLockKey(in.ConversationID))
	if err != nil {
		return out, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	log := deps.Log.With("conversation_id", in.ConversationID, "message_id", in.MessageID, "job_id", in.JobID)
	dbc := dbctx.Context{Ctx: ctx}

	conv, err := deps.Conversations.GetByID(dbc, in.ConversationID)
	if err != nil {
		return out, err
	}
	if conv == nil || (in.TenantID != uuid.Nil && conv.TenantID != in.TenantID) {
		return out, fmt.Errorf("conversation not found")
	}
	trigger, err := deps.Messages.GetByID(dbc, in.MessageID)
	if err != nil {
		return out, err
	}
	if trigger == nil || trigger.ConversationID != conv.ID {
		return out, fmt.Errorf("trigger message not found")
	}
	bot, err := deps.Chatbots.GetByID(dbc, conv.ChatbotID)
	if err != nil {
		return out, err
	}
	if bot == nil {
		return out, fmt.Errorf("chatbot not found")
	}
	if in.SessionID == "" {
		in.SessionID = conv.SessionID
	}

	model := bot.Model()
	out.Model = model
	start := time.Now()

	var reply *client.Reply
	genErr := in.Abandon
	if genErr == nil && in.Attempt > 1 {
		genErr = ErrInterrupted
	}
	if genErr == nil {
		reply, genErr = generate(ctx, deps, bot, conv, trigger)
		if deps.Observer != nil {
			deps.Observer.ObserveInference(model, genErr == nil, time.Since(start))
		}
	}
	elapsed := time.Since(start)

	var msg *types.Message
	if genErr == nil {
		msg = assistantReply(conv, reply, model, elapsed)
	} else {
		log.Warn("Inference failed, writing failure reply", "error", genErr, "attempt", in.Attempt)
		span.RecordError(genErr)
		span.SetStatus(codes.Error, genErr.Error())
		msg = failureReply(conv, genErr)
		out.Failed = true
		out.Error = genErr.Error()
	}

	if err := persistReply(ctx, deps, conv, bot, msg); err != nil {
		// The job fails with this error; pollers must not wait on it.
		if cerr := markTerminal(ctx, deps, in.SessionID, conv, trigger, true, uuid.Nil, nil); cerr != nil {
			log.Warn("status cache write failed", "error", cerr)
		}
		return out, err
	}
	out.AssistantMessageID = msg.ID

	if deps.Notify != nil {
		out.Event = deps.Notify.MessageSent(ctx, conv, msg)
	} else {
		out.Event = types.NewMessageEvent(conv, msg)
	}

	if err := markTerminal(ctx, deps, in.SessionID, conv, trigger, out.Failed, msg.ID, out.Event); err != nil {
		log.Warn("status cache write failed", "error", err)
	}

	log.Info("Reply delivered", "failed", out.Failed, "model", model, "processing_ms", elapsed.Milliseconds())
	return out, nil
}

// markTerminal records the reply in the poll cache unless a newer user message
// has been submitted since the trigger; that message's ingest owns the entry.
func markTerminal(ctx context.Context, deps RespondDeps, sessionID string, conv *types.Conversation, trigger *types.Message, failed bool, replyID uuid.UUID, response any) error {
	newer, err := deps.Messages.ExistsAfter(dbctx.Context{Ctx: ctx}, conv.ID, trigger.Seq, types.RoleUser)
	if err != nil {
		return err
	}
	if newer {
		return nil
	}
	if failed {
		return deps.Tracker.MarkFailed(ctx, sessionID, conv.ID, replyID, response)
	}
	return deps.Tracker.MarkCompleted(ctx, sessionID, conv.ID, replyID, response)
}

// generate converts panics and empty replies into errors so the caller only has
// one failure path.
func generate(ctx context.Context, deps RespondDeps, bot *types.Chatbot, conv *types.Conversation, trigger *types.Message) (reply *client.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = fmt.Errorf("panic during inference: %v", r)
		}
	}()

	window, err := BuildContextWindow(dbctx.Context{Ctx: ctx}, deps.Messages, bot, conv, trigger.Seq, deps.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	timeout := deps.GenerateTimeout
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err = deps.Engine.Generate(gctx, bot.Model(), window, bot.GenerationOptions())
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.Content == "" {
		return nil, client.ErrEmptyReply
	}
	return reply, nil
}

func assistantReply(conv *types.Conversation, reply *client.Reply, model string, elapsed time.Duration) *types.Message {
	if reply.Model != "" {
		model = reply.Model
	}
	seconds := math.Round(elapsed.Seconds()*1000) / 1000
	tokens := reply.EvalCount
	meta, _ := json.Marshal(map[string]any{
		"model":           model,
		"tokens_used":     tokens,
		"processing_time": seconds,
		"eval_duration":   reply.EvalDuration,
		"load_duration":   reply.LoadDuration,
		"timestamp":       nowUTC().Format(time.RFC3339Nano),
	})
	return &types.Message{
		ID:             uuid.New(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Role:           types.RoleAssistant,
		Content:        reply.Content,
		Metadata:       datatypes.JSON(meta),
		TokensUsed:     &tokens,
		ProcessingTime: &seconds,
	}
}

func failureReply(conv *types.Conversation, cause error) *types.Message {
	meta, _ := json.Marshal(map[string]any{
		"error":         true,
		"error_message": cause.Error(),
		"timestamp":     nowUTC().Format(time.RFC3339Nano),
	})
	return &types.Message{
		ID:             uuid.New(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Role:           types.RoleAssistant,
		Content:        ApologyMessage,
		Metadata:       datatypes.JSON(meta),
	}
}

func persistReply(ctx context.Context, deps RespondDeps, conv *types.Conversation, bot *types.Chatbot, msg *types.Message) error {
	now := nowUTC()
	return deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		seq, err := deps.Conversations.AllocateSeq(dbc, conv.ID)
		if err != nil {
			return fmt.Errorf("allocate seq: %w", err)
		}
		msg.Seq = seq
		if _, err := deps.Messages.Create(dbc, []*types.Message{msg}); err != nil {
			return fmt.Errorf("create reply: %w", err)
		}
		if err := deps.Conversations.Touch(dbc, conv.ID, 1, now); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if err := deps.Chatbots.IncrementMessages(dbc, bot.ID, 1, now); err != nil {
			return fmt.Errorf("count reply: %w", err)
		}
		return nil
	})
}
