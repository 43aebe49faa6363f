package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/testutil"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	jobrt "github.com/yungbote/widgetchat-backend/internal/jobs/runtime"
	"github.com/yungbote/widgetchat-backend/internal/jobs/worker"
	"github.com/yungbote/widgetchat-backend/internal/modules/chat/steps"
	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
	"github.com/yungbote/widgetchat-backend/internal/services"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

type recordingEmitter struct {
	mu   sync.Mutex
	msgs []realtime.SSEMessage
}

func (e *recordingEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
}

func (e *recordingEmitter) sent() []types.MessageEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.MessageEvent
	for _, m := range e.msgs {
		if m.Event == realtime.SSEEventMessageSent {
			out = append(out, m.Data.(types.MessageEvent))
		}
	}
	return out
}

type brokenDispatcher struct{}

func (brokenDispatcher) Dispatch(ctx context.Context, job *types.JobRun) error {
	return errors.New("queue unavailable")
}

// replyWriteFailure accepts user messages and rejects assistant replies.
type replyWriteFailure struct {
	repos.MessageRepo
}

func (r replyWriteFailure) Create(dbc dbctx.Context, msgs []*types.Message) ([]*types.Message, error) {
	for _, m := range msgs {
		if m.Role == types.RoleAssistant {
			return nil, errors.New("disk full")
		}
	}
	return r.MessageRepo.Create(dbc, msgs)
}

type respondHandler struct{ uc Usecases }

func (h respondHandler) Type() string                 { return steps.JobTypeChatRespond }
func (h respondHandler) Run(jc *jobrt.Context) error { return h.uc.RunRespondJob(jc, nil) }

type harness struct {
	db      *gorm.DB
	uc      Usecases
	engine  *client.Mock
	emitter *recordingEmitter
	tracker *statuscache.Tracker
	jobRuns repos.JobRunRepo
	convs   repos.ConversationRepo
	worker  *worker.Worker
	tenant  *types.Tenant
	bot     *types.Chatbot
}

func newHarness(t *testing.T, quota int, dispatcher services.Dispatcher) *harness {
	t.Helper()
	return newHarnessWith(t, quota, dispatcher, nil)
}

func newHarnessWith(t *testing.T, quota int, dispatcher services.Dispatcher, adjust func(*UsecasesDeps)) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()

	h := &harness{
		db:      db,
		engine:  client.NewMock(),
		emitter: &recordingEmitter{},
		tracker: statuscache.NewTracker(statuscache.NewMemoryStore(), time.Minute, log),
		jobRuns: repos.NewJobRunRepo(db, log),
		convs:   repos.NewConversationRepo(db, log),
	}
	h.tenant = testutil.SeedTenant(t, ctx, db, quota)
	h.bot = testutil.SeedChatbot(t, ctx, db, h.tenant.ID, "Be concise")

	deps := UsecasesDeps{
		DB:            db,
		Log:           log,
		Engine:        h.engine,
		Tenants:       repos.NewTenantRepo(db, log),
		Chatbots:      repos.NewChatbotRepo(db, log),
		Conversations: h.convs,
		Messages:      repos.NewMessageRepo(db, log),
		JobRuns:       h.jobRuns,
		Jobs:          services.NewJobService(db, log, h.jobRuns, dispatcher),
		Notify:        services.NewChatNotifier(h.emitter),
		Tracker:       h.tracker,
	}
	if adjust != nil {
		adjust(&deps)
	}
	h.uc = New(deps)

	reg := jobrt.NewRegistry()
	require.NoError(t, reg.Register(respondHandler{uc: h.uc}))
	h.worker = worker.NewWorker(db, log, h.jobRuns, reg, nil, worker.Config{Concurrency: 1})
	return h
}

func (h *harness) submit(t *testing.T, session, text string) IngestOutput {
	t.Helper()
	out, err := h.uc.Submit(context.Background(), IngestInput{WidgetID: h.bot.WidgetID, SessionID: session, Text: text})
	require.NoError(t, err)
	return out
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	for {
		ran, err := h.worker.RunOnce(context.Background())
		require.NoError(t, err)
		if !ran {
			return
		}
	}
}

func (h *harness) messages(t *testing.T, convID uuid.UUID) []*types.Message {
	t.Helper()
	var out []*types.Message
	require.NoError(t, h.db.Where("conversation_id = ?", convID).Order("seq ASC").Find(&out).Error)
	return out
}

func (h *harness) conversation(t *testing.T, id uuid.UUID) *types.Conversation {
	t.Helper()
	conv, err := h.convs.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	require.NoError(t, err)
	require.NotNil(t, conv)
	return conv
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func TestConciseScenario(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	first := h.submit(t, "S1", "hello")
	require.Equal(t, "processing", first.Status)
	require.Equal(t, "S1", first.SessionID)

	msgs := h.messages(t, first.ConversationID)
	require.Len(t, msgs, 1)
	require.Equal(t, types.RoleUser, msgs[0].Role)
	require.Equal(t, "hello", msgs[0].Content)

	h.drain(t)
	msgs = h.messages(t, first.ConversationID)
	require.Len(t, msgs, 2)
	reply := msgs[1]
	require.Equal(t, types.RoleAssistant, reply.Role)
	require.NotEmpty(t, reply.Content)
	require.False(t, reply.IsError())
	require.NotNil(t, reply.TokensUsed)
	require.NotNil(t, reply.ProcessingTime)

	sent := h.emitter.sent()
	require.Len(t, sent, 1)
	require.Equal(t, reply.ID, sent[0].Message.ID)
	require.Equal(t, reply.Content, sent[0].Message.Content)
	require.Equal(t, "S1", sent[0].Conversation.SessionID)

	job, err := h.jobRuns.GetByID(dbctx.Context{Ctx: ctx}, first.JobID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusSucceeded, job.Status)

	second := h.submit(t, "S1", "how are you")
	require.Equal(t, first.ConversationID, second.ConversationID)
	h.drain(t)

	calls := h.engine.Calls()
	require.Len(t, calls, 2)
	window := calls[1].Messages
	require.Len(t, window, 4)
	require.Equal(t, client.Message{Role: "system", Content: "Be concise"}, window[0])
	require.Equal(t, "hello", window[1].Content)
	require.Equal(t, reply.Content, window[2].Content)
	require.Equal(t, "how are you", window[3].Content)

	conv, err := h.convs.GetByID(dbctx.Context{Ctx: ctx}, first.ConversationID)
	require.NoError(t, err)
	require.EqualValues(t, 4, conv.MessageCount)
}

func TestSubmitResolvesConversationPerSession(t *testing.T) {
	h := newHarness(t, 100, nil)

	a1 := h.submit(t, "A", "one")
	a2 := h.submit(t, "A", "two")
	b1 := h.submit(t, "B", "three")
	require.Equal(t, a1.ConversationID, a2.ConversationID)
	require.NotEqual(t, a1.ConversationID, b1.ConversationID)
	require.EqualValues(t, 2, h.count(t, &types.Conversation{}))

	// An explicit id from another session is ignored.
	out, err := h.uc.Submit(context.Background(), IngestInput{
		WidgetID:       h.bot.WidgetID,
		ConversationID: a1.ConversationID,
		SessionID:      "B",
		Text:           "four",
	})
	require.NoError(t, err)
	require.Equal(t, b1.ConversationID, out.ConversationID)

	var bot types.Chatbot
	require.NoError(t, h.db.First(&bot, "id = ?", h.bot.ID).Error)
	require.EqualValues(t, 2, bot.TotalConversations)
	require.EqualValues(t, 4, bot.TotalMessages)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	_, err := h.uc.Submit(ctx, IngestInput{WidgetID: h.bot.WidgetID, SessionID: "S", Text: "   "})
	require.ErrorIs(t, err, apierr.ErrValidation)

	_, err = h.uc.Submit(ctx, IngestInput{WidgetID: h.bot.WidgetID, SessionID: "S", Text: strings.Repeat("x", steps.DefaultMaxMessageChars+1)})
	require.ErrorIs(t, err, apierr.ErrValidation)

	_, err = h.uc.Submit(ctx, IngestInput{WidgetID: h.bot.WidgetID, Text: "hi"})
	require.ErrorIs(t, err, apierr.ErrValidation)

	_, err = h.uc.Submit(ctx, IngestInput{WidgetID: "widget_missing", SessionID: "S", Text: "hi"})
	require.ErrorIs(t, err, apierr.ErrNotFound)

	_, err = h.uc.Submit(ctx, IngestInput{TenantID: uuid.New(), ChatbotID: h.bot.ID, SessionID: "S", Text: "hi"})
	require.ErrorIs(t, err, apierr.ErrNotFound)

	out, err := h.uc.Submit(ctx, IngestInput{TenantID: h.tenant.ID, ChatbotID: h.bot.ID, SessionID: "S", Text: "hi"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, out.MessageID)

	require.EqualValues(t, 1, h.count(t, &types.Message{}))
	require.EqualValues(t, 1, h.count(t, &types.JobRun{}))
}

func TestSubmitQuotaExceeded(t *testing.T) {
	h := newHarness(t, 1, nil)

	h.submit(t, "S", "first")
	_, err := h.uc.Submit(context.Background(), IngestInput{WidgetID: h.bot.WidgetID, SessionID: "S", Text: "second"})
	require.ErrorIs(t, err, apierr.ErrQuotaExceeded)

	require.EqualValues(t, 1, h.count(t, &types.Message{}))
	require.EqualValues(t, 1, h.count(t, &types.JobRun{}))
}

func TestSubmitDoesNotWaitForInference(t *testing.T) {
	h := newHarness(t, 100, nil)
	h.engine.SetDelay(3 * time.Second)

	start := time.Now()
	out := h.submit(t, "S", "slow please")
	require.Less(t, time.Since(start), time.Second)
	require.Empty(t, h.engine.Calls())

	entry, err := h.tracker.Lookup(context.Background(), "S")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, statuscache.StatusProcessing, entry.Status)
	require.Equal(t, out.MessageID, entry.MessageID)
}

func TestRespondFailureWritesApology(t *testing.T) {
	h := newHarness(t, 100, nil)
	h.engine.SetError(client.ErrMockUnavailable)
	ctx := context.Background()

	out := h.submit(t, "S", "hello")
	h.drain(t)

	msgs := h.messages(t, out.ConversationID)
	require.Len(t, msgs, 2)
	failed := msgs[1]
	require.Equal(t, types.RoleAssistant, failed.Role)
	require.Equal(t, steps.ApologyMessage, failed.Content)
	require.True(t, failed.IsError())

	var meta map[string]any
	require.NoError(t, json.Unmarshal(failed.Metadata, &meta))
	require.Equal(t, client.ErrMockUnavailable.Error(), meta["error_message"])

	sent := h.emitter.sent()
	require.Len(t, sent, 1)
	require.Equal(t, failed.ID, sent[0].Message.ID)

	status, err := h.uc.Status(ctx, StatusInput{SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusFailed, status.Status)
	require.Contains(t, string(status.Response), failed.ID.String())

	job, err := h.jobRuns.GetByID(dbctx.Context{Ctx: ctx}, out.JobID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, job.Status)
}

func TestRespondContextWindowExcludesLaterMessages(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	conv := testutil.SeedConversation(t, ctx, h.db, h.bot, "S")
	for i := 0; i < 12; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		testutil.SeedMessage(t, ctx, h.db, conv, role, "history")
	}
	trigger := testutil.SeedMessage(t, ctx, h.db, conv, types.RoleUser, "trigger")
	testutil.SeedMessage(t, ctx, h.db, conv, types.RoleUser, "arrived later")

	out, err := h.uc.Respond(ctx, RespondInput{
		TenantID:       h.tenant.ID,
		ConversationID: conv.ID,
		MessageID:      trigger.ID,
		Attempt:        1,
	})
	require.NoError(t, err)
	require.False(t, out.Failed)

	calls := h.engine.Calls()
	require.Len(t, calls, 1)
	window := calls[0].Messages
	require.Len(t, window, 11)
	require.Equal(t, "system", window[0].Role)
	require.Equal(t, "trigger", window[10].Content)
	for _, m := range window {
		require.NotEqual(t, "arrived later", m.Content)
	}
}

func TestRespondInterruptedAttemptSkipsInference(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()
	out := h.submit(t, "S", "hello")

	res, err := h.uc.Respond(ctx, RespondInput{
		ConversationID: out.ConversationID,
		MessageID:      out.MessageID,
		Attempt:        2,
	})
	require.NoError(t, err)
	require.True(t, res.Failed)
	require.Empty(t, h.engine.Calls())
	require.Equal(t, steps.ApologyMessage, res.Event.Message.Content)
}

func TestDispatchFailureStillAnswers(t *testing.T) {
	h := newHarness(t, 100, brokenDispatcher{})
	ctx := context.Background()

	out := h.submit(t, "S", "hello")
	msgs := h.messages(t, out.ConversationID)
	require.Len(t, msgs, 2)
	require.True(t, msgs[1].IsError())
	require.Empty(t, h.engine.Calls())

	job, err := h.jobRuns.GetByID(dbctx.Context{Ctx: ctx}, out.JobID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, job.Status)
}

func TestStatusFallsBackToStore(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	st, err := h.uc.Status(ctx, StatusInput{SessionID: "nobody"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusIdle, st.Status)

	out := h.submit(t, "S", "hello")
	require.NoError(t, h.tracker.Clear(ctx, "S"))

	st, err = h.uc.Status(ctx, StatusInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusQueued, st.Status)
	require.Equal(t, "store", st.Source)
	require.Equal(t, out.MessageID, *st.MessageID)

	h.drain(t)
	st, err = h.uc.Status(ctx, StatusInput{SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusCompleted, st.Status)
	require.Equal(t, "cache", st.Source)

	require.NoError(t, h.tracker.Clear(ctx, "S"))
	st, err = h.uc.Status(ctx, StatusInput{SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusCompleted, st.Status)

	var ev types.MessageEvent
	require.NoError(t, json.Unmarshal(st.Response, &ev))
	require.Equal(t, types.RoleAssistant, ev.Message.Role)
	require.Equal(t, out.ConversationID, ev.Conversation.ID)
}

func TestEndSessionStartsFreshConversation(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	first := h.submit(t, "S", "hello")
	ended, err := h.uc.EndSession(ctx, EndSessionInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.True(t, ended)

	entry, err := h.tracker.Lookup(ctx, "S")
	require.NoError(t, err)
	require.Nil(t, entry)

	second := h.submit(t, "S", "again")
	require.NotEqual(t, first.ConversationID, second.ConversationID)

	hist, err := h.uc.History(ctx, HistoryInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, second.ConversationID, hist.Conversation.ID)
	require.Len(t, hist.Messages, 1)

	_, err = h.uc.History(ctx, HistoryInput{TenantID: uuid.New(), ConversationID: first.ConversationID})
	require.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestSweepIdleDeactivates(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	stale := testutil.SeedConversation(t, ctx, h.db, h.bot, "old")
	require.NoError(t, h.db.Model(&types.Conversation{}).Where("id = ?", stale.ID).
		Update("last_activity", time.Now().UTC().Add(-48*time.Hour)).Error)
	testutil.SeedConversation(t, ctx, h.db, h.bot, "fresh")

	n, err := h.uc.SweepIdle(ctx, SweepInput{IdleFor: 24 * time.Hour, BatchSize: 10})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := h.convs.GetByID(dbctx.Context{Ctx: ctx}, stale.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestStatusIgnoresCacheOfOtherChatbot(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()
	other := testutil.SeedChatbot(t, ctx, h.db, h.tenant.ID, "Be verbose")

	h.submit(t, "shared", "hello")

	st, err := h.uc.Status(ctx, StatusInput{ChatbotID: h.bot.ID, SessionID: "shared"})
	require.NoError(t, err)
	require.Equal(t, "cache", st.Source)
	require.Equal(t, statuscache.StatusProcessing, st.Status)

	st, err = h.uc.Status(ctx, StatusInput{TenantID: h.tenant.ID, ChatbotID: other.ID, SessionID: "shared"})
	require.NoError(t, err)
	require.Equal(t, "store", st.Source)
	require.Equal(t, statuscache.StatusIdle, st.Status)
	require.Nil(t, st.ConversationID)
}

func TestStatusKeepsNewerSubmissionPending(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	first := h.submit(t, "S", "first")
	second := h.submit(t, "S", "second")
	require.Equal(t, first.ConversationID, second.ConversationID)

	ran, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	st, err := h.uc.Status(ctx, StatusInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusProcessing, st.Status)
	require.Equal(t, "cache", st.Source)
	require.Empty(t, st.Response)

	h.drain(t)
	st, err = h.uc.Status(ctx, StatusInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusCompleted, st.Status)
	require.Contains(t, string(st.Response), "mock: second")
	require.NotContains(t, string(st.Response), "mock: first")
}

func TestStatusIgnoresSupersededCachedReply(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	first := h.submit(t, "S", "first")
	h.drain(t)
	msgs := h.messages(t, first.ConversationID)
	require.Len(t, msgs, 2)
	reply := msgs[1]

	// A reply cached after a later submission landed must not be served.
	h.submit(t, "S", "second")
	require.NoError(t, h.tracker.MarkCompleted(ctx, "S", first.ConversationID, reply.ID, types.NewMessageEvent(h.conversation(t, first.ConversationID), reply)))

	st, err := h.uc.Status(ctx, StatusInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, "store", st.Source)
	require.Equal(t, statuscache.StatusQueued, st.Status)
	require.Empty(t, st.Response)
}

func TestRespondReplyWriteFailureMarksFailed(t *testing.T) {
	h := newHarnessWith(t, 100, nil, func(d *UsecasesDeps) {
		d.Messages = replyWriteFailure{MessageRepo: d.Messages}
	})
	ctx := context.Background()

	out := h.submit(t, "S", "hello")
	h.drain(t)

	st, err := h.uc.Status(ctx, StatusInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, statuscache.StatusFailed, st.Status)
	require.Equal(t, "cache", st.Source)

	job, err := h.jobRuns.GetByID(dbctx.Context{Ctx: ctx}, out.JobID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, job.Status)

	require.NoError(t, h.tracker.Clear(ctx, "S"))
	st, err = h.uc.Status(ctx, StatusInput{ChatbotID: h.bot.ID, SessionID: "S"})
	require.NoError(t, err)
	require.Equal(t, "store", st.Source)
	require.Equal(t, statuscache.StatusFailed, st.Status)
}
