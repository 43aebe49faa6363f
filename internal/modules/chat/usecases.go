package chat

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	"github.com/yungbote/widgetchat-backend/internal/jobs/convlock"
	jobrt "github.com/yungbote/widgetchat-backend/internal/jobs/runtime"
	"github.com/yungbote/widgetchat-backend/internal/modules/chat/steps"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/services"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Engine client.Engine

	Tenants       repos.TenantRepo
	Chatbots      repos.ChatbotRepo
	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo
	JobRuns       repos.JobRunRepo

	Jobs    services.JobService
	Notify  services.ChatNotifier
	Tracker *statuscache.Tracker
	Locks   convlock.Locker

	InferenceObserver steps.InferenceObserver
	JobObserver       jobrt.Observer

	HistoryLimit      int
	MaxMessageChars   int
	GenerateTimeout   time.Duration
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases {
	if deps.Locks == nil {
		deps.Locks = convlock.NewMemory()
	}
	if deps.StaleAfter <= 0 {
		deps.StaleAfter = 5 * time.Minute
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 10 * time.Second
	}
	return Usecases{deps: deps}
}

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

type (
	IngestInput  = steps.IngestInput
	IngestOutput = steps.IngestOutput

	RespondInput  = steps.RespondInput
	RespondOutput = steps.RespondOutput

	StatusInput  = steps.StatusInput
	StatusOutput = steps.StatusOutput

	HistoryInput    = steps.HistoryInput
	HistoryOutput   = steps.HistoryOutput
	EndSessionInput = steps.EndSessionInput
	ChatbotInfo     = steps.ChatbotInfo

	SweepInput = steps.SweepInput
)

func (u Usecases) Submit(ctx context.Context, in IngestInput) (IngestOutput, error) {
	return steps.Ingest(ctx, steps.IngestDeps{
		DB:              u.deps.DB,
		Log:             u.deps.Log,
		Tenants:         u.deps.Tenants,
		Chatbots:        u.deps.Chatbots,
		Conversations:   u.deps.Conversations,
		Messages:        u.deps.Messages,
		Jobs:            u.deps.Jobs,
		Notify:          u.deps.Notify,
		Tracker:         u.deps.Tracker,
		Locks:           u.deps.Locks,
		MaxMessageChars: u.deps.MaxMessageChars,
		OnDispatchError: u.failUndispatched,
	}, in)
}

func (u Usecases) Respond(ctx context.Context, in RespondInput) (RespondOutput, error) {
	return steps.Respond(ctx, u.respondDeps(), in)
}

func (u Usecases) respondDeps() steps.RespondDeps {
	return steps.RespondDeps{
		DB:              u.deps.DB,
		Log:             u.deps.Log,
		Engine:          u.deps.Engine,
		Chatbots:        u.deps.Chatbots,
		Conversations:   u.deps.Conversations,
		Messages:        u.deps.Messages,
		Notify:          u.deps.Notify,
		Tracker:         u.deps.Tracker,
		Locks:           u.deps.Locks,
		Observer:        u.deps.InferenceObserver,
		HistoryLimit:    u.deps.HistoryLimit,
		GenerateTimeout: u.deps.GenerateTimeout,
	}
}

func (u Usecases) Status(ctx context.Context, in StatusInput) (StatusOutput, error) {
	return steps.Status(ctx, steps.StatusDeps{
		Log:           u.deps.Log,
		Chatbots:      u.deps.Chatbots,
		Conversations: u.deps.Conversations,
		Messages:      u.deps.Messages,
		Tracker:       u.deps.Tracker,
		Jobs:          u.deps.Jobs,
	}, in)
}

func (u Usecases) sessionDeps() steps.SessionDeps {
	return steps.SessionDeps{
		Log:           u.deps.Log,
		Chatbots:      u.deps.Chatbots,
		Conversations: u.deps.Conversations,
		Messages:      u.deps.Messages,
		Tracker:       u.deps.Tracker,
	}
}

func (u Usecases) History(ctx context.Context, in HistoryInput) (HistoryOutput, error) {
	return steps.History(ctx, u.sessionDeps(), in)
}

func (u Usecases) EndSession(ctx context.Context, in EndSessionInput) (bool, error) {
	return steps.EndSession(ctx, u.sessionDeps(), in)
}

func (u Usecases) PublicChatbot(ctx context.Context, widgetID string) (*types.Chatbot, ChatbotInfo, error) {
	return steps.PublicChatbot(ctx, u.sessionDeps(), widgetID)
}

func (u Usecases) SweepIdle(ctx context.Context, in SweepInput) (int64, error) {
	return steps.SweepIdle(ctx, steps.SweepDeps{
		Log:           u.deps.Log,
		Conversations: u.deps.Conversations,
	}, in)
}
