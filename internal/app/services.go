package app

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/inference"
	"github.com/yungbote/widgetchat-backend/internal/jobs/asynqx"
	"github.com/yungbote/widgetchat-backend/internal/jobs/convlock"
	"github.com/yungbote/widgetchat-backend/internal/jobs/pipeline/chat_respond"
	jobruntime "github.com/yungbote/widgetchat-backend/internal/jobs/runtime"
	"github.com/yungbote/widgetchat-backend/internal/jobs/worker"
	chatmod "github.com/yungbote/widgetchat-backend/internal/modules/chat"
	"github.com/yungbote/widgetchat-backend/internal/observability"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
	"github.com/yungbote/widgetchat-backend/internal/services"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

type Services struct {
	Emitter      services.SSEEmitter
	ChatNotifier services.ChatNotifier
	JobService   services.JobService

	StatusStore statuscache.Store
	Tracker     *statuscache.Tracker
	Locks       convlock.Locker
	Health      *inference.HealthProbe

	Chat chatmod.Usecases

	// Job infra
	JobRegistry *jobruntime.Registry
	JobWorker   *worker.Worker
	AsynqServer *asynqx.Server
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients, hub *realtime.SSEHub, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	var emitter services.SSEEmitter
	if clients.Bus != nil {
		// Every process publishes to redis; API forwarders deliver into their hub.
		emitter = &services.RedisEmitter{Bus: clients.Bus, Log: log}
	} else {
		emitter = &services.HubEmitter{Hub: hub, Undelivered: metrics.IncRealtimeUnsubscribed}
	}
	chatNotifier := services.NewChatNotifier(emitter)

	var store statuscache.Store = statuscache.NewMemoryStore()
	if cfg.Realtime.StatusMode == "redis" {
		store = statuscache.NewRedisStore(clients.Redis, "widgetchat:")
	}
	tracker := statuscache.NewTracker(store, time.Duration(cfg.Realtime.StatusTTL)*time.Second, log)

	var locks convlock.Locker = convlock.NewMemory()
	if cfg.Jobs.lockMode() == "redis" {
		locks = convlock.NewRedis(clients.Redis, "widgetchat:convlock:", cfg.Jobs.StaleAfter())
	}

	var dispatcher services.Dispatcher
	if clients.Asynq != nil {
		dispatcher = clients.Asynq
	}
	jobService := services.NewJobService(db, log, repos.JobRun, dispatcher)

	chat := chatmod.New(chatmod.UsecasesDeps{
		DB:                db,
		Log:               log,
		Engine:            clients.Engine,
		Tenants:           repos.Tenant,
		Chatbots:          repos.Chatbot,
		Conversations:     repos.Conversation,
		Messages:          repos.Message,
		JobRuns:           repos.JobRun,
		Jobs:              jobService,
		Notify:            chatNotifier,
		Tracker:           tracker,
		Locks:             locks,
		InferenceObserver: metrics,
		JobObserver:       metrics,
		HistoryLimit:      cfg.Chat.HistoryLimit,
		MaxMessageChars:   cfg.Chat.MaxMessageChars,
		GenerateTimeout:   time.Duration(cfg.Chat.GenerateTimeoutSeconds) * time.Second,
		StaleAfter:        cfg.Jobs.StaleAfter(),
	})

	// Job registry
	jobRegistry := jobruntime.NewRegistry()
	if err := jobRegistry.Register(chat_respond.New(log, chat)); err != nil {
		return Services{}, err
	}

	jobWorker := worker.NewWorker(db, log, repos.JobRun, jobRegistry, metrics, worker.Config{
		Concurrency:  cfg.Jobs.Concurrency,
		PollInterval: cfg.Jobs.PollInterval(),
		StaleAfter:   cfg.Jobs.StaleAfter(),
	})

	var asynqServer *asynqx.Server
	if cfg.Jobs.Dispatch == "asynq" {
		srv, err := asynqx.NewServer(asynqx.ServerConfig{
			RedisURL:    cfg.Redis.ConnURL(),
			Concurrency: cfg.Jobs.Concurrency,
			Queues:      asynqx.ParseQueueWeights(cfg.Jobs.AsynqQueues),
		}, log, repos.JobRun, jobWorker)
		if err != nil {
			return Services{}, fmt.Errorf("init asynq server: %w", err)
		}
		asynqServer = srv
	}

	health := inference.NewHealthProbe(clients.Engine, store, time.Duration(cfg.Inference.HealthCacheMinutes)*time.Minute, log)

	return Services{
		Emitter:      emitter,
		ChatNotifier: chatNotifier,
		JobService:   jobService,
		StatusStore:  store,
		Tracker:      tracker,
		Locks:        locks,
		Health:       health,
		Chat:         chat,
		JobRegistry:  jobRegistry,
		JobWorker:    jobWorker,
		AsynqServer:  asynqServer,
	}, nil
}
