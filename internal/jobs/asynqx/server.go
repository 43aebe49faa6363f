package asynqx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

// ErrNotRunnable is returned while a job is still queued behind an earlier job
// for the same conversation. asynq retries it with backoff.
var ErrNotRunnable = errors.New("job not yet runnable")

// Executor runs an already-claimed job.
type Executor interface {
	Execute(ctx context.Context, job *types.JobRun)
	StaleAfter() time.Duration
}

type ServerConfig struct {
	RedisURL    string
	Concurrency int
	Queues      map[string]int
}

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

func NewServer(cfg ServerConfig, baseLog *logger.Logger, repo repos.JobRunRepo, exec Executor) (*Server, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = map[string]int{DefaultQueue: 1}
	}
	log := baseLog.With("component", "AsynqServer")

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrNotRunnable)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			if errors.Is(err, ErrNotRunnable) {
				return
			}
			log.Warn("asynq task error", "type", task.Type(), "error", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskRunJob, NewHandler(repo, exec, log))
	return &Server{server: srv, mux: mux, log: log}, nil
}

// Run starts the server and blocks until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	s.log.Info("asynq server started")
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// Handler claims the hinted job by id and executes it.
type Handler struct {
	repo repos.JobRunRepo
	exec Executor
	log  *logger.Logger
}

func NewHandler(repo repos.JobRunRepo, exec Executor, log *logger.Logger) *Handler {
	return &Handler{repo: repo, exec: exec, log: log}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	jobID, err := decodePayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return h.Process(ctx, jobID)
}

// Process is the transport-free body of ProcessTask.
func (h *Handler) Process(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := h.repo.ClaimByID(dbc, jobID, h.exec.StaleAfter())
	if err != nil {
		return err
	}
	if job != nil {
		h.exec.Execute(ctx, job)
		return nil
	}

	cur, err := h.repo.GetByID(dbc, jobID)
	if err != nil {
		return err
	}
	if cur == nil {
		h.log.Warn("asynq hint for unknown job", "job_id", jobID)
		return nil
	}
	if cur.Status == types.JobStatusQueued {
		return ErrNotRunnable
	}
	// Running elsewhere or already terminal: the poll worker or another
	// consumer owns it.
	return nil
}
