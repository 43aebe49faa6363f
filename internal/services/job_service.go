package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/ctxutil"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

// Dispatcher pushes a committed job to a consumer. The poll worker needs no
// dispatcher; asynq does.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *types.JobRun) error
}

type EnqueueRequest struct {
	TenantID   uuid.UUID
	JobType    string
	EntityType string
	EntityID   *uuid.UUID
	EntitySeq  int64
	Payload    map[string]any
}

type JobService interface {
	// Enqueue inserts a queued job_run. Inside a transaction, callers must call
	// Dispatch after commit.
	Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.JobRun, error)
	Dispatch(ctx context.Context, job *types.JobRun) error
	GetLatestForEntity(dbc dbctx.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
}

type jobService struct {
	db         *gorm.DB
	log        *logger.Logger
	repo       repos.JobRunRepo
	dispatcher Dispatcher
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, dispatcher Dispatcher) JobService {
	return &jobService{
		db:         db,
		log:        baseLog.With("service", "JobService"),
		repo:       repo,
		dispatcher: dispatcher,
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.JobRun, error) {
	if req.TenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if strings.TrimSpace(req.JobType) == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	now := time.Now().UTC()
	job := &types.JobRun{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		JobType:    req.JobType,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		EntitySeq:  req.EntitySeq,
		Status:     types.JobStatusQueued,
		Stage:      types.JobStatusQueued,
		Message:    "Queued",
		Payload:    datatypes.JSON(b),
		Result:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.repo.Create(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Debug("Job enqueued", "job_id", job.ID, "job_type", job.JobType, "entity_seq", job.EntitySeq)
	return job, nil
}

func (s *jobService) Dispatch(ctx context.Context, job *types.JobRun) error {
	if s.dispatcher == nil || job == nil {
		return nil
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.log.Warn("Job dispatch failed", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}


func (s *jobService) GetLatestForEntity(dbc dbctx.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	return s.repo.GetLatestByEntity(dbc, tenantID, entityType, entityID, jobType)
}
