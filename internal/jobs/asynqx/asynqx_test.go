package asynqx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/testutil"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
)

type recordingExec struct {
	mu  sync.Mutex
	ran []uuid.UUID
}

func (e *recordingExec) Execute(ctx context.Context, job *types.JobRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ran = append(e.ran, job.ID)
}

func (e *recordingExec) StaleAfter() time.Duration { return time.Minute }

func seedJob(t *testing.T, repo repos.JobRunRepo, entity uuid.UUID, seq int64) *types.JobRun {
	t.Helper()
	job := &types.JobRun{
		TenantID:   uuid.New(),
		JobType:    "chat_respond",
		EntityType: "conversation",
		EntityID:   &entity,
		EntitySeq:  seq,
		Status:     types.JobStatusQueued,
		Stage:      types.JobStatusQueued,
		Payload:    datatypes.JSON([]byte("{}")),
		Result:     datatypes.JSON([]byte("{}")),
	}
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{job})
	require.NoError(t, err)
	return job
}

func TestHandlerProcessClaimsAndExecutes(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	exec := &recordingExec{}
	h := NewHandler(repo, exec, testutil.Logger(t))

	conv := uuid.New()
	first := seedJob(t, repo, conv, 1)
	second := seedJob(t, repo, conv, 2)

	// second is blocked behind first.
	require.ErrorIs(t, h.Process(context.Background(), second.ID), ErrNotRunnable)
	require.Empty(t, exec.ran)

	require.NoError(t, h.Process(context.Background(), first.ID))
	require.Equal(t, []uuid.UUID{first.ID}, exec.ran)

	// first is running now; a duplicate hint is acknowledged without re-running.
	require.NoError(t, h.Process(context.Background(), first.ID))
	require.Len(t, exec.ran, 1)

	require.NoError(t, h.Process(context.Background(), uuid.New()))
}

func TestProcessTaskRejectsBadPayload(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	h := NewHandler(repo, &recordingExec{}, testutil.Logger(t))

	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskRunJob, []byte(`{"job_id":"nope"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestParseQueueWeights(t *testing.T) {
	require.Equal(t, map[string]int{"chat": 6, "default": 1}, ParseQueueWeights(" chat=6, default=x ,,"))
	require.Empty(t, ParseQueueWeights(""))
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.Error(t, err)
}
