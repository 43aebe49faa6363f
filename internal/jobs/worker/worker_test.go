package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/testutil"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/jobs/runtime"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
)

type funcHandler struct {
	typ string
	run func(*runtime.Context) error
}

func (h funcHandler) Type() string                   { return h.typ }
func (h funcHandler) Run(ctx *runtime.Context) error { return h.run(ctx) }

type recordingObserver struct{ statuses []string }

func (o *recordingObserver) JobFinished(job *types.JobRun, status string, dur time.Duration) {
	o.statuses = append(o.statuses, status)
}

func seedJob(t *testing.T, repo repos.JobRunRepo, jobType string) *types.JobRun {
	t.Helper()
	job := &types.JobRun{
		TenantID:   uuid.New(),
		JobType:    jobType,
		EntityType: "conversation",
		EntityID:   testutil.PtrUUID(uuid.New()),
		EntitySeq:  1,
		Status:     types.JobStatusQueued,
		Stage:      types.JobStatusQueued,
		Payload:    datatypes.JSON([]byte(`{"trace_id":"t-1"}`)),
		Result:     datatypes.JSON([]byte("{}")),
	}
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{job})
	require.NoError(t, err)
	return job
}

func TestWorkerExecutesHandlers(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)
	ctx := context.Background()

	reg := runtime.NewRegistry()
	var sawTrace string
	require.NoError(t, reg.Register(funcHandler{typ: "ok", run: func(jc *runtime.Context) error {
		sawTrace = jc.PayloadString("trace_id")
		jc.Succeed("done", map[string]any{"n": 1})
		return nil
	}}))
	require.NoError(t, reg.Register(funcHandler{typ: "boom", run: func(jc *runtime.Context) error {
		panic("kaboom")
	}}))
	require.NoError(t, reg.Register(funcHandler{typ: "err", run: func(jc *runtime.Context) error {
		return errors.New("bad input")
	}}))
	require.Error(t, reg.Register(funcHandler{typ: "ok"}))

	obs := &recordingObserver{}
	w := NewWorker(db, log, repo, reg, obs, Config{Concurrency: 1, PollInterval: 10 * time.Millisecond})

	cases := []struct {
		jobType string
		want    string
	}{
		{"ok", types.JobStatusSucceeded},
		{"boom", types.JobStatusFailed},
		{"err", types.JobStatusFailed},
		{"unknown", types.JobStatusFailed},
	}
	for _, tc := range cases {
		job := seedJob(t, repo, tc.jobType)
		ran, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, ran, tc.jobType)

		got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
		require.NoError(t, err)
		require.Equal(t, tc.want, got.Status, tc.jobType)
	}
	require.Equal(t, "t-1", sawTrace)
	require.Equal(t, []string{"succeeded", "failed", "failed", "failed"}, obs.statuses)

	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, ran)
}

func TestWorkerRunDrainsQueueAndStops(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)

	done := make(chan struct{}, 3)
	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(funcHandler{typ: "ok", run: func(jc *runtime.Context) error {
		jc.Succeed("done", nil)
		done <- struct{}{}
		return nil
	}}))
	for i := 0; i < 3; i++ {
		seedJob(t, repo, "ok")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(db, log, repo, reg, nil, Config{Concurrency: 2, PollInterval: 10 * time.Millisecond})
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("job %d not executed", i)
		}
	}
	cancel()
	require.NoError(t, <-errCh)

	n, err := repo.CountByStatus(dbctx.Context{Ctx: context.Background()}, types.JobStatusSucceeded)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}
