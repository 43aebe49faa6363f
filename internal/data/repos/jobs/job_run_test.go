package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/testutil"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"gorm.io/datatypes"
)

func newJob(tenantID uuid.UUID, entityID uuid.UUID, seq int64, status string, createdAt time.Time) *types.JobRun {
	return &types.JobRun{
		ID:         uuid.New(),
		TenantID:   tenantID,
		JobType:    "chat_respond",
		EntityType: "conversation",
		EntityID:   testutil.PtrUUID(entityID),
		EntitySeq:  seq,
		Status:     status,
		Stage:      status,
		Payload:    datatypes.JSON([]byte("{}")),
		Result:     datatypes.JSON([]byte("{}")),
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestJobRunRepoClaimOrdersPerEntity(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	now := time.Now().UTC()
	tenantID := uuid.New()
	convA := uuid.New()
	convB := uuid.New()

	// Seq 2 was created first but must wait for seq 1 of the same conversation.
	a2 := newJob(tenantID, convA, 2, "queued", now.Add(-3*time.Minute))
	a1 := newJob(tenantID, convA, 1, "queued", now.Add(-2*time.Minute))
	b1 := newJob(tenantID, convB, 1, "queued", now.Add(-1*time.Minute))
	if _, err := repo.Create(dbc, []*types.JobRun{a2, a1, b1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := repo.ClaimNextRunnable(dbc, time.Minute)
	if err != nil || first == nil {
		t.Fatalf("ClaimNextRunnable: job=%v err=%v", first, err)
	}
	if first.ID != a1.ID {
		t.Fatalf("expected a1 first, got seq=%d entity=%v", first.EntitySeq, first.EntityID)
	}
	if first.Attempts != 1 || first.Status != "running" {
		t.Fatalf("claimed job: attempts=%d status=%s", first.Attempts, first.Status)
	}

	// a2 is blocked while a1 runs; the other conversation proceeds.
	second, err := repo.ClaimNextRunnable(dbc, time.Minute)
	if err != nil || second == nil || second.ID != b1.ID {
		t.Fatalf("expected b1 second, got=%v err=%v", second, err)
	}
	if got, err := repo.ClaimByID(dbc, a2.ID, time.Minute); err != nil || got != nil {
		t.Fatalf("ClaimByID(blocked): got=%v err=%v", got, err)
	}
	if none, err := repo.ClaimNextRunnable(dbc, time.Minute); err != nil || none != nil {
		t.Fatalf("expected nothing runnable, got=%v err=%v", none, err)
	}

	if ok, err := repo.UpdateFieldsUnlessStatus(dbc, a1.ID, []string{"succeeded", "failed"}, map[string]interface{}{
		"status": "succeeded",
	}); err != nil || !ok {
		t.Fatalf("UpdateFieldsUnlessStatus: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.UpdateFieldsUnlessStatus(dbc, a1.ID, []string{"succeeded", "failed"}, map[string]interface{}{
		"status": "failed",
	}); err != nil || ok {
		t.Fatalf("terminal status overwritten: ok=%v err=%v", ok, err)
	}

	third, err := repo.ClaimByID(dbc, a2.ID, time.Minute)
	if err != nil || third == nil || third.ID != a2.ID {
		t.Fatalf("ClaimByID(a2): got=%v err=%v", third, err)
	}

	latest, err := repo.GetLatestByEntity(dbc, tenantID, "conversation", convA, "chat_respond")
	if err != nil || latest == nil || latest.ID != a2.ID {
		t.Fatalf("GetLatestByEntity: got=%v err=%v", latest, err)
	}
}

func TestJobRunRepoReclaimsStaleRunning(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	now := time.Now().UTC()
	stale := newJob(uuid.New(), uuid.New(), 1, "running", now.Add(-time.Hour))
	stale.Attempts = 1
	stale.HeartbeatAt = testutil.PtrTime(now.Add(-10 * time.Minute))
	failed := newJob(uuid.New(), uuid.New(), 1, "failed", now.Add(-2*time.Hour))
	if _, err := repo.Create(dbc, []*types.JobRun{stale, failed}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.ClaimNextRunnable(dbc, 5*time.Minute)
	if err != nil || got == nil || got.ID != stale.ID {
		t.Fatalf("expected stale job reclaimed, got=%v err=%v", got, err)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts: want 2, got %d", got.Attempts)
	}
	// Failed jobs are never retried.
	if none, err := repo.ClaimNextRunnable(dbc, 5*time.Minute); err != nil || none != nil {
		t.Fatalf("expected no claim, got=%v err=%v", none, err)
	}

	if err := repo.Heartbeat(dbc, stale.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if n, err := repo.CountByStatus(dbc, "running"); err != nil || n != 1 {
		t.Fatalf("CountByStatus: n=%d err=%v", n, err)
	}
}
