package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	jobrt "github.com/yungbote/widgetchat-backend/internal/jobs/runtime"
	"github.com/yungbote/widgetchat-backend/internal/modules/chat/steps"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
)

// RunRespondJob executes a claimed chat_respond job and terminates it: succeeded
// for a model reply, failed for the apology reply. A non-nil abandon skips
// inference.
func (u Usecases) RunRespondJob(jc *jobrt.Context, abandon error) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	convID, ok := jc.PayloadUUID("conversation_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing conversation_id"))
		return nil
	}
	msgID, ok := jc.PayloadUUID("message_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing message_id"))
		return nil
	}
	tenantID, _ := jc.PayloadUUID("tenant_id")
	if tenantID == uuid.Nil {
		tenantID = jc.Job.TenantID
	}

	stop := jc.KeepAlive(u.deps.HeartbeatInterval)
	defer stop()
	jc.Progress("inference", 10, "Generating reply")

	out, err := steps.Respond(jc.Ctx, u.respondDeps(), steps.RespondInput{
		TenantID:       tenantID,
		ConversationID: convID,
		MessageID:      msgID,
		SessionID:      jc.PayloadString("session_id"),
		JobID:          jc.Job.ID,
		Attempt:        jc.Attempt(),
		Abandon:        abandon,
	})
	if err != nil {
		jc.Fail("respond", err)
		return nil
	}
	if out.Failed {
		jc.Fail("inference", fmt.Errorf("%s", out.Error))
		return nil
	}
	jc.Succeed("done", out)
	return nil
}

// failUndispatched answers a job whose push to the queue failed. If the job can
// be claimed now, its conversation gets the failure reply immediately;
// otherwise it is still behind another job and the poll worker owns it.
func (u Usecases) failUndispatched(ctx context.Context, job *types.JobRun, cause error) {
	if job == nil || u.deps.JobRuns == nil {
		return
	}
	log := u.deps.Log.With("job_id", job.ID)
	claimed, err := u.deps.JobRuns.ClaimByID(dbctx.Context{Ctx: ctx}, job.ID, u.deps.StaleAfter)
	if err != nil {
		log.Warn("claim after dispatch failure", "error", err)
		return
	}
	if claimed == nil {
		log.Info("undispatched job left to poll worker")
		return
	}
	jc := jobrt.NewContext(ctx, u.deps.DB, claimed, u.deps.JobRuns, u.deps.JobObserver)
	_ = u.RunRespondJob(jc, fmt.Errorf("dispatch failed: %w", cause))
}
