package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/testutil"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
)

func TestConversationRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewConversationRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	tn := testutil.SeedTenant(t, ctx, tx, 10)
	bot := testutil.SeedChatbot(t, ctx, tx, tn.ID, "")
	conv := testutil.SeedConversation(t, ctx, tx, bot, "S1")

	if got, err := repo.FindActive(dbc, bot.ID, "S1"); err != nil || got == nil || got.ID != conv.ID {
		t.Fatalf("FindActive: got=%v err=%v", got, err)
	}
	if got, err := repo.FindActive(dbc, bot.ID, "S2"); err != nil || got != nil {
		t.Fatalf("FindActive(other session): got=%v err=%v", got, err)
	}
	if got, err := repo.GetForSession(dbc, bot.ID, "S2", conv.ID); err != nil || got != nil {
		t.Fatalf("GetForSession(wrong session): got=%v err=%v", got, err)
	}
	if got, err := repo.GetForSession(dbc, bot.ID, "S1", conv.ID); err != nil || got == nil {
		t.Fatalf("GetForSession: got=%v err=%v", got, err)
	}

	for want := int64(1); want <= 3; want++ {
		seq, err := repo.AllocateSeq(dbc, conv.ID)
		if err != nil {
			t.Fatalf("AllocateSeq: %v", err)
		}
		if seq != want {
			t.Fatalf("AllocateSeq: want %d, got %d", want, seq)
		}
	}
	if _, err := repo.AllocateSeq(dbc, uuid.New()); err == nil {
		t.Fatalf("AllocateSeq(missing): expected error")
	}

	at := time.Now().UTC().Add(time.Minute)
	if err := repo.Touch(dbc, conv.ID, 2, at); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := repo.GetByID(dbc, conv.ID)
	if got.MessageCount != 2 {
		t.Fatalf("MessageCount: want 2, got %d", got.MessageCount)
	}

	if ok, err := repo.Deactivate(dbc, conv.ID); err != nil || !ok {
		t.Fatalf("Deactivate: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.Deactivate(dbc, conv.ID); err != nil || ok {
		t.Fatalf("Deactivate twice: ok=%v err=%v", ok, err)
	}
	if got, err := repo.FindActive(dbc, bot.ID, "S1"); err != nil || got != nil {
		t.Fatalf("FindActive after end: got=%v err=%v", got, err)
	}
	if got, err := repo.LatestForSession(dbc, bot.ID, "S1"); err != nil || got == nil || got.ID != conv.ID {
		t.Fatalf("LatestForSession: got=%v err=%v", got, err)
	}
}

func TestConversationRepoDeactivateIdle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewConversationRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	tn := testutil.SeedTenant(t, ctx, tx, 10)
	bot := testutil.SeedChatbot(t, ctx, tx, tn.ID, "")
	stale := testutil.SeedConversation(t, ctx, tx, bot, "old")
	fresh := testutil.SeedConversation(t, ctx, tx, bot, "new")

	if err := repo.Touch(dbc, stale.ID, 0, time.Now().UTC().Add(-48*time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	n, err := repo.DeactivateIdle(dbc, time.Now().UTC().Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("DeactivateIdle: %v", err)
	}
	if n != 1 {
		t.Fatalf("DeactivateIdle: want 1, got %d", n)
	}
	if got, _ := repo.GetByID(dbc, fresh.ID); !got.IsActive {
		t.Fatalf("fresh conversation should stay active")
	}
}

func TestMessageRepoListContext(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewMessageRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	tn := testutil.SeedTenant(t, ctx, tx, 100)
	bot := testutil.SeedChatbot(t, ctx, tx, tn.ID, "")
	conv := testutil.SeedConversation(t, ctx, tx, bot, "S1")

	var trigger *types.Message
	for i := 1; i <= 12; i++ {
		role := types.RoleUser
		if i%2 == 0 {
			role = types.RoleAssistant
		}
		testutil.SeedMessage(t, ctx, tx, conv, role, fmt.Sprintf("m%d", i))
	}
	trigger = testutil.SeedMessage(t, ctx, tx, conv, types.RoleUser, "m13")
	// A later message must not leak into the window of the trigger.
	testutil.SeedMessage(t, ctx, tx, conv, types.RoleUser, "m14")

	msgs, err := repo.ListContext(dbc, conv.ID, trigger.Seq, 10)
	if err != nil {
		t.Fatalf("ListContext: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("ListContext: want 10, got %d", len(msgs))
	}
	if msgs[0].Content != "m4" || msgs[9].Content != "m13" {
		t.Fatalf("ListContext window: first=%q last=%q", msgs[0].Content, msgs[9].Content)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq <= msgs[i-1].Seq {
			t.Fatalf("ListContext not ascending at %d", i)
		}
	}

	hist, err := repo.ListHistory(dbc, conv.ID, 12, 0)
	if err != nil || len(hist) != 2 {
		t.Fatalf("ListHistory after seq 12: len=%d err=%v", len(hist), err)
	}

	last, err := repo.Latest(dbc, conv.ID)
	if err != nil || last == nil || last.Content != "m14" {
		t.Fatalf("Latest: got=%v err=%v", last, err)
	}
	if ok, err := repo.ExistsAfter(dbc, conv.ID, trigger.Seq, types.RoleAssistant); err != nil || ok {
		t.Fatalf("ExistsAfter: ok=%v err=%v", ok, err)
	}
}
