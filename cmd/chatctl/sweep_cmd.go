package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/widgetchat-backend/internal/data/db"
	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	chatmod "github.com/yungbote/widgetchat-backend/internal/modules/chat"
)

func newSweepCmd() *cobra.Command {
	var (
		idleHours int
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate conversations idle longer than --idle-hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			if !cmd.Flags().Changed("idle-hours") {
				idleHours = cfg.Chat.IdleHours
			}

			pg, err := db.NewPostgresService(cfg.Database.DB(), log)
			if err != nil {
				return err
			}
			defer pg.Close()

			uc := chatmod.New(chatmod.UsecasesDeps{
				DB:            pg.DB(),
				Log:           log,
				Conversations: repos.NewConversationRepo(pg.DB(), log),
			})
			start := time.Now()
			n, err := uc.SweepIdle(cmd.Context(), chatmod.SweepInput{
				IdleFor:   time.Duration(idleHours) * time.Hour,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}
			return writeJSON(map[string]any{"deactivated": n, "idle_hours": idleHours, "duration_ms": time.Since(start).Milliseconds()})
		},
	}
	cmd.Flags().IntVar(&idleHours, "idle-hours", 24, "Idle threshold in hours (defaults to CONVERSATION_IDLE_HOURS)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "Rows deactivated per statement")
	return cmd
}
