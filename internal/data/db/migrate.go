package db

import (
	"fmt"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	if IsPostgres(db) {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return fmt.Errorf("enable uuid-ossp: %w", err)
		}
	}
	if err := db.AutoMigrate(types.AllModels()...); err != nil {
		return err
	}
	if IsPostgres(db) {
		return EnsureChatIndexes(db)
	}
	return nil
}

func EnsureChatIndexes(db *gorm.DB) error {
	// Ingest resolves the active conversation for a widget session.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_conversation_active_session
		ON conversation (chatbot_id, session_id, last_activity DESC)
		WHERE deleted_at IS NULL AND is_active;
	`).Error; err != nil {
		return fmt.Errorf("create idx_conversation_active_session: %w", err)
	}

	// Context window reads the newest turns at or below a sequence number.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_message_conversation_seq_desc
		ON message (conversation_id, seq DESC)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_message_conversation_seq_desc: %w", err)
	}

	// Claim scans queued work per entity.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_runnable
		ON job_run (status, created_at)
		WHERE status IN ('queued', 'running');
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_runnable: %w", err)
	}
	return nil
}
