package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, convs []*types.Conversation) ([]*types.Conversation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	// GetForSession returns the conversation only when it belongs to the chatbot and session.
	GetForSession(dbc dbctx.Context, chatbotID uuid.UUID, sessionID string, id uuid.UUID) (*types.Conversation, error)
	FindActive(dbc dbctx.Context, chatbotID uuid.UUID, sessionID string) (*types.Conversation, error)
	LatestForSession(dbc dbctx.Context, chatbotID uuid.UUID, sessionID string) (*types.Conversation, error)
	// AllocateSeq reserves the next message sequence number. Call inside the
	// transaction that inserts the message.
	AllocateSeq(dbc dbctx.Context, id uuid.UUID) (int64, error)
	Touch(dbc dbctx.Context, id uuid.UUID, messageDelta int, at time.Time) error
	Deactivate(dbc dbctx.Context, id uuid.UUID) (bool, error)
	DeactivateIdle(dbc dbctx.Context, idleSince time.Time, limit int) (int64, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{
		db:  db,
		log: baseLog.With("repo", "ConversationRepo"),
	}
}

func (r *conversationRepo) Create(dbc dbctx.Context, convs []*types.Conversation) ([]*types.Conversation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(convs) == 0 {
		return []*types.Conversation{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *conversationRepo) find(dbc dbctx.Context, order string, query string, args ...interface{}) (*types.Conversation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Where(query, args...)
	if order != "" {
		q = q.Order(order)
	}
	var out types.Conversation
	if err := q.Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.find(dbc, "", "id = ?", id)
}

func (r *conversationRepo) GetForSession(dbc dbctx.Context, chatbotID uuid.UUID, sessionID string, id uuid.UUID) (*types.Conversation, error) {
	if chatbotID == uuid.Nil || sessionID == "" || id == uuid.Nil {
		return nil, nil
	}
	return r.find(dbc, "", "id = ? AND chatbot_id = ? AND session_id = ?", id, chatbotID, sessionID)
}

func (r *conversationRepo) FindActive(dbc dbctx.Context, chatbotID uuid.UUID, sessionID string) (*types.Conversation, error) {
	if chatbotID == uuid.Nil || sessionID == "" {
		return nil, nil
	}
	return r.find(dbc, "last_activity DESC", "chatbot_id = ? AND session_id = ? AND is_active = ?", chatbotID, sessionID, true)
}

func (r *conversationRepo) LatestForSession(dbc dbctx.Context, chatbotID uuid.UUID, sessionID string) (*types.Conversation, error) {
	if sessionID == "" {
		return nil, nil
	}
	if chatbotID == uuid.Nil {
		return r.find(dbc, "last_activity DESC", "session_id = ?", sessionID)
	}
	return r.find(dbc, "last_activity DESC", "chatbot_id = ? AND session_id = ?", chatbotID, sessionID)
}

func (r *conversationRepo) AllocateSeq(dbc dbctx.Context, id uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return 0, gorm.ErrRecordNotFound
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("next_seq", gorm.Expr("next_seq + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	var seq int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Select("next_seq").
		Scan(&seq).Error; err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *conversationRepo) Touch(dbc dbctx.Context, id uuid.UUID, messageDelta int, at time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	updates := map[string]interface{}{
		"last_activity": at.UTC(),
		"updated_at":    time.Now().UTC(),
	}
	if messageDelta != 0 {
		updates["message_count"] = gorm.Expr("message_count + ?", messageDelta)
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) Deactivate(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *conversationRepo) DeactivateIdle(dbc dbctx.Context, idleSince time.Time, limit int) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 500
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("is_active = ? AND last_activity < ?", true, idleSince.UTC()).
		Order("last_activity ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
