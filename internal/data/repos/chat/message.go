package chat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, msgs []*types.Message) ([]*types.Message, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error)
	// ListContext returns up to limit user/assistant messages with seq <= maxSeq,
	// oldest first.
	ListContext(dbc dbctx.Context, conversationID uuid.UUID, maxSeq int64, limit int) ([]*types.Message, error)
	// ListHistory returns messages in seq order, optionally after a cursor.
	ListHistory(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]*types.Message, error)
	Latest(dbc dbctx.Context, conversationID uuid.UUID) (*types.Message, error)
	// ExistsAfter reports whether a message of role exists with seq > afterSeq.
	ExistsAfter(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64, role string) (bool, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{
		db:  db,
		log: baseLog.With("repo", "MessageRepo"),
	}
}

func (r *messageRepo) Create(dbc dbctx.Context, msgs []*types.Message) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(msgs) == 0 {
		return []*types.Message{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Message
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *messageRepo) ListContext(dbc dbctx.Context, conversationID uuid.UUID, maxSeq int64, limit int) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.Message{}
	if conversationID == uuid.Nil || limit <= 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND seq <= ? AND role IN ?",
			conversationID, maxSeq, []string{types.RoleUser, types.RoleAssistant}).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) ListHistory(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.Message{}
	if conversationID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID)
	if afterSeq > 0 {
		q = q.Where("seq > ?", afterSeq)
	}
	if err := q.Order("seq ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) latest(dbc dbctx.Context, conversationID uuid.UUID, role string) (*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if conversationID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).Where("conversation_id = ?", conversationID)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var out types.Message
	if err := q.Order("seq DESC").Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *messageRepo) Latest(dbc dbctx.Context, conversationID uuid.UUID) (*types.Message, error) {
	return r.latest(dbc, conversationID, "")
}


func (r *messageRepo) ExistsAfter(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64, role string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if conversationID == uuid.Nil {
		return false, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Message{}).
		Where("conversation_id = ? AND seq > ? AND role = ?", conversationID, afterSeq, role).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
