package chatbot

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type ChatbotRepo interface {
	Create(dbc dbctx.Context, bots []*types.Chatbot) ([]*types.Chatbot, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chatbot, error)
	GetByTenantAndID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.Chatbot, error)
	GetByWidgetID(dbc dbctx.Context, widgetID string) (*types.Chatbot, error)
	IncrementConversations(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	IncrementMessages(dbc dbctx.Context, id uuid.UUID, delta int, at time.Time) error
}

type chatbotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatbotRepo(db *gorm.DB, baseLog *logger.Logger) ChatbotRepo {
	return &chatbotRepo{
		db:  db,
		log: baseLog.With("repo", "ChatbotRepo"),
	}
}

func (r *chatbotRepo) Create(dbc dbctx.Context, bots []*types.Chatbot) ([]*types.Chatbot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(bots) == 0 {
		return []*types.Chatbot{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&bots).Error; err != nil {
		return nil, err
	}
	return bots, nil
}

func (r *chatbotRepo) first(dbc dbctx.Context, query string, args ...interface{}) (*types.Chatbot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.Chatbot
	if err := transaction.WithContext(dbc.Ctx).
		Where(query, args...).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *chatbotRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chatbot, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc, "id = ?", id)
}

func (r *chatbotRepo) GetByTenantAndID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.Chatbot, error) {
	if tenantID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc, "tenant_id = ? AND id = ?", tenantID, id)
}

func (r *chatbotRepo) GetByWidgetID(dbc dbctx.Context, widgetID string) (*types.Chatbot, error) {
	if widgetID == "" {
		return nil, nil
	}
	return r.first(dbc, "widget_id = ?", widgetID)
}

func (r *chatbotRepo) IncrementConversations(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Chatbot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_conversations": gorm.Expr("total_conversations + 1"),
			"last_activity":       at.UTC(),
			"updated_at":          time.Now().UTC(),
		}).Error
}

func (r *chatbotRepo) IncrementMessages(dbc dbctx.Context, id uuid.UUID, delta int, at time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || delta == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Chatbot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_messages": gorm.Expr("total_messages + ?", delta),
			"last_activity":  at.UTC(),
			"updated_at":     time.Now().UTC(),
		}).Error
}
