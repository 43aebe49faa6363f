package tenant

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/dbctx"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

type TenantRepo interface {
	Create(dbc dbctx.Context, tenants []*types.Tenant) ([]*types.Tenant, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Tenant, error)
	// ReserveMessage consumes one unit of monthly quota. It returns false when the
	// tenant is missing, suspended, or out of quota.
	ReserveMessage(dbc dbctx.Context, id uuid.UUID, now time.Time) (bool, error)
}

type tenantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return &tenantRepo{
		db:  db,
		log: baseLog.With("repo", "TenantRepo"),
	}
}

func (r *tenantRepo) Create(dbc dbctx.Context, tenants []*types.Tenant) ([]*types.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tenants) == 0 {
		return []*types.Tenant{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *tenantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Tenant
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


func (r *tenantRepo) ReserveMessage(dbc dbctx.Context, id uuid.UUID, now time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now = now.UTC()

	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Tenant{}).
		Where("id = ? AND billing_cycle_start <= ?", id, now.AddDate(0, -1, 0)).
		Updates(map[string]interface{}{
			"messages_used":       0,
			"billing_cycle_start": now,
			"updated_at":          now,
		}).Error; err != nil {
		return false, err
	}

	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Tenant{}).
		Where("id = ? AND status <> ? AND messages_used < message_quota", id, "suspended").
		Updates(map[string]interface{}{
			"messages_used": gorm.Expr("messages_used + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
