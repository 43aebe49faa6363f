package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type tenantDataKey struct{}

// TenantData is the authenticated tenant of a request. It is threaded
// explicitly through use cases; nothing reads it from a global.
type TenantData struct {
	TenantID uuid.UUID
	Subject  string
}

func WithTenantData(ctx context.Context, td *TenantData) context.Context {
	return context.WithValue(ctx, tenantDataKey{}, td)
}

func GetTenantData(ctx context.Context) *TenantData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(tenantDataKey{}).(*TenantData); ok {
		return td
	}
	return nil
}
