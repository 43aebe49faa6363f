package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/widgetchat-backend/internal/platform/ctxutil"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

// TenantClaims are issued by the account service; this API only verifies them.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{
		log:    log.With("middleware", "AuthMiddleware"),
		secret: []byte(secret),
	}
}

// RequireTenant verifies an HS256 bearer token and attaches its tenant to the
// request context.
func (am *AuthMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			abortUnauthorized(c, "missing or invalid token")
			return
		}
		td, err := am.ParseToken(tokenString)
		if err != nil {
			am.log.Debug("Rejected token", "error", err)
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithTenantData(c.Request.Context(), td))
		c.Set("tenant_id", td.TenantID.String())
		c.Next()
	}
}

func (am *AuthMiddleware) ParseToken(tokenString string) (*ctxutil.TenantData, error) {
	if len(am.secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	claims := &TenantClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(claims.TenantID))
	if err != nil || tenantID == uuid.Nil {
		return nil, fmt.Errorf("token has no tenant_id")
	}
	return &ctxutil.TenantData{TenantID: tenantID, Subject: claims.Subject}, nil
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"message": msg, "code": "unauthorized"},
	})
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
