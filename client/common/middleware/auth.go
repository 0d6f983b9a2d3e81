package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"msg_client/client/common/transport/httpresp"
)

const (
	CtxAccessToken = "auth_access_token"
	CtxUserID      = "auth_user_id"
	CtxTenantID    = "auth_tenant_id"
	CtxRole        = "auth_role"
)

type tokenAuth interface {
	ParseAuthContext(token string) (userID, tenantID, role string, err error)
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		userID, tenantID, role, err := auth.ParseAuthContext(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set(CtxAccessToken, token)
		c.Set(CtxUserID, userID)
		c.Set(CtxTenantID, tenantID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

// LocalOnly rejects requests that do not come from a loopback address.
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.RemoteIP()
		if ip == "127.0.0.1" || ip == "::1" || ip == "" {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
	}
}
