package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/iqraspace/iqra-api/internal/models"
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
	"github.com/iqraspace/iqra-api/pkg/response"
)

// RequireRoles blocks callers whose role is not in the allow list. Admins are
// always allowed. A route may additionally pass "self" access by matching the
// :id path parameter against the caller, via RequireRolesOrSelf.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return requireRoles(false, roles...)
}

// RequireRolesOrSelf behaves like RequireRoles but also admits a caller whose
// user ID equals the :id path parameter.
func RequireRolesOrSelf(roles ...models.UserRole) gin.HandlerFunc {
	return requireRoles(true, roles...)
}

func requireRoles(allowSelf bool, roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if claims.IsAdmin() {
			c.Next()
			return
		}
		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
