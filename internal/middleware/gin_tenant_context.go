package middleware

import (
	"strings"

	"feedbackhub/internal/auth"
	"feedbackhub/internal/common"
	"feedbackhub/internal/tenant"

	"github.com/gin-gonic/gin"
)

// GinTenantContextMiddleware 把已解析的组织和认证出的操作者合并为 tenant.TenantContext。
// 放在 auth.ActorMiddleware 之后；没有组织的请求（健康检查等）原样放行。
func GinTenantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, ok := tenant.CurrentTenant(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		tc, _ := tenant.FromContext(c.Request.Context())
		tc.TenantID = org.ID
		if actor, ok := auth.ActorFromContext(c.Request.Context()); ok {
			tc.UserID = actor.ID
			tc.Roles = append([]string{}, actor.Roles...)
			tc.IsSystemAdmin = hasSystemAdminRole(actor.Roles)
		}

		c.Set("tenant_id", tc.TenantID)
		c.Set("organization", org)
		if tc.UserID != "" {
			c.Set("user_id", tc.UserID)
		}
		c.Request = c.Request.WithContext(tenant.WithTenantContext(c.Request.Context(), tc))
		c.Next()
	}
}

// RequireTenantMember 只允许属于当前组织的操作者访问，系统管理员除外
func RequireTenantMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, ok := tenant.CurrentTenant(c.Request.Context())
		if !ok {
			common.AbortWithError(c, common.CodeTenantNotFound, "")
			return
		}
		actor, ok := auth.ActorFromContext(c.Request.Context())
		if !ok {
			common.AbortWithError(c, common.CodeUnauthorized, "")
			return
		}
		if actor.OrganizationID != org.ID && !hasSystemAdminRole(actor.Roles) {
			common.AbortWithError(c, common.CodeForbidden, "不是该组织的成员")
			return
		}
		c.Next()
	}
}

func hasSystemAdminRole(roles []string) bool {
	for _, r := range roles {
		clean := strings.ToLower(strings.TrimSpace(r))
		switch clean {
		case "super_admin", "system_admin":
			return true
		}
	}
	return false
}
