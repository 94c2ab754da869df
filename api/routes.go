package api

import (
	"feedbackhub/internal/auth"
	"feedbackhub/internal/middleware"

	"github.com/gin-gonic/gin"
)

// registerRoutes 注册业务路由
func registerRoutes(router *gin.Engine, c *AppContainer) {
	v1 := router.Group("/api/v1")

	// 当前租户（公开）
	v1.GET("/tenant", c.TenantHandler.Current)

	member := v1.Group("")
	member.Use(middleware.RequireTenantMember())
	{
		member.GET("/tenant/history", c.TenantHandler.History)

		trails := member.Group("/audit-trails")
		{
			trails.GET("", c.AuditHandler.ListTrails)
			trails.GET("/:id", c.AuditHandler.GetTrail)
			trails.GET("/:id/diff", c.AuditHandler.GetDiff)
		}
	}

	// 系统管理（不经过租户解析）
	admin := v1.Group("/admin")
	admin.Use(auth.RequireRole("super_admin", "system_admin"))
	{
		admin.POST("/organizations", c.TenantHandler.CreateOrganization)
		admin.PUT("/organizations/:id/tier", c.TenantHandler.ChangeTier)
		admin.PUT("/organizations/:id/domain", c.TenantHandler.VerifyDomain)

		// 归档覆盖所有组织的记录，只对系统管理员开放
		exportLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{RequestsPerSecond: 0.1, BurstSize: 1})
		admin.POST("/audit-trails/export", middleware.RateLimitByTenant(exportLimiter), c.AuditHandler.Export)
	}
}
