package api

import (
	"net/http"

	"feedbackhub/internal/auth"
	"feedbackhub/internal/metrics"
	"feedbackhub/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 不参与租户解析的路径前缀
var tenantSkipPaths = []string{"/health", "/ready", "/metrics", "/api/v1/admin"}

// SetupRouter 构建 HTTP 处理链。
//
// 租户解析包在 gin 外层：按路径段命中时先去掉组织前缀再进入路由，
// 这样 /acme/api/v1/... 与 acme.katauser.com/api/v1/... 命中同一条路由。
func SetupRouter(c *AppContainer) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())
	router.Use(auth.ActorMiddleware(c.JWTService))
	router.Use(middleware.GinTenantContextMiddleware())

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(c.DB, c.Redis))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerRoutes(router, c)

	return middleware.TenantResolver(middleware.TenantResolverConfig{
		Resolver:       c.Resolver,
		RedirectStatus: c.Config.Tenancy.RedirectStatus,
		SkipPaths:      tenantSkipPaths,
		Logger:         c.Logger,
	})(router)
}
