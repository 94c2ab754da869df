package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"feedbackhub/internal/common"
	"feedbackhub/internal/logger"
	"feedbackhub/internal/metrics"
	"feedbackhub/internal/tenant"

	"go.uber.org/zap"
)

// TenantResolverConfig 租户解析中间件配置
type TenantResolverConfig struct {
	Resolver *tenant.Resolver
	// RedirectStatus 跳转到规范地址时的状态码，默认 302
	RedirectStatus int
	// SkipPaths 不做租户解析的路径前缀，例如 /health、/metrics
	SkipPaths []string
	Logger    *zap.Logger
}

// TenantResolver 在路由之前解析请求所属的组织。
//
// 请求地址不是当前等级的规范地址时直接跳转；按路径段命中时去掉组织前缀再交给路由，
// 因此下游路由对三种访问方式完全一致。组织写入 context，后续通过 tenant.CurrentTenant 读取。
func TenantResolver(cfg TenantResolverConfig) func(http.Handler) http.Handler {
	status := cfg.RedirectStatus
	if status == 0 {
		status = http.StatusFound
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPath(r.URL.Path, cfg.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := tenant.CurrentTenant(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			res, err := cfg.Resolver.Resolve(r.Context(), r.Host, r.URL.Path, r.URL.RawQuery)
			if err != nil {
				writeTenantError(w, r, log, err)
				return
			}

			if res.Redirect {
				metrics.TenantResolutions.WithLabelValues("redirected", string(res.MatchedBy)).Inc()
				http.Redirect(w, r, res.CanonicalURL, status)
				return
			}
			metrics.TenantResolutions.WithLabelValues("passed", string(res.MatchedBy)).Inc()

			ctx := tenant.WithOrganization(r.Context(), res.Organization)
			r = r.WithContext(ctx)
			if res.MatchedBy == tenant.MatchSlug {
				r = stripSlug(r, res.Rest)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func skipPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// stripSlug 路由看到的是去掉组织前缀后的路径
func stripSlug(r *http.Request, rest string) *http.Request {
	u := *r.URL
	u.Path = "/" + rest
	u.RawPath = ""
	r.URL = &u
	return r
}

func writeTenantError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var code int
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		metrics.TenantResolutions.WithLabelValues("not_found", "").Inc()
		code = common.CodeTenantNotFound
	case errors.Is(err, tenant.ErrAmbiguousTenant):
		metrics.TenantResolutions.WithLabelValues("error", "").Inc()
		log.Error("组织解析歧义", zap.String("host", r.Host), zap.String("path", r.URL.Path), zap.Error(err))
		code = common.CodeTenantAmbiguous
	default:
		metrics.TenantResolutions.WithLabelValues("error", "").Inc()
		log.Error("组织解析失败", zap.String("host", r.Host), zap.Error(err))
		code = common.CodeInternalError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(common.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(common.ErrorResponse(code, common.GetErrorMessage(code)))
}
