package auth

import (
	"net/http"

	"feedbackhub/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActorContextKey gin 上下文中的操作者键
const ActorContextKey = "actor"

// ActorMiddleware 可选认证：令牌有效则识别操作者，否则按匿名请求继续
func ActorMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractTokenFromBearer(c.GetHeader("Authorization"))
		if token == "" || jwtService == nil {
			c.Next()
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			logger.WithContext(c.Request.Context()).Debug("忽略无效令牌", zap.Error(err))
			c.Next()
			return
		}

		actor := claims.Actor()
		c.Set(ActorContextKey, actor)
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// RequireActor 要求已识别操作者
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ActorFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}
		c.Next()
	}
}

// RequireRole 角色检查中间件
func RequireRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}
		if !actor.HasRole(requiredRoles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "角色权限不足"})
			return
		}
		c.Next()
	}
}

// GetActor 从 gin 上下文读取操作者
func GetActor(c *gin.Context) (*Actor, bool) {
	v, exists := c.Get(ActorContextKey)
	if !exists {
		return nil, false
	}
	actor, ok := v.(*Actor)
	return actor, ok
}
