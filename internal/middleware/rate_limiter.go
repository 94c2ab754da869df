package middleware

import (
	"sync"
	"time"

	"feedbackhub/internal/common"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerSecond float64       // 每秒补充的令牌数
	BurstSize         int           // 突发容量
	IdleTTL           time.Duration // 超过该时长未访问的客户端被清理
}

// DefaultRateLimiterConfig 默认配置
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		IdleTTL:           10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按键的令牌桶集合
type RateLimiter struct {
	cfg     RateLimiterConfig
	mu      sync.Mutex
	clients map[string]*limiterEntry
	now     func() time.Time
}

// NewRateLimiter 创建限流器，空闲条目在 Allow 时顺带清理
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimiterConfig().RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultRateLimiterConfig().BurstSize
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimiterConfig().IdleTTL
	}
	return &RateLimiter{cfg: cfg, clients: make(map[string]*limiterEntry), now: time.Now}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, e := range rl.clients {
		if now.Sub(e.lastSeen) > rl.cfg.IdleTTL {
			delete(rl.clients, k)
		}
	}

	e, ok := rl.clients[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.BurstSize)}
		rl.clients[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// RateLimitByTenant 写接口限流，键为 组织 + 操作者（匿名时用 IP）
func RateLimitByTenant(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		who := c.GetString("user_id")
		if who == "" {
			who = c.ClientIP()
		}
		key := c.GetString("tenant_id") + ":" + who

		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			common.AbortWithError(c, common.CodeTooManyRequests, "")
			return
		}
		c.Next()
	}
}
