package api

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"feedbackhub/internal/config"
	"feedbackhub/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Database string `json:"database,omitempty"`
	Redis    string `json:"redis,omitempty"`
}

// HealthCheck 健康检查
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, HealthResponse{Status: "healthy", Service: "feedbackhub"})
	}
}

// ReadinessCheck 就绪检查，Redis 未配置时不参与判断
func ReadinessCheck(db *gorm.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := infra.HealthCheck(db); err != nil {
			c.JSON(503, ReadinessResponse{Status: "not_ready", Reason: "database ping failed"})
			return
		}
		resp := ReadinessResponse{Status: "ready", Database: "connected"}
		if rdb != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				// Redis 不可用只标记降级
				resp.Redis = "degraded"
			} else {
				resp.Redis = "connected"
			}
		}
		c.JSON(200, resp)
	}
}

// --- 环境变量辅助函数 ---

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	return parseAddrList(os.Getenv(key))
}

// stringInSlice 判断字符串是否存在于切片中
func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}

// --- Redis 配置辅助函数 ---

// NormalizeRedisConfig 归一化 Redis 配置。Host 为空且没有 REDIS_ADDR 时保持未启用。
func NormalizeRedisConfig(cfg config.RedisConfig) config.RedisConfig {
	resolved := cfg
	resolved.Host = strings.TrimSpace(resolved.Host)
	resolved.Mode = strings.TrimSpace(strings.ToLower(resolved.Mode))

	if resolved.Mode == "" {
		resolved.Mode = "standalone"
	}

	if resolved.Host == "" {
		if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
			host, port := parseRedisAddr(addr)
			resolved.Host = host
			if resolved.Port == 0 && port > 0 {
				resolved.Port = port
			}
		}
	}
	if resolved.Host != "" && resolved.Port == 0 {
		resolved.Port = 6379
	}

	if resolved.Mode == "sentinel" && len(resolved.SentinelAddrs) == 0 {
		resolved.SentinelAddrs = parseAddrList(os.Getenv("APP_REDIS_SENTINEL_ADDRS"))
	}
	if resolved.Mode == "cluster" && len(resolved.ClusterAddrs) == 0 {
		resolved.ClusterAddrs = parseAddrList(os.Getenv("APP_REDIS_CLUSTER_ADDRS"))
	}

	// 连接池默认值
	if resolved.PoolSize <= 0 {
		resolved.PoolSize = 10
	}
	if resolved.MinIdleConns <= 0 {
		resolved.MinIdleConns = 5
	}

	return resolved
}

// parseAddrList 解析逗号分隔的地址列表
func parseAddrList(addrsStr string) []string {
	addrsStr = strings.TrimSpace(addrsStr)
	if addrsStr == "" {
		return nil
	}
	parts := strings.Split(addrsStr, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// parseRedisAddr 解析 Redis 地址
func parseRedisAddr(addr string) (string, int) {
	if strings.TrimSpace(addr) == "" {
		return "", 0
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr), 0
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}

	return host, port
}
