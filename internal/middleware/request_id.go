package middleware

import (
	"feedbackhub/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HTTP 头常量
const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

const (
	requestIDKey = "request_id"
	traceIDKey   = "trace_id"
)

// RequestIDMiddleware 请求 ID 中间件
// 支持上游传递；写入 gin 上下文与 context.Context，审计记录和日志都从这里取
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > 100 {
			requestID = uuid.NewString()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = requestID
		}

		c.Set(requestIDKey, requestID)
		c.Set(traceIDKey, traceID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}

// GetRequestIDFromGin 从 Gin 上下文获取请求 ID
func GetRequestIDFromGin(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// GetTraceIDFromGin 从 Gin 上下文获取追踪 ID
func GetTraceIDFromGin(c *gin.Context) string {
	return c.GetString(traceIDKey)
}
