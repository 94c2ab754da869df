package tracking

import (
	"context"

	"feedbackhub/internal/logger"
	"feedbackhub/internal/metrics"

	"go.uber.org/zap"
)

// ErrorReporter 接收被吞掉的审计写入失败（删除路径）
type ErrorReporter interface {
	ReportAuditFailure(ctx context.Context, operation, entityType, entityID string, err error)
}

// LogReporter 将失败写入日志与指标
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter logger 为 nil 时使用全局 logger
func NewLogReporter(l *zap.Logger) *LogReporter {
	return &LogReporter{logger: l}
}

// ReportAuditFailure 实现 ErrorReporter
func (r *LogReporter) ReportAuditFailure(ctx context.Context, operation, entityType, entityID string, err error) {
	l := r.logger
	if l == nil {
		l = logger.Get()
	}
	if id := logger.RequestID(ctx); id != "" {
		l = l.With(zap.String("request_id", id))
	}
	metrics.AuditWriteFailures.WithLabelValues(operation, entityType).Inc()
	l.Error("审计记录写入失败",
		zap.String("operation", operation),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.Error(err),
	)
}
