package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedbackhub/internal/audit"
	"feedbackhub/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Exporter 审计导出抽象，便于注入 mock
type Exporter interface {
	Export(ctx context.Context, cutoff time.Time) (*audit.ArchiveResult, error)
}

type AuditExportHandler struct {
	exporter Exporter
	logger   *zap.Logger
}

func NewAuditExportHandler(exporter Exporter, logger *zap.Logger) *AuditExportHandler {
	return &AuditExportHandler{
		exporter: exporter,
		logger:   logger,
	}
}

func (h *AuditExportHandler) HandleAuditExport(ctx context.Context, t *asynq.Task) error {
	var p tasks.AuditExportPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}
	}

	h.logger.Info("开始导出审计记录",
		zap.Time("cutoff", p.Cutoff),
		zap.String("requested_by", p.RequestedBy),
	)

	res, err := h.exporter.Export(ctx, p.Cutoff)
	if err != nil {
		h.logger.Error("审计导出失败", zap.Error(err))
		return err
	}

	h.logger.Info("审计导出完成",
		zap.Int64("records", res.Records),
		zap.Strings("files", res.Files),
		zap.Duration("duration", res.Duration),
	)
	return nil
}
