package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeAuditExport = "audit:export"
)

// QueueMaintenance 归档等后台维护任务的队列
const QueueMaintenance = "maintenance"

// AuditExportPayload 审计归档导出任务载荷。Cutoff 为零值时按保留天数计算。
type AuditExportPayload struct {
	Cutoff      time.Time `json:"cutoff,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// NewAuditExportTask 构造导出任务。同一时间只保留一个待执行的导出任务。
func NewAuditExportTask(p AuditExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAuditExport, data,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Unique(time.Hour),
	), nil
}
