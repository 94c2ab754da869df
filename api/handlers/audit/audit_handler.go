package audit

import (
	"context"
	"errors"
	"net/http"

	auditpkg "feedbackhub/internal/audit"
	"feedbackhub/internal/auth"
	"feedbackhub/internal/common"
	"feedbackhub/internal/logger"
	"feedbackhub/internal/tenant"
	"feedbackhub/internal/worker/tasks"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ExportEnqueuer 投递审计导出任务
type ExportEnqueuer interface {
	EnqueueAuditExport(ctx context.Context, p tasks.AuditExportPayload) (string, error)
}

// AuditHandler 审计轨迹处理器，只返回当前组织的记录
type AuditHandler struct {
	reader   auditpkg.Reader
	enqueuer ExportEnqueuer
}

// NewAuditHandler 创建审计轨迹处理器；enqueuer 为 nil 时导出接口返回 503
func NewAuditHandler(reader auditpkg.Reader, enqueuer ExportEnqueuer) *AuditHandler {
	return &AuditHandler{reader: reader, enqueuer: enqueuer}
}

// listRequest 查询参数
type listRequest struct {
	common.PaginationRequest
	common.TimeWindow
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	ActorID    string `form:"actor_id"`
}

// ListTrails 查询审计轨迹
func (h *AuditHandler) ListTrails(c *gin.Context) {
	org, ok := tenant.CurrentTenant(c.Request.Context())
	if !ok {
		common.ResponseError(c, common.CodeTenantNotFound, "")
		return
	}

	var req listRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	if req.EntityID != "" && req.EntityType == "" {
		common.ResponseBadRequest(c, "entity_id 需要同时指定 entity_type")
		return
	}

	records, total, err := h.reader.Query(c.Request.Context(), auditpkg.Filter{
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		ActorID:        req.ActorID,
		OrganizationID: org.ID,
		Since:          req.Since,
		Until:          req.Until,
		Page:           req.PaginationRequest,
	})
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("查询审计轨迹失败", zap.Error(err))
		common.ResponseServerError(c, "查询失败")
		return
	}
	common.ResponseList(c, records, total, req.PaginationRequest)
}

// GetTrail 获取单条审计记录
func (h *AuditHandler) GetTrail(c *gin.Context) {
	record, ok := h.load(c)
	if !ok {
		return
	}
	common.ResponseSuccess(c, gin.H{
		"record":    record,
		"operation": record.Operation(),
	})
}

// GetDiff 以 unified diff 文本返回一条记录的前后差异
func (h *AuditHandler) GetDiff(c *gin.Context) {
	record, ok := h.load(c)
	if !ok {
		return
	}
	diff, err := auditpkg.RenderDiff(record)
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	c.String(http.StatusOK, diff)
}

// Export 投递一次审计归档导出
func (h *AuditHandler) Export(c *gin.Context) {
	if h.enqueuer == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "审计归档未启用")
		return
	}
	var requestedBy string
	if actor, ok := auth.GetActor(c); ok {
		requestedBy = actor.ID
	}

	taskID, err := h.enqueuer.EnqueueAuditExport(c.Request.Context(), tasks.AuditExportPayload{RequestedBy: requestedBy})
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		common.ResponseError(c, common.CodeConflict, "已有导出任务在排队")
		return
	}
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("投递审计导出任务失败", zap.Error(err))
		common.ResponseServerError(c, "投递失败")
		return
	}
	c.JSON(http.StatusAccepted, common.SuccessResponse(gin.H{"task_id": taskID}))
}

// load 读取记录并校验组织归属；其他组织的记录一律按不存在处理
func (h *AuditHandler) load(c *gin.Context) (*auditpkg.Record, bool) {
	org, ok := tenant.CurrentTenant(c.Request.Context())
	if !ok {
		common.ResponseError(c, common.CodeTenantNotFound, "")
		return nil, false
	}
	var uri common.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return nil, false
	}
	record, err := h.reader.Get(c.Request.Context(), uri.ID)
	if errors.Is(err, auditpkg.ErrNotFound) {
		common.ResponseNotFound(c, "审计记录不存在")
		return nil, false
	}
	if err != nil {
		common.ResponseServerError(c, "查询失败")
		return nil, false
	}
	if record.OrganizationID == nil || *record.OrganizationID != org.ID {
		common.ResponseNotFound(c, "审计记录不存在")
		return nil, false
	}
	return record, true
}
