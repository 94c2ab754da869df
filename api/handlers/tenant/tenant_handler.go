package tenant

import (
	"context"
	"errors"
	"net/http"
	"time"

	auditpkg "feedbackhub/internal/audit"
	"feedbackhub/internal/common"
	"feedbackhub/internal/logger"
	"feedbackhub/internal/recordstore"
	tenantSvc "feedbackhub/internal/tenant"
	"feedbackhub/internal/tracking"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrganizationService 组织写操作
type OrganizationService interface {
	Create(ctx context.Context, in tenantSvc.CreateInput) (*tenantSvc.Organization, error)
	ChangeTier(ctx context.Context, id string, tier tenantSvc.Tier) (*tenantSvc.Organization, error)
	VerifyDomain(ctx context.Context, id, domain string, verifiedAt time.Time) (*tenantSvc.Organization, error)
}

// CanonicalResolver 计算组织的规范根地址
type CanonicalResolver interface {
	CanonicalBase(org *tenantSvc.Organization) (string, error)
}

// TenantHandler 当前租户信息与组织管理
type TenantHandler struct {
	service  OrganizationService
	resolver CanonicalResolver
	history  auditpkg.Reader
}

func NewTenantHandler(service OrganizationService, resolver CanonicalResolver, history auditpkg.Reader) *TenantHandler {
	return &TenantHandler{service: service, resolver: resolver, history: history}
}

// createOrganizationRequest 创建组织请求体
type createOrganizationRequest struct {
	Name      string `json:"name" binding:"required"`
	Slug      string `json:"slug" binding:"required"`
	Subdomain string `json:"subdomain"`
	Tier      string `json:"tier"`
}

type changeTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

type verifyDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// organizationView 组织信息及其当前规范地址
type organizationView struct {
	*tenantSvc.Organization
	CanonicalURL string `json:"canonical_url"`
}

// Current 返回解析到的当前组织
func (h *TenantHandler) Current(c *gin.Context) {
	org, ok := tenantSvc.CurrentTenant(c.Request.Context())
	if !ok {
		common.ResponseError(c, common.CodeTenantNotFound, "")
		return
	}
	common.ResponseSuccess(c, h.view(org))
}

// History 当前组织自身的变更历史（等级、域名等）
func (h *TenantHandler) History(c *gin.Context) {
	org, ok := tenantSvc.CurrentTenant(c.Request.Context())
	if !ok {
		common.ResponseError(c, common.CodeTenantNotFound, "")
		return
	}
	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	records, total, err := h.history.Query(c.Request.Context(), auditpkg.Filter{
		EntityType: org.EntityType(),
		EntityID:   org.ID,
		Page:       page,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.ResponseList(c, records, total, page)
}

// CreateOrganization 系统管理员创建组织
func (h *TenantHandler) CreateOrganization(c *gin.Context) {
	var body createOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	org, err := h.service.Create(c.Request.Context(), tenantSvc.CreateInput{
		Name:      body.Name,
		Slug:      body.Slug,
		Subdomain: body.Subdomain,
		Tier:      tenantSvc.Tier(body.Tier),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.ResponseCreated(c, h.view(org))
}

// ChangeTier 变更套餐等级
func (h *TenantHandler) ChangeTier(c *gin.Context) {
	var uri common.IDRequest
	var body changeTierRequest
	if err := bindUpdate(c, &uri, &body); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	org, err := h.service.ChangeTier(c.Request.Context(), uri.ID, tenantSvc.Tier(body.Tier))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.ResponseSuccess(c, h.view(org))
}

// VerifyDomain 绑定已验证的自定义域名
func (h *TenantHandler) VerifyDomain(c *gin.Context) {
	var uri common.IDRequest
	var body verifyDomainRequest
	if err := bindUpdate(c, &uri, &body); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	org, err := h.service.VerifyDomain(c.Request.Context(), uri.ID, body.Domain, time.Now())
	if err != nil {
		h.fail(c, err)
		return
	}
	common.ResponseSuccess(c, h.view(org))
}

// bindUpdate 绑定路径中的组织 ID 与请求体
func bindUpdate(c *gin.Context, uri *common.IDRequest, body any) error {
	if err := c.ShouldBindUri(uri); err != nil {
		return err
	}
	return c.ShouldBindJSON(body)
}

func (h *TenantHandler) view(org *tenantSvc.Organization) organizationView {
	v := organizationView{Organization: org}
	if base, err := h.resolver.CanonicalBase(org); err == nil {
		v.CanonicalURL = base
	}
	return v
}

func (h *TenantHandler) fail(c *gin.Context, err error) {
	be := toBusinessError(err)
	if common.HTTPStatus(be.Code) >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("组织接口失败", zap.Int("code", be.Code), zap.Error(err))
	}
	common.ResponseBusinessError(c, be)
}

// toBusinessError 服务层错误映射为业务错误码
func toBusinessError(err error) *common.BusinessError {
	var be *common.BusinessError
	if errors.As(err, &be) {
		return be
	}
	switch {
	case errors.Is(err, recordstore.ErrNotFound):
		return common.NewBusinessError(common.CodeNotFound, "组织不存在")
	case errors.Is(err, tenantSvc.ErrUnknownTier):
		return common.NewBusinessError(common.CodeInvalidRequest, err.Error())
	case errors.Is(err, tracking.ErrConcurrentModification):
		return common.NewBusinessError(common.CodeVersionConflict, "")
	case errors.Is(err, tracking.ErrAuditPersistence):
		return common.NewBusinessError(common.CodeAuditFailed, "")
	}
	return common.NewBusinessError(common.CodeInternalError, "")
}
