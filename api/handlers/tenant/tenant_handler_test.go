package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auditpkg "feedbackhub/internal/audit"
	"feedbackhub/internal/common"
	"feedbackhub/internal/recordstore"
	tenantSvc "feedbackhub/internal/tenant"
	"feedbackhub/internal/tracking"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrganizationService struct {
	lastCreate tenantSvc.CreateInput
	orgs       map[string]*tenantSvc.Organization
	writeErr   error
}

func (f *fakeOrganizationService) Create(_ context.Context, in tenantSvc.CreateInput) (*tenantSvc.Organization, error) {
	f.lastCreate = in
	if in.Tier != "" && !in.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", tenantSvc.ErrUnknownTier, in.Tier)
	}
	return &tenantSvc.Organization{ID: "o-new", Name: in.Name, Slug: in.Slug, Tier: tenantSvc.TierFree}, nil
}

func (f *fakeOrganizationService) ChangeTier(_ context.Context, id string, tier tenantSvc.Tier) (*tenantSvc.Organization, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	org, ok := f.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: Organization %s", recordstore.ErrNotFound, id)
	}
	org.Tier = tier
	return org, nil
}

func (f *fakeOrganizationService) VerifyDomain(_ context.Context, id, domain string, at time.Time) (*tenantSvc.Organization, error) {
	org, ok := f.orgs[id]
	if !ok {
		return nil, recordstore.ErrNotFound
	}
	org.CustomDomain = &domain
	org.DomainVerifiedAt = &at
	return org, nil
}

type fakeCanonical struct{}

func (fakeCanonical) CanonicalBase(org *tenantSvc.Organization) (string, error) {
	switch org.Tier {
	case tenantSvc.TierFree:
		return "https://katauser.com/" + org.Slug, nil
	case tenantSvc.TierEnterprise:
		if org.HasVerifiedDomain() {
			return "https://" + org.VerifiedDomain(), nil
		}
	}
	return "https://" + org.Subdomain + ".katauser.com", nil
}

type fakeHistory struct {
	filter auditpkg.Filter
	err    error
}

func (f *fakeHistory) Query(_ context.Context, filter auditpkg.Filter) ([]*auditpkg.Record, int64, error) {
	f.filter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	return []*auditpkg.Record{{ID: "r1", EntityType: "Organization", EntityID: filter.EntityID}}, 1, nil
}

func (f *fakeHistory) Get(context.Context, string) (*auditpkg.Record, error) {
	return nil, auditpkg.ErrNotFound
}

func setupRouter(h *TenantHandler, org *tenantSvc.Organization) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if org != nil {
			c.Request = c.Request.WithContext(tenantSvc.WithOrganization(c.Request.Context(), org))
		}
		c.Next()
	})
	r.GET("/tenant", h.Current)
	r.GET("/tenant/history", h.History)
	r.POST("/admin/organizations", h.CreateOrganization)
	r.PUT("/admin/organizations/:id/tier", h.ChangeTier)
	r.PUT("/admin/organizations/:id/domain", h.VerifyDomain)
	return r
}

func request(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCurrentTenant(t *testing.T) {
	org := &tenantSvc.Organization{ID: "o1", Slug: "acme", Subdomain: "acme", Tier: tenantSvc.TierPro}
	h := NewTenantHandler(&fakeOrganizationService{}, fakeCanonical{}, &fakeHistory{})

	w := request(setupRouter(h, org), http.MethodGet, "/tenant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"canonical_url":"https://acme.katauser.com"`)

	w = request(setupRouter(h, nil), http.MethodGet, "/tenant", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenantHistory(t *testing.T) {
	org := &tenantSvc.Organization{ID: "o1", Slug: "acme", Tier: tenantSvc.TierFree}
	hist := &fakeHistory{}
	h := NewTenantHandler(&fakeOrganizationService{}, fakeCanonical{}, hist)

	w := request(setupRouter(h, org), http.MethodGet, "/tenant/history?page=2&page_size=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Organization", hist.filter.EntityType)
	assert.Equal(t, "o1", hist.filter.EntityID)
	assert.Equal(t, 2, hist.filter.Page.Page)

	hist.err = errors.New("db down")
	w = request(setupRouter(h, org), http.MethodGet, "/tenant/history", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateOrganization(t *testing.T) {
	svc := &fakeOrganizationService{}
	r := setupRouter(NewTenantHandler(svc, fakeCanonical{}, &fakeHistory{}), nil)

	w := request(r, http.MethodPost, "/admin/organizations", gin.H{"name": "Acme", "slug": "acme"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "acme", svc.lastCreate.Slug)
	assert.Contains(t, w.Body.String(), `"canonical_url":"https://katauser.com/acme"`)

	w = request(r, http.MethodPost, "/admin/organizations", gin.H{"name": "Acme", "slug": "acme", "tier": "platinum"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(r, http.MethodPost, "/admin/organizations", gin.H{"name": "Acme"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangeTierAndDomain(t *testing.T) {
	org := &tenantSvc.Organization{ID: "o1", Slug: "acme", Subdomain: "acme", Tier: tenantSvc.TierFree}
	svc := &fakeOrganizationService{orgs: map[string]*tenantSvc.Organization{"o1": org}}
	r := setupRouter(NewTenantHandler(svc, fakeCanonical{}, &fakeHistory{}), nil)

	w := request(r, http.MethodPut, "/admin/organizations/o1/tier", gin.H{"tier": "enterprise"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"canonical_url":"https://acme.katauser.com"`, "enterprise without a verified domain")

	w = request(r, http.MethodPut, "/admin/organizations/o1/domain", gin.H{"domain": "acme.io"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"canonical_url":"https://acme.io"`)

	w = request(r, http.MethodPut, "/admin/organizations/missing/tier", gin.H{"tier": "pro"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangeTierWriteFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", fmt.Errorf("update: %w", tracking.ErrConcurrentModification), http.StatusConflict, `"code":3000`},
		{"audit", fmt.Errorf("update: %w", tracking.ErrAuditPersistence), http.StatusInternalServerError, `"code":3001`},
		{"other", errors.New("db down"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeOrganizationService{writeErr: tc.err}
			r := setupRouter(NewTenantHandler(svc, fakeCanonical{}, &fakeHistory{}), nil)

			w := request(r, http.MethodPut, "/admin/organizations/o1/tier", gin.H{"tier": "pro"})
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
		})
	}
}

func TestToBusinessError(t *testing.T) {
	be := toBusinessError(fmt.Errorf("wrap: %w", common.NewBusinessError(common.CodeForbidden, "")))
	assert.Equal(t, common.CodeForbidden, be.Code)
	assert.Equal(t, "无权限访问", be.Message)

	be = toBusinessError(fmt.Errorf("%w: %q", tenantSvc.ErrUnknownTier, "gold"))
	assert.Equal(t, common.CodeInvalidRequest, be.Code)

	be = toBusinessError(errors.New("db down"))
	assert.Equal(t, common.CodeInternalError, be.Code)
	assert.Equal(t, http.StatusInternalServerError, common.HTTPStatus(be.Code))
}
