package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auditpkg "feedbackhub/internal/audit"
	"feedbackhub/internal/auth"
	"feedbackhub/internal/tenant"
	"feedbackhub/internal/worker/tasks"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEnqueuer struct {
	payloads []tasks.AuditExportPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueAuditExport(_ context.Context, p tasks.AuditExportPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, p)
	return "task-1", nil
}

func ptr(s string) *string { return &s }

func setupStore(t *testing.T) *auditpkg.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditpkg.Record{}))
	return auditpkg.NewStore(db)
}

func newRouter(h *AuditHandler, orgID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := c.Request.Context()
		if orgID != "" {
			ctx = tenant.WithOrganization(ctx, &tenant.Organization{ID: orgID})
		}
		ctx = auth.WithActor(ctx, &auth.Actor{ID: "admin-1", OrganizationID: orgID})
		c.Request = c.Request.WithContext(ctx)
		c.Set(auth.ActorContextKey, &auth.Actor{ID: "admin-1", OrganizationID: orgID})
		c.Next()
	})
	g := r.Group("/api/v1/audit-trails")
	g.GET("", h.ListTrails)
	g.GET("/:id", h.GetTrail)
	g.GET("/:id/diff", h.GetDiff)
	g.POST("/export", h.Export)
	return r
}

func seed(t *testing.T, store *auditpkg.Store) (own, foreign *auditpkg.Record) {
	t.Helper()
	ctx := context.Background()
	own = &auditpkg.Record{
		EntityType:     "FeedbackPost",
		EntityID:       "p1",
		ActorID:        ptr("u1"),
		OrganizationID: ptr("o1"),
		Before:         auditpkg.Snapshot(map[string]any{"status": "open", "version": 1}),
		After:          auditpkg.Snapshot(map[string]any{"status": "planned", "version": 2}),
	}
	require.NoError(t, store.Append(ctx, own))
	require.NoError(t, store.Append(ctx, &auditpkg.Record{
		EntityType:     "FeedbackPost",
		EntityID:       "p1",
		OrganizationID: ptr("o1"),
		After:          auditpkg.Snapshot(map[string]any{"status": "open"}),
		CreatedAt:      time.Now().Add(-time.Hour).UTC(),
	}))
	foreign = &auditpkg.Record{
		EntityType:     "FeedbackPost",
		EntityID:       "p9",
		OrganizationID: ptr("o2"),
		After:          auditpkg.Snapshot(map[string]any{"status": "open"}),
	}
	require.NoError(t, store.Append(ctx, foreign))
	return own, foreign
}

func TestListTrailsScopedToOrganization(t *testing.T) {
	store := setupStore(t)
	seed(t, store)
	r := newRouter(NewAuditHandler(store, nil), "o1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit-trails?entity_type=FeedbackPost&page_size=10", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Items []auditpkg.Record `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Items, 2)
	for _, rec := range body.Data.Items {
		assert.Equal(t, "o1", *rec.OrganizationID)
	}
}

func TestListTrailsRequiresEntityTypeWithID(t *testing.T) {
	store := setupStore(t)
	r := newRouter(NewAuditHandler(store, nil), "o1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit-trails?entity_id=p1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTrailsWithoutTenant(t *testing.T) {
	store := setupStore(t)
	r := newRouter(NewAuditHandler(store, nil), "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit-trails", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTrailHidesOtherOrganizations(t *testing.T) {
	store := setupStore(t)
	own, foreign := seed(t, store)
	r := newRouter(NewAuditHandler(store, nil), "o1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit-trails/"+own.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"operation":"update"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit-trails/"+foreign.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit-trails/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDiff(t *testing.T) {
	store := setupStore(t)
	own, _ := seed(t, store)
	r := newRouter(NewAuditHandler(store, nil), "o1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit-trails/"+own.ID+"/diff", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `-  "status": "open",`)
	assert.Contains(t, w.Body.String(), `+  "status": "planned",`)
}

func TestExport(t *testing.T) {
	store := setupStore(t)

	w := httptest.NewRecorder()
	newRouter(NewAuditHandler(store, nil), "o1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/audit-trails/export", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	enq := &fakeEnqueuer{}
	w = httptest.NewRecorder()
	newRouter(NewAuditHandler(store, enq), "o1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/audit-trails/export", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, "admin-1", enq.payloads[0].RequestedBy)

	enq.err = asynq.ErrDuplicateTask
	w = httptest.NewRecorder()
	newRouter(NewAuditHandler(store, enq), "o1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/audit-trails/export", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}
